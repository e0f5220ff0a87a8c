package advance_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/advance"
	"github.com/frahmantamala/cash-advance/internal/approval"
	"github.com/frahmantamala/cash-advance/internal/auth"
	"github.com/frahmantamala/cash-advance/internal/core/events"
	"github.com/frahmantamala/cash-advance/internal/idempotency"
	"github.com/frahmantamala/cash-advance/internal/organization"
	"github.com/frahmantamala/cash-advance/internal/policy"
	"github.com/frahmantamala/cash-advance/pkg/clock"
	"github.com/frahmantamala/cash-advance/pkg/logger"
)

type mockRepository struct {
	mu       sync.Mutex
	requests map[string]*advance.Request
	updates  int
}

func newMockRepository() *mockRepository {
	return &mockRepository{requests: make(map[string]*advance.Request)}
}

func cloneRequest(r *advance.Request) *advance.Request {
	c := *r
	c.ApprovalChain = r.ApprovalChain.Clone()
	c.JustificationChain = r.JustificationChain.Clone()
	c.Disbursements = append([]advance.Disbursement{}, r.Disbursements...)
	c.Documents = append([]advance.Document{}, r.Documents...)
	if r.Justification != nil {
		j := *r.Justification
		c.Justification = &j
	}
	return &c
}

func (m *mockRepository) Create(_ context.Context, req *advance.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = cloneRequest(req)
	return nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*advance.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, internal.ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

func (m *mockRepository) Update(_ context.Context, req *advance.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[req.ID]
	if !ok {
		return internal.ErrRequestNotFound
	}
	if stored.Version != req.Version {
		return internal.ErrConcurrentModification
	}
	req.Version++
	m.requests[req.ID] = cloneRequest(req)
	m.updates++
	return nil
}

func (m *mockRepository) all() []*advance.Request {
	out := make([]*advance.Request, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *mockRepository) ListByEmployee(_ context.Context, email string, _, _ int) ([]*advance.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*advance.Request
	for _, r := range m.all() {
		if r.IsOwner(email) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepository) ListAwaiting(_ context.Context, email string, _, _ int) ([]*advance.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*advance.Request
	for _, r := range m.all() {
		if s := r.ActiveStep(); s != nil && strings.EqualFold(s.Approver.Email, email) {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubDirectory struct {
	departments map[string]*organization.Department
	positions   map[string]*organization.Position
}

func (d *stubDirectory) Department(_ context.Context, code string) (*organization.Department, error) {
	dept, ok := d.departments[code]
	if !ok {
		return nil, organization.ErrDepartmentNotFound
	}
	return dept, nil
}

func (d *stubDirectory) Position(_ context.Context, email string) (*organization.Position, error) {
	p, ok := d.positions[strings.ToLower(email)]
	if !ok {
		return nil, organization.ErrPositionNotFound
	}
	return p, nil
}

type stubCounter struct {
	count int
}

func (c *stubCounter) CountReimbursements(_ context.Context, _ string, _, _ time.Time) (int, error) {
	return c.count, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.WorkflowEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if we, ok := e.(*events.WorkflowEvent); ok {
		p.events = append(p.events, we)
	}
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func principal(email string, roles ...string) auth.Principal {
	return auth.Principal{Email: email, Roles: roles}
}

var _ = Describe("Service", func() {
	var (
		repo      *mockRepository
		dir       *stubDirectory
		counter   *stubCounter
		publisher *recordingPublisher
		clk       *clock.Fixed
		service   *advance.Service
		ctx       context.Context

		employee = principal(employeeEmail, "employee")
		finance  = principal(financeEmail, "finance")
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

		eng := &organization.Department{Code: "ENG", Name: "Engineering", Approvers: map[organization.Tier]organization.Approver{}}
		for _, a := range approvers() {
			eng.Approvers[a.Role] = a
		}
		dir = &stubDirectory{
			departments: map[string]*organization.Department{"ENG": eng},
			positions: map[string]*organization.Position{
				employeeEmail: {EmployeeEmail: employeeEmail, EmployeeName: "Emp", DepartmentCode: "ENG"},
				"orphan@corp.test": {EmployeeEmail: "orphan@corp.test", DepartmentCode: "GONE"},
			},
		}

		repo = newMockRepository()
		counter = &stubCounter{}
		publisher = &recordingPublisher{}
		clk = clock.NewFixed(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))

		guard := policy.NewGuard(internal.DefaultPolicyConfig(), counter, nil, clk, logger)
		builder := approval.NewChainBuilder(dir, logger)
		service = advance.NewService(repo, dir, builder, guard, publisher, idempotency.NewMemoryStore(), clk, logger, advance.Options{})
	})

	createAdvance := func(amount string) *advance.Request {
		req, err := service.CreateRequest(ctx, employee, advance.CreateRequestDTO{
			Mode:            "advance",
			RequestType:     "travel",
			Purpose:         "Client visit",
			AmountRequested: dec(amount),
			Documents:       []advance.DocumentDTO{{Key: "docs/itinerary.pdf"}},
		})
		Expect(err).NotTo(HaveOccurred())
		return req
	}

	approveThrough := func(id string) {
		for _, a := range approvers() {
			_, err := service.SubmitApprovalDecision(ctx, principal(a.Email), id, advance.DecisionDTO{Decision: "approved"})
			Expect(err).NotTo(HaveOccurred())
		}
	}

	Describe("CreateRequest", func() {
		It("should persist the request at the supervisor level", func() {
			req := createAdvance("500000")
			Expect(req.Status.String()).To(Equal("pending_supervisor"))
			Expect(req.ApprovalChain.Steps).To(HaveLen(4))

			stored, err := repo.GetByID(ctx, req.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.AmountRequested.Equal(dec("500000"))).To(BeTrue())
			Expect(publisher.types()).To(Equal([]string{events.EventTypeRequestCreated}))
		})

		It("should refuse a reimbursement over the ceiling and store nothing", func() {
			_, err := service.CreateRequest(ctx, employee, advance.CreateRequestDTO{
				Mode:            "reimbursement",
				RequestType:     "meals",
				Purpose:         "Team lunch",
				AmountRequested: dec("150000"),
				Documents:       []advance.DocumentDTO{{Key: "docs/receipt.jpg"}},
			})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeAmountCeilingExceeded))
			Expect(repo.requests).To(BeEmpty())
		})

		It("should refuse a reimbursement once the monthly limit is reached", func() {
			counter.count = 5
			_, err := service.CreateRequest(ctx, employee, advance.CreateRequestDTO{
				Mode:            "reimbursement",
				RequestType:     "meals",
				Purpose:         "Team lunch",
				AmountRequested: dec("50000"),
				Documents:       []advance.DocumentDTO{{Key: "docs/receipt.jpg"}},
			})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeMonthlyLimitExceeded))
			Expect(repo.requests).To(BeEmpty())
		})

		It("should refuse a reimbursement without documents", func() {
			_, err := service.CreateRequest(ctx, employee, advance.CreateRequestDTO{
				Mode:            "reimbursement",
				RequestType:     "meals",
				Purpose:         "Team lunch",
				AmountRequested: dec("50000"),
			})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeMissingRequiredDocuments))
		})

		It("should report chain resolution failures", func() {
			_, err := service.CreateRequest(ctx, principal("orphan@corp.test"), advance.CreateRequestDTO{
				Mode:            "advance",
				RequestType:     "supplies",
				Purpose:         "Stationery",
				AmountRequested: dec("1000"),
			})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeChainResolutionFailed))

			_, err = service.CreateRequest(ctx, principal("nobody@corp.test"), advance.CreateRequestDTO{
				Mode:            "advance",
				RequestType:     "supplies",
				Purpose:         "Stationery",
				AmountRequested: dec("1000"),
			})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeChainResolutionFailed))
		})

		It("should reject malformed input", func() {
			_, err := service.CreateRequest(ctx, employee, advance.CreateRequestDTO{
				Mode:            "loan",
				Purpose:         "x",
				AmountRequested: dec("0"),
			})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeValidationFailed))
		})
	})

	Describe("full advance lifecycle", func() {
		It("should run from creation to completion", func() {
			req := createAdvance("500000")
			approveThrough(req.ID)

			_, ledger, err := service.RecordDisbursement(ctx, finance, req.ID, advance.DisbursementDTO{Amount: dec("200000")}, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(ledger.Status.Is(advance.StatePartiallyDisbursed)).To(BeTrue())
			Expect(ledger.RemainingBalance.Equal(dec("300000"))).To(BeTrue())

			_, ledger, err = service.RecordDisbursement(ctx, finance, req.ID, advance.DisbursementDTO{Amount: dec("300000")}, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(ledger.Status.Is(advance.StateFullyDisbursed)).To(BeTrue())

			got, err := service.SubmitJustification(ctx, employee, req.ID, advance.JustificationDTO{
				AmountSpent:     dec("480000"),
				BalanceReturned: dec("20000"),
				Details:         "Flights, hotel and taxis",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status.String()).To(Equal("justification_pending_supervisor"))

			for _, a := range approvers() {
				got, err = service.SubmitJustificationDecision(ctx, principal(a.Email), req.ID, advance.DecisionDTO{Decision: "approved"})
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(got.Status.Is(advance.StateCompleted)).To(BeTrue())

			Expect(publisher.types()).To(Equal([]string{
				events.EventTypeRequestCreated,
				events.EventTypeStepApproved,
				events.EventTypeStepApproved,
				events.EventTypeStepApproved,
				events.EventTypeRequestApproved,
				events.EventTypeDisbursementRecorded,
				events.EventTypeDisbursementRecorded,
				events.EventTypeRequestFullyDisbursed,
				events.EventTypeJustificationSubmitted,
				events.EventTypeJustificationStep,
				events.EventTypeJustificationStep,
				events.EventTypeJustificationStep,
				events.EventTypeRequestCompleted,
			}))
		})
	})

	Describe("SubmitApprovalDecision", func() {
		It("should deny the request and refuse later decisions", func() {
			req := createAdvance("500000")
			_, err := service.SubmitApprovalDecision(ctx, principal(supervisorEmail), req.ID, advance.DecisionDTO{Decision: "approved", Level: 1})
			Expect(err).NotTo(HaveOccurred())

			got, err := service.SubmitApprovalDecision(ctx, principal(headEmail), req.ID, advance.DecisionDTO{Decision: "rejected", Comments: "over budget", Level: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status.Is(advance.StateDenied)).To(BeTrue())

			_, err = service.SubmitApprovalDecision(ctx, principal(hobEmail), req.ID, advance.DecisionDTO{Decision: "approved"})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeInvalidStateTransition))
		})

		It("should require comments when rejecting", func() {
			req := createAdvance("500000")
			_, err := service.SubmitApprovalDecision(ctx, principal(supervisorEmail), req.ID, advance.DecisionDTO{Decision: "rejected"})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeValidationFailed))
		})

		It("should refuse a stale level", func() {
			req := createAdvance("500000")
			_, err := service.SubmitApprovalDecision(ctx, principal(supervisorEmail), req.ID, advance.DecisionDTO{Decision: "approved", Level: 1})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.SubmitApprovalDecision(ctx, principal(headEmail), req.ID, advance.DecisionDTO{Decision: "approved", Level: 1})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeInvalidStateTransition))
		})

		It("should log through the request-scoped logger", func() {
			req := createAdvance("500000")

			var buf bytes.Buffer
			scoped := slog.New(slog.NewJSONHandler(&buf, nil)).With("trace_id", "t-1", "actor", financeEmail)
			reqCtx := logger.Into(ctx, scoped)

			_, err := service.SubmitApprovalDecision(reqCtx, principal(financeEmail), req.ID, advance.DecisionDTO{Decision: "approved"})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeNotActiveApprover))
			Expect(buf.String()).To(ContainSubstring(`"msg":"approval decision refused"`))
			Expect(buf.String()).To(ContainSubstring(`"trace_id":"t-1"`))
		})

		It("should let only one of two racing decisions through", func() {
			req := createAdvance("500000")

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, errs[i] = service.SubmitApprovalDecision(ctx, principal(supervisorEmail), req.ID, advance.DecisionDTO{Decision: "approved", Level: 1})
				}(i)
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				Expect(codeOf(err)).To(Or(
					Equal(internal.ErrCodeConcurrentModification),
					Equal(internal.ErrCodeInvalidStateTransition),
					Equal(internal.ErrCodeNotActiveApprover),
				))
			}
			Expect(succeeded).To(Equal(1))

			stored, _ := repo.GetByID(ctx, req.ID)
			Expect(stored.Status.Level).To(Equal(2))
		})
	})

	Describe("RecordDisbursement", func() {
		var req *advance.Request

		BeforeEach(func() {
			req = createAdvance("500000")
			approveThrough(req.ID)
		})

		It("should require the finance role", func() {
			_, _, err := service.RecordDisbursement(ctx, employee, req.ID, advance.DisbursementDTO{Amount: dec("100")}, "")
			Expect(codeOf(err)).To(Equal(internal.ErrCodeInsufficientRole))
		})

		It("should refuse a replayed idempotency key", func() {
			_, _, err := service.RecordDisbursement(ctx, finance, req.ID, advance.DisbursementDTO{Amount: dec("100000")}, "key-1")
			Expect(err).NotTo(HaveOccurred())

			_, _, err = service.RecordDisbursement(ctx, finance, req.ID, advance.DisbursementDTO{Amount: dec("100000")}, "key-1")
			Expect(codeOf(err)).To(Equal(internal.ErrCodeDuplicateSubmission))

			ledger, err := service.GetLedger(ctx, finance, req.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ledger.Disbursements).To(HaveLen(1))
		})

		It("should release the key when the disbursement is refused", func() {
			_, _, err := service.RecordDisbursement(ctx, finance, req.ID, advance.DisbursementDTO{Amount: dec("900000")}, "key-2")
			Expect(codeOf(err)).To(Equal(internal.ErrCodeExceedsRemainingBalance))

			_, _, err = service.RecordDisbursement(ctx, finance, req.ID, advance.DisbursementDTO{Amount: dec("100000")}, "key-2")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should never overdraw under concurrent disbursements", func() {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					for attempt := 0; attempt < 20; attempt++ {
						_, _, err := service.RecordDisbursement(ctx, finance, req.ID, advance.DisbursementDTO{Amount: dec("100000")}, "")
						if codeOf(err) != internal.ErrCodeConcurrentModification {
							return
						}
					}
				}()
			}
			wg.Wait()

			ledger, err := service.GetLedger(ctx, finance, req.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ledger.TotalDisbursed.LessThanOrEqual(dec("500000"))).To(BeTrue())
			Expect(ledger.TotalDisbursed.Add(ledger.RemainingBalance).Equal(ledger.AmountApproved)).To(BeTrue())
			Expect(ledger.Disbursements).To(HaveLen(5))
			Expect(ledger.Status.Is(advance.StateFullyDisbursed)).To(BeTrue())
		})
	})

	Describe("SubmitJustification", func() {
		It("should refuse justification before full disbursement", func() {
			req := createAdvance("500000")
			approveThrough(req.ID)
			_, err := service.SubmitJustification(ctx, employee, req.ID, advance.JustificationDTO{
				AmountSpent: decimal.Zero,
				Details:     "nothing yet",
			})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeInvalidStateTransition))
		})

		It("should refuse decisions that carry an approved amount", func() {
			req := createAdvance("500000")
			amount := dec("1")
			_, err := service.SubmitJustificationDecision(ctx, principal(supervisorEmail), req.ID, advance.DecisionDTO{Decision: "approved", ApprovedAmount: &amount})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeValidationFailed))
		})
	})

	Describe("visibility", func() {
		It("should hide requests from uninvolved callers", func() {
			req := createAdvance("500000")

			_, err := service.GetRequest(ctx, principal("stranger@corp.test"), req.ID)
			Expect(codeOf(err)).To(Equal(internal.ErrCodeRequestNotFound))

			_, err = service.GetRequest(ctx, principal(hobEmail), req.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(service.CanView(ctx, principal("auditor@corp.test", "finance"), req.ID)).To(Succeed())
		})

		It("should treat malformed ids as not found", func() {
			_, err := service.GetRequest(ctx, employee, "not-a-uuid")
			Expect(codeOf(err)).To(Equal(internal.ErrCodeRequestNotFound))
		})
	})

	Describe("ListPendingApprovals", func() {
		It("should list only requests waiting on the caller", func() {
			first := createAdvance("100000")
			clk.Advance(time.Minute)
			createAdvance("200000")

			_, err := service.SubmitApprovalDecision(ctx, principal(supervisorEmail), first.ID, advance.DecisionDTO{Decision: "approved"})
			Expect(err).NotTo(HaveOccurred())

			sup, err := service.ListPendingApprovals(ctx, principal(supervisorEmail), 20, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(sup).To(HaveLen(1))

			head, err := service.ListPendingApprovals(ctx, principal(headEmail), 20, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(head).To(HaveLen(1))
			Expect(head[0].ID).To(Equal(first.ID))
		})
	})

	Describe("events", func() {
		It("should deliver committed transitions through the event bus", func() {
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
			bus := events.NewEventBus(logger)

			var mu sync.Mutex
			var seen []string
			bus.SubscribeAll(events.WorkflowEventTypes, func(_ context.Context, e events.Event) error {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, e.EventType())
				return nil
			})

			guard := policy.NewGuard(internal.DefaultPolicyConfig(), counter, nil, clk, logger)
			svc := advance.NewService(repo, dir, approval.NewChainBuilder(dir, logger), guard, bus, nil, clk, logger, advance.Options{})
			_, err := svc.CreateRequest(ctx, employee, advance.CreateRequestDTO{
				Mode:            "advance",
				RequestType:     "supplies",
				Purpose:         "Stationery",
				AmountRequested: dec("1000"),
			})
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string(nil), seen...)
			}).Should(ContainElement(events.EventTypeRequestCreated))
			Expect(bus.Drain(ctx)).To(Succeed())
		})
	})
})
