package advance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/approval"
	"github.com/frahmantamala/cash-advance/internal/auth"
	"github.com/frahmantamala/cash-advance/internal/core/events"
	"github.com/frahmantamala/cash-advance/internal/organization"
	"github.com/frahmantamala/cash-advance/internal/policy"
	"github.com/frahmantamala/cash-advance/pkg/clock"
	"github.com/frahmantamala/cash-advance/pkg/logger"
	"github.com/google/uuid"
)

// Repository persists the request aggregate. Update must fail with
// internal.ErrConcurrentModification when the stored version differs from
// req.Version, and bump req.Version on success.
type Repository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id string) (*Request, error)
	Update(ctx context.Context, req *Request) error
	ListByEmployee(ctx context.Context, email string, limit, offset int) ([]*Request, error)
	ListAwaiting(ctx context.Context, approverEmail string, limit, offset int) ([]*Request, error)
}

type ChainBuilder interface {
	Build(ctx context.Context, pos organization.Position) (approval.Chain, error)
}

type PositionLookup interface {
	Position(ctx context.Context, email string) (*organization.Position, error)
}

type PolicyGuard interface {
	Check(ctx context.Context, s policy.Submission) error
	VerifyDocuments(ctx context.Context, keys []string) error
	Quota(ctx context.Context, employeeEmail string) (policy.QuotaStatus, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// IdempotencyStore claims keys so a replayed disbursement is not recorded twice.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Options struct {
	FinanceRole    string
	IdempotencyTTL time.Duration
	NewID          func() string
}

type Service struct {
	repo        Repository
	positions   PositionLookup
	builder     ChainBuilder
	guard       PolicyGuard
	publisher   EventPublisher
	idempotency IdempotencyStore
	clock       clock.Clock
	logger      *slog.Logger
	opts        Options
}

func NewService(
	repo Repository,
	positions PositionLookup,
	builder ChainBuilder,
	guard PolicyGuard,
	publisher EventPublisher,
	idempotency IdempotencyStore,
	clk clock.Clock,
	logger *slog.Logger,
	opts Options,
) *Service {
	if opts.FinanceRole == "" {
		opts.FinanceRole = "finance"
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Service{
		repo:        repo,
		positions:   positions,
		builder:     builder,
		guard:       guard,
		publisher:   publisher,
		idempotency: idempotency,
		clock:       clk,
		logger:      logger,
		opts:        opts,
	}
}

// CreateRequest validates, runs the policy guard, builds the chain and
// persists the request at its first pending level. Nothing is stored on failure.
func (s *Service) CreateRequest(ctx context.Context, p auth.Principal, dto CreateRequestDTO) (*Request, error) {
	if err := dto.Validate(); err != nil {
		s.log(ctx).Warn("request validation failed", "error", err, "employee", p.Email)
		return nil, err
	}

	pos, err := s.positions.Position(ctx, p.Email)
	if err != nil {
		if errors.Is(err, organization.ErrPositionNotFound) {
			s.log(ctx).Warn("no organization position for employee", "employee", p.Email)
			return nil, internal.ErrChainResolution.WithMessage("employee has no position in the organization directory")
		}
		s.log(ctx).Error("failed to look up position", "error", err, "employee", p.Email)
		return nil, internal.NewInternalError("failed to look up employee position", err)
	}

	draft := dto.Draft()
	if err := s.guard.Check(ctx, policy.Submission{
		Reimbursement: draft.Mode == ModeReimbursement,
		RequestType:   draft.RequestType,
		EmployeeEmail: pos.EmployeeEmail,
		Amount:        draft.Amount,
		DocumentKeys:  Keys(draft.Documents),
	}); err != nil {
		return nil, err
	}

	chain, err := s.builder.Build(ctx, *pos)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	req, err := NewRequest(s.opts.NewID(), draft, *pos, chain, now)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, req); err != nil {
		s.log(ctx).Error("failed to create request", "error", err, "employee", pos.EmployeeEmail)
		return nil, internal.NewInternalError("failed to create request", err)
	}

	s.log(ctx).Info("request created",
		"request_id", req.ID,
		"employee", pos.EmployeeEmail,
		"mode", req.Mode,
		"amount", req.AmountRequested.String(),
		"status", req.Status.String(),
		"levels", len(chain.Steps))

	s.publish(ctx, events.EventTypeRequestCreated, events.Transition{
		RequestID: req.ID,
		Actor:     pos.EmployeeEmail,
		ToStatus:  req.Status.String(),
		Amount:    &req.AmountRequested,
	})
	return req, nil
}

// GetRequest returns the request when the caller may see it. Callers outside
// the request get NotFound so ids cannot be probed.
func (s *Service) GetRequest(ctx context.Context, p auth.Principal, id string) (*Request, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canView(p, req) {
		s.log(ctx).Warn("request hidden from caller", "request_id", id, "actor", p.Email)
		return nil, internal.ErrRequestNotFound
	}
	return req, nil
}

// CanView reports internal.ErrRequestNotFound when the caller may not see the request.
func (s *Service) CanView(ctx context.Context, p auth.Principal, id string) error {
	_, err := s.GetRequest(ctx, p, id)
	return err
}

func (s *Service) canView(p auth.Principal, req *Request) bool {
	return req.Involves(p.Email) || p.HasRole(s.opts.FinanceRole)
}

func (s *Service) ListMyRequests(ctx context.Context, p auth.Principal, limit, offset int) ([]*Request, error) {
	reqs, err := s.repo.ListByEmployee(ctx, p.Email, limit, offset)
	if err != nil {
		s.log(ctx).Error("failed to list requests", "error", err, "employee", p.Email)
		return nil, internal.NewInternalError("failed to list requests", err)
	}
	return reqs, nil
}

// ListPendingApprovals returns requests whose active step belongs to the caller.
func (s *Service) ListPendingApprovals(ctx context.Context, p auth.Principal, limit, offset int) ([]*Request, error) {
	reqs, err := s.repo.ListAwaiting(ctx, p.Email, limit, offset)
	if err != nil {
		s.log(ctx).Error("failed to list pending approvals", "error", err, "approver", p.Email)
		return nil, internal.NewInternalError("failed to list pending approvals", err)
	}
	out := make([]*Request, 0, len(reqs))
	for _, r := range reqs {
		if step := r.ActiveStep(); step != nil && strings.EqualFold(step.Approver.Email, p.Email) {
			out = append(out, r)
		}
	}
	return out, nil
}

// SubmitApprovalDecision records the caller's decision on the primary chain.
func (s *Service) SubmitApprovalDecision(ctx context.Context, p auth.Principal, id string, dto DecisionDTO) (*Request, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	var outcome approval.Outcome
	var from string
	req, err := s.mutate(ctx, id, func(req *Request, now time.Time) error {
		from = req.Status.String()
		out, err := req.Decide(p.Email, dto.Level, approval.Decision(dto.Decision), dto.Comments, dto.ApprovedAmount, now)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if err != nil {
		s.log(ctx).Warn("approval decision refused", "request_id", id, "actor", p.Email, "error", err)
		return nil, err
	}

	t := events.Transition{
		RequestID:  req.ID,
		Actor:      p.Email,
		FromStatus: from,
		ToStatus:   req.Status.String(),
		Level:      outcome.Step.Level,
		Comments:   outcome.Step.Comments,
	}
	switch {
	case outcome.Rejected:
		s.log(ctx).Info("request denied", "request_id", req.ID, "actor", p.Email, "level", outcome.Step.Level)
		s.publish(ctx, events.EventTypeRequestDenied, t)
	case outcome.Final:
		approved := req.AmountApproved.Decimal
		t.Amount = &approved
		s.log(ctx).Info("request approved", "request_id", req.ID, "actor", p.Email, "amount_approved", approved.String())
		s.publish(ctx, events.EventTypeRequestApproved, t)
	default:
		s.log(ctx).Info("approval step approved", "request_id", req.ID, "actor", p.Email, "level", outcome.Step.Level, "status", req.Status.String())
		s.publish(ctx, events.EventTypeStepApproved, t)
	}
	return req, nil
}

// RecordDisbursement appends a disbursement. A non-empty idempotencyKey that
// was already used for this request is refused with DuplicateSubmission.
func (s *Service) RecordDisbursement(ctx context.Context, p auth.Principal, id string, dto DisbursementDTO, idempotencyKey string) (*Request, Ledger, error) {
	if !p.HasRole(s.opts.FinanceRole) {
		s.log(ctx).Warn("disbursement refused: caller lacks finance role", "request_id", id, "actor", p.Email)
		return nil, Ledger{}, internal.ErrInsufficientRole
	}
	if err := dto.Validate(); err != nil {
		return nil, Ledger{}, err
	}

	claimKey := ""
	if idempotencyKey != "" && s.idempotency != nil {
		claimKey = "disbursement:" + id + ":" + idempotencyKey
		ok, err := s.idempotency.Claim(ctx, claimKey, s.opts.IdempotencyTTL)
		if err != nil {
			s.log(ctx).Error("idempotency claim failed", "error", err, "request_id", id)
			return nil, Ledger{}, internal.NewInternalError("failed to check idempotency key", err)
		}
		if !ok {
			s.log(ctx).Warn("duplicate disbursement submission", "request_id", id, "actor", p.Email)
			return nil, Ledger{}, internal.ErrDuplicateSubmission
		}
	}

	var event Disbursement
	var from string
	req, err := s.mutate(ctx, id, func(req *Request, now time.Time) error {
		from = req.Status.String()
		ev, err := req.RecordDisbursement(s.opts.NewID(), dto.Amount, dto.Notes, p.Email, now)
		if err != nil {
			return err
		}
		event = ev
		return nil
	})
	if err != nil {
		if claimKey != "" {
			if rerr := s.idempotency.Release(context.WithoutCancel(ctx), claimKey); rerr != nil {
				s.log(ctx).Error("failed to release idempotency key", "error", rerr, "request_id", id)
			}
		}
		s.log(ctx).Warn("disbursement refused", "request_id", id, "actor", p.Email, "amount", dto.Amount.String(), "error", err)
		return nil, Ledger{}, err
	}

	ledger := req.Ledger()
	s.log(ctx).Info("disbursement recorded",
		"request_id", req.ID,
		"actor", p.Email,
		"amount", event.Amount.String(),
		"total_disbursed", ledger.TotalDisbursed.String(),
		"remaining", ledger.RemainingBalance.String())

	amount := event.Amount
	s.publish(ctx, events.EventTypeDisbursementRecorded, events.Transition{
		RequestID:  req.ID,
		Actor:      p.Email,
		FromStatus: from,
		ToStatus:   req.Status.String(),
		Comments:   event.Notes,
		Amount:     &amount,
	})
	if req.Status.Is(StateFullyDisbursed) {
		total := ledger.TotalDisbursed
		s.publish(ctx, events.EventTypeRequestFullyDisbursed, events.Transition{
			RequestID:  req.ID,
			Actor:      p.Email,
			FromStatus: from,
			ToStatus:   req.Status.String(),
			Amount:     &total,
		})
	}
	return req, ledger, nil
}

func (s *Service) GetLedger(ctx context.Context, p auth.Principal, id string) (Ledger, error) {
	req, err := s.GetRequest(ctx, p, id)
	if err != nil {
		return Ledger{}, err
	}
	return req.Ledger(), nil
}

// SubmitJustification attaches spending evidence. Only the requesting
// employee may submit, and only after full disbursement or a rejection.
func (s *Service) SubmitJustification(ctx context.Context, p auth.Principal, id string, dto JustificationDTO) (*Request, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	draft := dto.Draft()

	var from string
	var submitted *Justification
	req, err := s.mutate(ctx, id, func(req *Request, now time.Time) error {
		from = req.Status.String()
		j, err := req.SubmitJustification(p.Email, draft, now)
		if err != nil {
			return err
		}
		submitted = j
		return nil
	}, func(ctx context.Context) error {
		return s.guard.VerifyDocuments(ctx, Keys(draft.Documents))
	})
	if err != nil {
		s.log(ctx).Warn("justification refused", "request_id", id, "actor", p.Email, "error", err)
		return nil, err
	}

	if submitted.Unbalanced {
		s.log(ctx).Warn("justification is unbalanced",
			"request_id", req.ID,
			"amount_spent", submitted.AmountSpent.String(),
			"balance_returned", submitted.BalanceReturned.String(),
			"total_disbursed", req.TotalDisbursed().String())
	}
	s.log(ctx).Info("justification submitted", "request_id", req.ID, "revision", submitted.Revision, "status", req.Status.String())

	spent := submitted.AmountSpent
	s.publish(ctx, events.EventTypeJustificationSubmitted, events.Transition{
		RequestID:  req.ID,
		Actor:      p.Email,
		FromStatus: from,
		ToStatus:   req.Status.String(),
		Amount:     &spent,
	})
	return req, nil
}

func (s *Service) SubmitJustificationDecision(ctx context.Context, p auth.Principal, id string, dto DecisionDTO) (*Request, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if dto.ApprovedAmount != nil {
		return nil, internal.NewValidationFieldError("approved_amount", "approved amount does not apply to justification decisions", internal.ErrCodeValidationFailed)
	}

	var outcome approval.Outcome
	var from string
	req, err := s.mutate(ctx, id, func(req *Request, now time.Time) error {
		from = req.Status.String()
		out, err := req.DecideJustification(p.Email, dto.Level, approval.Decision(dto.Decision), dto.Comments, now)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if err != nil {
		s.log(ctx).Warn("justification decision refused", "request_id", id, "actor", p.Email, "error", err)
		return nil, err
	}

	t := events.Transition{
		RequestID:  req.ID,
		Actor:      p.Email,
		FromStatus: from,
		ToStatus:   req.Status.String(),
		Level:      outcome.Step.Level,
		Comments:   outcome.Step.Comments,
	}
	switch {
	case outcome.Rejected:
		s.log(ctx).Info("justification rejected", "request_id", req.ID, "actor", p.Email, "level", outcome.Step.Level)
		s.publish(ctx, events.EventTypeJustificationRejected, t)
	case outcome.Final:
		s.log(ctx).Info("request completed", "request_id", req.ID, "actor", p.Email)
		s.publish(ctx, events.EventTypeRequestCompleted, t)
	default:
		s.publish(ctx, events.EventTypeJustificationStep, t)
	}
	return req, nil
}

// Quota reports the caller's reimbursement usage for the current month.
func (s *Service) Quota(ctx context.Context, p auth.Principal) (policy.QuotaStatus, error) {
	return s.guard.Quota(ctx, p.Email)
}

func (s *Service) load(ctx context.Context, id string) (*Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, internal.ErrRequestNotFound
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, internal.ErrRequestNotFound) {
			return nil, internal.ErrRequestNotFound
		}
		s.log(ctx).Error("failed to load request", "error", err, "request_id", id)
		return nil, internal.NewInternalError("failed to load request", err)
	}
	return req, nil
}

// mutate loads the aggregate, applies fn, re-checks invariants and saves with
// the version read at load time. checks run after fn succeeds and before saving.
func (s *Service) mutate(ctx context.Context, id string, fn func(req *Request, now time.Time) error, checks ...func(ctx context.Context) error) (*Request, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(req, s.clock.Now()); err != nil {
		return nil, err
	}
	for _, check := range checks {
		if err := check(ctx); err != nil {
			return nil, err
		}
	}
	if err := req.CheckInvariants(); err != nil {
		s.log(ctx).Error("request invariant violated", "error", err, "request_id", id)
		return nil, err
	}

	if err := s.repo.Update(ctx, req); err != nil {
		if errors.Is(err, internal.ErrConcurrentModification) {
			s.log(ctx).Warn("concurrent modification", "request_id", id)
			return nil, internal.ErrConcurrentModification
		}
		s.log(ctx).Error("failed to save request", "error", err, "request_id", id)
		return nil, internal.NewInternalError("failed to save request", err)
	}
	return req, nil
}

// log prefers the request-scoped logger so trace and actor attributes carry through.
func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, s.logger)
}

func (s *Service) publish(ctx context.Context, eventType string, t events.Transition) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewWorkflowEvent(eventType, t, s.clock.Now())); err != nil {
		s.log(ctx).Error("failed to publish event", "error", err, "event_type", eventType, "request_id", t.RequestID)
	}
}
