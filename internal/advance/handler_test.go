package advance_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/advance"
	"github.com/frahmantamala/cash-advance/internal/auth"
	"github.com/frahmantamala/cash-advance/internal/policy"
)

type stubService struct {
	err            error
	request        *advance.Request
	lastID         string
	lastKey        string
	lastDecision   advance.DecisionDTO
	lastPrincipal  auth.Principal
	disbursementFn func(dto advance.DisbursementDTO) advance.Ledger
}

func (s *stubService) CreateRequest(_ context.Context, p auth.Principal, _ advance.CreateRequestDTO) (*advance.Request, error) {
	s.lastPrincipal = p
	return s.request, s.err
}

func (s *stubService) GetRequest(_ context.Context, _ auth.Principal, id string) (*advance.Request, error) {
	s.lastID = id
	return s.request, s.err
}

func (s *stubService) ListMyRequests(_ context.Context, _ auth.Principal, _, _ int) ([]*advance.Request, error) {
	return []*advance.Request{s.request}, s.err
}

func (s *stubService) ListPendingApprovals(_ context.Context, _ auth.Principal, _, _ int) ([]*advance.Request, error) {
	return []*advance.Request{}, s.err
}

func (s *stubService) SubmitApprovalDecision(_ context.Context, _ auth.Principal, id string, dto advance.DecisionDTO) (*advance.Request, error) {
	s.lastID, s.lastDecision = id, dto
	return s.request, s.err
}

func (s *stubService) RecordDisbursement(_ context.Context, _ auth.Principal, id string, dto advance.DisbursementDTO, key string) (*advance.Request, advance.Ledger, error) {
	s.lastID, s.lastKey = id, key
	if s.err != nil {
		return nil, advance.Ledger{}, s.err
	}
	return s.request, s.disbursementFn(dto), nil
}

func (s *stubService) GetLedger(_ context.Context, _ auth.Principal, _ string) (advance.Ledger, error) {
	return advance.Ledger{}, s.err
}

func (s *stubService) SubmitJustification(_ context.Context, _ auth.Principal, _ string, _ advance.JustificationDTO) (*advance.Request, error) {
	return s.request, s.err
}

func (s *stubService) SubmitJustificationDecision(_ context.Context, _ auth.Principal, _ string, _ advance.DecisionDTO) (*advance.Request, error) {
	return s.request, s.err
}

func (s *stubService) Quota(_ context.Context, _ auth.Principal) (policy.QuotaStatus, error) {
	return policy.QuotaStatus{Count: 2, Limit: 5, Remaining: 3}, s.err
}

func withPrincipal(p auth.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

func routes(h *advance.Handler, p *auth.Principal) http.Handler {
	r := chi.NewRouter()
	if p != nil {
		r.Use(withPrincipal(*p))
	}
	r.Post("/requests", h.CreateRequest)
	r.Get("/requests", h.ListMyRequests)
	r.Get("/requests/{id}", h.GetRequest)
	r.Post("/requests/{id}/decisions", h.SubmitDecision)
	r.Post("/requests/{id}/disbursements", h.RecordDisbursement)
	r.Get("/reimbursements/quota", h.GetQuota)
	return r
}

func errorBody(rec *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]map[string]interface{}
	Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	return body["error"]
}

var _ = Describe("Handler", func() {
	var (
		svc     *stubService
		handler *advance.Handler
		router  http.Handler
		rec     *httptest.ResponseRecorder
		caller  auth.Principal
	)

	BeforeEach(func() {
		svc = &stubService{request: &advance.Request{ID: "8c1f4f1e-3b7a-4b8e-9a51-2f7c0d1e5a01"}}
		handler = advance.NewHandler(svc)
		caller = auth.Principal{Email: employeeEmail, Roles: []string{"employee"}}
		router = routes(handler, &caller)
		rec = httptest.NewRecorder()
	})

	It("should return 201 with the created request", func() {
		body := []byte(`{"mode":"advance","request_type":"travel","purpose":"trip","amount_requested":"1500.50"}`)
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/requests", bytes.NewReader(body)))

		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(svc.lastPrincipal.Email).To(Equal(employeeEmail))
		Expect(rec.Body.String()).To(ContainSubstring(svc.request.ID))
	})

	It("should reject unknown fields in the body", func() {
		body := []byte(`{"mode":"advance","employee_email":"someone@else.test"}`)
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/requests", bytes.NewReader(body)))

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(errorBody(rec)["code"]).To(Equal(string(internal.ErrCodeValidationFailed)))
	})

	It("should map domain errors to their status and code", func() {
		svc.err = internal.ErrMonthlyLimitExceeded
		body := []byte(`{"mode":"reimbursement","request_type":"meals","purpose":"lunch","amount_requested":"10"}`)
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/requests", bytes.NewReader(body)))

		Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
		Expect(errorBody(rec)["code"]).To(Equal(string(internal.ErrCodeMonthlyLimitExceeded)))
	})

	It("should pass the path id and decision through", func() {
		body := []byte(`{"decision":"approved","level":2}`)
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/requests/abc/decisions", bytes.NewReader(body)))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(svc.lastID).To(Equal("abc"))
		Expect(svc.lastDecision.Level).To(Equal(2))
	})

	It("should forward the idempotency key on disbursement", func() {
		svc.disbursementFn = func(dto advance.DisbursementDTO) advance.Ledger {
			return advance.Ledger{TotalDisbursed: dto.Amount}
		}
		req := httptest.NewRequest(http.MethodPost, "/requests/abc/disbursements", bytes.NewReader([]byte(`{"amount":"250.00"}`)))
		req.Header.Set(advance.IdempotencyHeader, " k-42 ")
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(svc.lastKey).To(Equal("k-42"))
		Expect(rec.Body.String()).To(ContainSubstring(`"total_disbursed":"250"`))
	})

	It("should report 404 for hidden requests", func() {
		svc.err = internal.ErrRequestNotFound
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/requests/abc", nil))
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should return quota usage", func() {
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reimbursements/quota", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"remaining":3`))
	})

	It("should answer 401 without a principal", func() {
		router = routes(handler, nil)
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/requests", nil))
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})
})
