package advance

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/auth"
	"github.com/frahmantamala/cash-advance/internal/policy"
	"github.com/frahmantamala/cash-advance/internal/transport"
	"github.com/frahmantamala/cash-advance/pkg/logger"
	"github.com/go-chi/chi"
)

const IdempotencyHeader = "Idempotency-Key"

type ServiceAPI interface {
	CreateRequest(ctx context.Context, p auth.Principal, dto CreateRequestDTO) (*Request, error)
	GetRequest(ctx context.Context, p auth.Principal, id string) (*Request, error)
	ListMyRequests(ctx context.Context, p auth.Principal, limit, offset int) ([]*Request, error)
	ListPendingApprovals(ctx context.Context, p auth.Principal, limit, offset int) ([]*Request, error)
	SubmitApprovalDecision(ctx context.Context, p auth.Principal, id string, dto DecisionDTO) (*Request, error)
	RecordDisbursement(ctx context.Context, p auth.Principal, id string, dto DisbursementDTO, idempotencyKey string) (*Request, Ledger, error)
	GetLedger(ctx context.Context, p auth.Principal, id string) (Ledger, error)
	SubmitJustification(ctx context.Context, p auth.Principal, id string, dto JustificationDTO) (*Request, error)
	SubmitJustificationDecision(ctx context.Context, p auth.Principal, id string, dto DecisionDTO) (*Request, error)
	Quota(ctx context.Context, p auth.Principal) (policy.QuotaStatus, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request, op string) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.Logger.Error(op + ": principal not found in context")
		h.HandleServiceError(w, internal.ErrInvalidToken.WithMessage("unauthorized"))
		return auth.Principal{}, false
	}
	return p, true
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "CreateRequest")
	if !ok {
		return
	}

	var dto CreateRequestDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	req, err := h.Service.CreateRequest(r.Context(), p, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreateRequest: request created",
		"request_id", req.ID,
		"employee", p.Email,
		"status", req.Status.String())
	h.WriteJSON(w, http.StatusCreated, req)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "GetRequest")
	if !ok {
		return
	}

	req, err := h.Service.GetRequest(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "ListMyRequests")
	if !ok {
		return
	}

	limit, offset := h.Pagination(r)
	reqs, err := h.Service.ListMyRequests(r.Context(), p, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ListResponse{Requests: reqs, Limit: limit, Offset: offset})
}

func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "ListPendingApprovals")
	if !ok {
		return
	}

	limit, offset := h.Pagination(r)
	reqs, err := h.Service.ListPendingApprovals(r.Context(), p, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ListResponse{Requests: reqs, Limit: limit, Offset: offset})
}

func (h *Handler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "SubmitDecision")
	if !ok {
		return
	}

	var dto DecisionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	req, err := h.Service.SubmitApprovalDecision(r.Context(), p, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) RecordDisbursement(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "RecordDisbursement")
	if !ok {
		return
	}

	var dto DisbursementDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	req, ledger, err := h.Service.RecordDisbursement(r.Context(), p, chi.URLParam(r, "id"), dto, key)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, LedgerResponse{Request: req, Ledger: ledger})
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "GetLedger")
	if !ok {
		return
	}

	ledger, err := h.Service.GetLedger(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ledger)
}

func (h *Handler) SubmitJustification(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "SubmitJustification")
	if !ok {
		return
	}

	var dto JustificationDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	req, err := h.Service.SubmitJustification(r.Context(), p, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) SubmitJustificationDecision(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "SubmitJustificationDecision")
	if !ok {
		return
	}

	var dto DecisionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	req, err := h.Service.SubmitJustificationDecision(r.Context(), p, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "GetQuota")
	if !ok {
		return
	}

	quota, err := h.Service.Quota(r.Context(), p)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, quota)
}
