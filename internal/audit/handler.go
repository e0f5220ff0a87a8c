package audit

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/auth"
	"github.com/frahmantamala/cash-advance/internal/transport"
	"github.com/frahmantamala/cash-advance/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	History(ctx context.Context, p auth.Principal, requestID string) ([]Entry, error)
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

type HistoryResponse struct {
	RequestID string  `json:"request_id"`
	Entries   []Entry `json:"entries"`
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.Logger.Error("GetHistory: principal not found in context")
		h.HandleServiceError(w, internal.ErrInvalidToken.WithMessage("unauthorized"))
		return
	}

	id := chi.URLParam(r, "id")
	entries, err := h.Service.History(r.Context(), p, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, HistoryResponse{RequestID: id, Entries: entries})
}
