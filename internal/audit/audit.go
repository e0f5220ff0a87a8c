// Package audit keeps an append-only history of workflow transitions, fed by
// the event bus after each change is committed.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/auth"
	"github.com/frahmantamala/cash-advance/internal/core/events"
	"github.com/frahmantamala/cash-advance/pkg/logger"
	"github.com/shopspring/decimal"
)

type Entry struct {
	ID         string              `json:"id"`
	RequestID  string              `json:"request_id"`
	EventType  string              `json:"event_type"`
	Actor      string              `json:"actor"`
	FromStatus string              `json:"from_status,omitempty"`
	ToStatus   string              `json:"to_status"`
	Level      int                 `json:"level,omitempty"`
	Comments   string              `json:"comments,omitempty"`
	Amount     decimal.NullDecimal `json:"amount"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// Repository stores entries. Append ignores an entry whose ID already exists.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	ListByRequest(ctx context.Context, requestID string) ([]Entry, error)
}

// AccessChecker returns internal.ErrRequestNotFound when the caller may not see the request.
type AccessChecker interface {
	CanView(ctx context.Context, p auth.Principal, requestID string) error
}

type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) log(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, r.logger)
}

func (r *Recorder) Handle(ctx context.Context, event events.Event) error {
	we, ok := event.(*events.WorkflowEvent)
	if !ok {
		r.log(ctx).Error("invalid event type for audit recorder", "event_type", event.EventType())
		return fmt.Errorf("expected WorkflowEvent, got %T", event)
	}

	entry := Entry{
		ID:         we.EventID(),
		RequestID:  we.RequestID,
		EventType:  we.EventType(),
		Actor:      we.Actor,
		FromStatus: we.FromStatus,
		ToStatus:   we.ToStatus,
		Level:      we.Level,
		Comments:   we.Comments,
		Amount:     we.Amount,
		OccurredAt: we.OccurredAt(),
	}
	if err := r.repo.Append(ctx, entry); err != nil {
		r.log(ctx).Error("failed to record audit entry",
			"error", err,
			"event_id", entry.ID,
			"request_id", entry.RequestID,
			"event_type", entry.EventType)
		return fmt.Errorf("record audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// RegisterEventHandlers subscribes the recorder to every workflow event.
func (r *Recorder) RegisterEventHandlers(bus *events.EventBus) {
	bus.SubscribeAll(events.WorkflowEventTypes, r.Handle)
	r.logger.Info("audit event handlers registered", "handlers", len(events.WorkflowEventTypes))
}

type Service struct {
	repo   Repository
	access AccessChecker
	logger *slog.Logger
}

func NewService(repo Repository, access AccessChecker, logger *slog.Logger) *Service {
	return &Service{repo: repo, access: access, logger: logger}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, s.logger)
}

// History returns the request's entries oldest first.
func (s *Service) History(ctx context.Context, p auth.Principal, requestID string) ([]Entry, error) {
	if err := s.access.CanView(ctx, p, requestID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListByRequest(ctx, requestID)
	if err != nil {
		s.log(ctx).Error("failed to load history", "error", err, "request_id", requestID)
		return nil, internal.NewInternalError("failed to load history", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
