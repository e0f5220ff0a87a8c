package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypeRequestCreated         = "request.created"
	EventTypeStepApproved           = "request.step_approved"
	EventTypeRequestApproved        = "request.approved"
	EventTypeRequestDenied          = "request.denied"
	EventTypeDisbursementRecorded   = "request.disbursement_recorded"
	EventTypeRequestFullyDisbursed  = "request.fully_disbursed"
	EventTypeJustificationSubmitted = "justification.submitted"
	EventTypeJustificationStep      = "justification.step_approved"
	EventTypeJustificationRejected  = "justification.rejected"
	EventTypeRequestCompleted       = "request.completed"
)

// WorkflowEventTypes lists every type published by the request workflow.
var WorkflowEventTypes = []string{
	EventTypeRequestCreated,
	EventTypeStepApproved,
	EventTypeRequestApproved,
	EventTypeRequestDenied,
	EventTypeDisbursementRecorded,
	EventTypeRequestFullyDisbursed,
	EventTypeJustificationSubmitted,
	EventTypeJustificationStep,
	EventTypeJustificationRejected,
	EventTypeRequestCompleted,
}

// WorkflowEvent records one committed transition of a request.
type WorkflowEvent struct {
	BaseEvent
	RequestID  string              `json:"request_id"`
	Actor      string              `json:"actor"`
	FromStatus string              `json:"from_status"`
	ToStatus   string              `json:"to_status"`
	Level      int                 `json:"level,omitempty"`
	Comments   string              `json:"comments,omitempty"`
	Amount     decimal.NullDecimal `json:"amount"`
}

type Transition struct {
	RequestID  string
	Actor      string
	FromStatus string
	ToStatus   string
	Level      int
	Comments   string
	Amount     *decimal.Decimal
}

func NewWorkflowEvent(eventType string, t Transition, at time.Time) *WorkflowEvent {
	data := map[string]interface{}{
		"request_id":  t.RequestID,
		"actor":       t.Actor,
		"from_status": t.FromStatus,
		"to_status":   t.ToStatus,
	}
	if t.Level > 0 {
		data["level"] = t.Level
	}
	var amount decimal.NullDecimal
	if t.Amount != nil {
		amount = decimal.NewNullDecimal(*t.Amount)
		data["amount"] = t.Amount.String()
	}
	return &WorkflowEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: at,
			Data:      data,
		},
		RequestID:  t.RequestID,
		Actor:      t.Actor,
		FromStatus: t.FromStatus,
		ToStatus:   t.ToStatus,
		Level:      t.Level,
		Comments:   t.Comments,
		Amount:     amount,
	}
}
