package advance

import (
	"strings"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/approval"
	"github.com/frahmantamala/cash-advance/internal/organization"
	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeAdvance       Mode = "advance"
	ModeReimbursement Mode = "reimbursement"
)

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// Document is an opaque reference into the document store.
type Document struct {
	Key      string `json:"key"`
	FileName string `json:"file_name,omitempty"`
}

type Disbursement struct {
	ID         string          `json:"id"`
	Sequence   int             `json:"sequence"`
	Amount     decimal.Decimal `json:"amount"`
	Notes      string          `json:"notes,omitempty"`
	RecordedBy string          `json:"recorded_by"`
	RecordedAt time.Time       `json:"recorded_at"`
}

type LineItem struct {
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

type Justification struct {
	AmountSpent       decimal.Decimal `json:"amount_spent"`
	BalanceReturned   decimal.Decimal `json:"balance_returned"`
	Details           string          `json:"details"`
	Items             []LineItem      `json:"itemized_breakdown,omitempty"`
	Documents         []Document      `json:"documents,omitempty"`
	JustificationDate time.Time       `json:"justification_date"`
	Unbalanced        bool            `json:"unbalanced"`
	Revision          int             `json:"revision"`
}

type Request struct {
	ID                 string                `json:"id"`
	Mode               Mode                  `json:"mode"`
	RequestType        string                `json:"request_type"`
	Purpose            string                `json:"purpose"`
	JustificationText  string                `json:"justification_text,omitempty"`
	AmountRequested    decimal.Decimal       `json:"amount_requested"`
	AmountApproved     decimal.NullDecimal   `json:"amount_approved"`
	Status             Status                `json:"status"`
	Urgency            Urgency               `json:"urgency"`
	Employee           organization.Position `json:"employee"`
	ApprovalChain      approval.Chain        `json:"approval_chain"`
	Disbursements      []Disbursement        `json:"disbursements"`
	Justification      *Justification        `json:"justification,omitempty"`
	JustificationChain approval.Chain        `json:"justification_approval_chain"`
	Documents          []Document            `json:"documents"`
	RequiredDate       *time.Time            `json:"required_date,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	Version            int64                 `json:"version"`
}

// Draft is the validated creation input.
type Draft struct {
	Mode              Mode
	RequestType       string
	Purpose           string
	JustificationText string
	Amount            decimal.Decimal
	Urgency           Urgency
	RequiredDate      *time.Time
	Documents         []Document
}

// NewRequest starts a request at the first level of its primary chain.
func NewRequest(id string, d Draft, employee organization.Position, chain approval.Chain, now time.Time) (*Request, error) {
	if chain.Empty() {
		return nil, internal.ErrChainResolution
	}
	if !d.Amount.IsPositive() {
		return nil, internal.ErrInvalidAmount
	}
	urgency := d.Urgency
	if urgency == "" {
		urgency = UrgencyMedium
	}
	return &Request{
		ID:                 id,
		Mode:               d.Mode,
		RequestType:        strings.TrimSpace(d.RequestType),
		Purpose:            strings.TrimSpace(d.Purpose),
		JustificationText:  strings.TrimSpace(d.JustificationText),
		AmountRequested:    d.Amount,
		Status:             Awaiting(chain.Steps[0]),
		Urgency:            urgency,
		Employee:           employee,
		ApprovalChain:      chain,
		Disbursements:      []Disbursement{},
		JustificationChain: approval.Chain{Phase: approval.PhaseJustification},
		Documents:          d.Documents,
		RequiredDate:       d.RequiredDate,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}, nil
}

// ActiveChain is the chain whose active step may currently be decided.
func (r *Request) ActiveChain() *approval.Chain {
	switch r.Status.State {
	case StateAwaitingApproval:
		return &r.ApprovalChain
	case StateJustificationPending:
		return &r.JustificationChain
	}
	return nil
}

// ActiveStep returns the step awaiting a decision, if any.
func (r *Request) ActiveStep() *approval.Step {
	if c := r.ActiveChain(); c != nil {
		return c.Active()
	}
	return nil
}

func (r *Request) IsOwner(email string) bool {
	return strings.EqualFold(strings.TrimSpace(email), r.Employee.EmployeeEmail)
}

// Involves reports whether email is the employee or an approver on either chain.
func (r *Request) Involves(email string) bool {
	if r.IsOwner(email) {
		return true
	}
	for _, c := range []*approval.Chain{&r.ApprovalChain, &r.JustificationChain} {
		for _, s := range c.Steps {
			if strings.EqualFold(s.Approver.Email, email) {
				return true
			}
		}
	}
	return false
}

// Decide applies a primary chain decision. approvedAmount is only accepted
// from the final approver and defaults to the requested amount.
func (r *Request) Decide(actor string, expectedLevel int, decision approval.Decision, comments string, approvedAmount *decimal.Decimal, now time.Time) (approval.Outcome, error) {
	if r.Status.State != StateAwaitingApproval {
		return approval.Outcome{}, internal.ErrInvalidStateTransition
	}

	chain := r.ApprovalChain.Clone()
	out, err := chain.Decide(actor, expectedLevel, decision, comments, now)
	if err != nil {
		return approval.Outcome{}, err
	}

	approved := r.AmountRequested
	if approvedAmount != nil && decision == approval.DecisionApproved {
		if !out.Final {
			return approval.Outcome{}, internal.NewValidationFieldError("approved_amount", "approved amount can only be set by the final approver", internal.ErrCodeValidationFailed)
		}
		if !approvedAmount.IsPositive() {
			return approval.Outcome{}, internal.ErrInvalidAmount
		}
		if approvedAmount.GreaterThan(r.AmountRequested) {
			return approval.Outcome{}, internal.NewValidationFieldError("approved_amount", "approved amount cannot exceed the requested amount", internal.ErrCodeAmountTooHigh)
		}
		approved = approvedAmount.Round(2)
	}

	r.ApprovalChain = chain
	switch {
	case out.Rejected:
		r.Status = Status{State: StateDenied, Level: out.Step.Level, Tier: out.Step.Approver.Role}
	case out.Final:
		r.Status = Status{State: StateApproved}
		r.AmountApproved = decimal.NewNullDecimal(approved)
	default:
		r.Status = Awaiting(*out.Next)
	}
	r.UpdatedAt = now
	return out, nil
}

// DecideJustification applies a justification chain decision.
func (r *Request) DecideJustification(actor string, expectedLevel int, decision approval.Decision, comments string, now time.Time) (approval.Outcome, error) {
	if r.Status.State != StateJustificationPending {
		return approval.Outcome{}, internal.ErrInvalidStateTransition
	}

	chain := r.JustificationChain.Clone()
	out, err := chain.Decide(actor, expectedLevel, decision, comments, now)
	if err != nil {
		return approval.Outcome{}, err
	}

	r.JustificationChain = chain
	switch {
	case out.Rejected:
		r.Status = Status{State: StateJustificationRejected, Level: out.Step.Level, Tier: out.Step.Approver.Role}
	case out.Final:
		r.Status = Status{State: StateCompleted}
	default:
		r.Status = JustificationPending(*out.Next)
	}
	r.UpdatedAt = now
	return out, nil
}

// CheckInvariants verifies the ledger identity, both chains and that the
// status agrees with the chain it was derived from.
func (r *Request) CheckInvariants() error {
	if err := r.ApprovalChain.CheckInvariants(); err != nil {
		return err
	}
	if err := r.JustificationChain.CheckInvariants(); err != nil {
		return err
	}
	if err := r.checkStatus(); err != nil {
		return err
	}
	l := r.Ledger()
	if !l.TotalDisbursed.Add(l.RemainingBalance).Equal(l.AmountApproved) {
		return internal.NewInternalError("ledger does not balance", nil)
	}
	if l.RemainingBalance.IsNegative() {
		return internal.NewInternalError("ledger overdrawn", nil)
	}
	return nil
}

func (r *Request) checkStatus() error {
	switch r.Status.State {
	case StateDenied:
		if rej := r.ApprovalChain.Rejected(); rej == nil || rej.Level != r.Status.Level {
			return internal.NewInternalError("denied status without a matching rejected step", nil)
		}
	case StateJustificationRejected:
		if rej := r.JustificationChain.Rejected(); rej == nil || rej.Level != r.Status.Level {
			return internal.NewInternalError("justification rejected status without a matching rejected step", nil)
		}
	case StateApproved, StatePartiallyDisbursed, StateFullyDisbursed, StateJustificationPending:
		if !r.ApprovalChain.Complete() {
			return internal.NewInternalError("approved status with an incomplete approval chain", nil)
		}
	case StateCompleted:
		if !r.ApprovalChain.Complete() || !r.JustificationChain.Complete() {
			return internal.NewInternalError("completed status with an incomplete chain", nil)
		}
	}
	return nil
}
