package advance

import (
	"strings"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/shopspring/decimal"
)

// Ledger is the disbursement snapshot derived from the event list.
type Ledger struct {
	RequestID        string          `json:"request_id"`
	Status           Status          `json:"status"`
	AmountApproved   decimal.Decimal `json:"amount_approved"`
	TotalDisbursed   decimal.Decimal `json:"total_disbursed"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Disbursements    []Disbursement  `json:"disbursements"`
}

// ReplayLedger rebuilds totals from approved amount and events alone.
func ReplayLedger(approved decimal.Decimal, events []Disbursement) (total, remaining decimal.Decimal) {
	total = decimal.Zero
	for _, e := range events {
		total = total.Add(e.Amount)
	}
	return total, approved.Sub(total)
}

func (r *Request) Ledger() Ledger {
	approved := decimal.Zero
	if r.AmountApproved.Valid {
		approved = r.AmountApproved.Decimal
	}
	total, remaining := ReplayLedger(approved, r.Disbursements)
	events := r.Disbursements
	if events == nil {
		events = []Disbursement{}
	}
	return Ledger{
		RequestID:        r.ID,
		Status:           r.Status,
		AmountApproved:   approved,
		TotalDisbursed:   total,
		RemainingBalance: remaining,
		Disbursements:    events,
	}
}

func (r *Request) TotalDisbursed() decimal.Decimal {
	return r.Ledger().TotalDisbursed
}

func (r *Request) RemainingBalance() decimal.Decimal {
	return r.Ledger().RemainingBalance
}

// RecordDisbursement appends one event. Status moves to fully_disbursed when
// the remaining balance reaches zero and partially_disbursed otherwise.
func (r *Request) RecordDisbursement(id string, amount decimal.Decimal, notes, recordedBy string, now time.Time) (Disbursement, error) {
	if r.Status.State != StateApproved && r.Status.State != StatePartiallyDisbursed {
		return Disbursement{}, internal.ErrInvalidStateTransition.WithMessage("request is not open for disbursement")
	}

	if !amount.IsPositive() {
		return Disbursement{}, internal.ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return Disbursement{}, internal.ErrInvalidAmount.WithMessage("amount must have at most two decimal places")
	}

	remaining := r.RemainingBalance()
	if !remaining.IsPositive() {
		return Disbursement{}, internal.ErrInvalidStateTransition.WithMessage("nothing left to disburse")
	}
	if amount.GreaterThan(remaining) {
		return Disbursement{}, internal.ErrExceedsRemainingBalance.WithDetails(map[string]string{
			"remaining_balance": remaining.StringFixed(2),
			"amount":            amount.StringFixed(2),
		})
	}

	event := Disbursement{
		ID:         id,
		Sequence:   len(r.Disbursements) + 1,
		Amount:     amount,
		Notes:      strings.TrimSpace(notes),
		RecordedBy: strings.ToLower(strings.TrimSpace(recordedBy)),
		RecordedAt: now,
	}
	r.Disbursements = append(r.Disbursements, event)

	if r.RemainingBalance().IsZero() {
		r.Status = Status{State: StateFullyDisbursed}
	} else {
		r.Status = Status{State: StatePartiallyDisbursed}
	}
	r.UpdatedAt = now
	return event, nil
}
