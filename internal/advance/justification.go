package advance

import (
	"strings"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/approval"
	"github.com/shopspring/decimal"
)

// JustificationDraft is the validated evidence submitted after full disbursement.
type JustificationDraft struct {
	AmountSpent     decimal.Decimal
	BalanceReturned decimal.Decimal
	Details         string
	Items           []LineItem
	Documents       []Document
}

// CanSubmitJustification reports whether the request accepts a first
// submission or a resubmission.
func (r *Request) CanSubmitJustification() bool {
	return r.Status.State == StateFullyDisbursed || r.Status.State == StateJustificationRejected
}

// SubmitJustification attaches the evidence and starts (or fully restarts)
// the justification chain from level 1.
func (r *Request) SubmitJustification(actor string, d JustificationDraft, now time.Time) (*Justification, error) {
	if !r.IsOwner(actor) {
		return nil, internal.ErrNotRequestOwner
	}
	if !r.CanSubmitJustification() {
		return nil, internal.ErrInvalidStateTransition.WithMessage("justification can only be submitted after full disbursement")
	}
	if d.AmountSpent.IsNegative() {
		return nil, internal.NewValidationFieldError("amount_spent", "amount spent cannot be negative", internal.ErrCodeInvalidAmount)
	}
	if d.BalanceReturned.IsNegative() {
		return nil, internal.NewValidationFieldError("balance_returned", "balance returned cannot be negative", internal.ErrCodeInvalidAmount)
	}
	if strings.TrimSpace(d.Details) == "" {
		return nil, internal.NewValidationFieldError("details", "details is required", internal.ErrCodeValidationFailed)
	}
	if r.Mode == ModeReimbursement && len(d.Documents) == 0 {
		return nil, internal.ErrMissingRequiredDocuments
	}

	revision := 1
	if r.Justification != nil {
		revision = r.Justification.Revision + 1
	}

	j := &Justification{
		AmountSpent:       d.AmountSpent,
		BalanceReturned:   d.BalanceReturned,
		Details:           strings.TrimSpace(d.Details),
		Items:             d.Items,
		Documents:         d.Documents,
		JustificationDate: now,
		Unbalanced:        !d.AmountSpent.Add(d.BalanceReturned).Equal(r.TotalDisbursed()),
		Revision:          revision,
	}

	if r.JustificationChain.Empty() {
		r.JustificationChain = approval.NewChain(approval.PhaseJustification, r.ApprovalChain.Approvers())
	} else {
		r.JustificationChain.Reset()
	}

	r.Justification = j
	r.Status = JustificationPending(r.JustificationChain.Steps[0])
	r.UpdatedAt = now
	return j, nil
}
