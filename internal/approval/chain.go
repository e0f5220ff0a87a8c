// Package approval holds the ordered approval chain shared by the primary
// and justification workflows, and the builder that derives it from the
// organization directory.
package approval

import (
	"strings"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/organization"
)

type Phase string

const (
	PhasePrimary       Phase = "primary"
	PhaseJustification Phase = "justification"
)

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

type Step struct {
	Level    int                   `json:"level"`
	Approver organization.Approver `json:"approver"`
	Status   StepStatus            `json:"status"`
	Comments string                `json:"comments,omitempty"`
	ActionAt *time.Time            `json:"action_at,omitempty"`
}

type Chain struct {
	Phase Phase  `json:"phase"`
	Steps []Step `json:"steps"`
}

// Outcome describes what a decision did to the chain.
type Outcome struct {
	Step     Step
	Next     *Step
	Final    bool
	Rejected bool
}

// NewChain copies the approver snapshots into a fresh chain with every step pending.
func NewChain(phase Phase, approvers []organization.Approver) Chain {
	steps := make([]Step, len(approvers))
	for i, a := range approvers {
		steps[i] = Step{Level: i + 1, Approver: a, Status: StepPending}
	}
	return Chain{Phase: phase, Steps: steps}
}

// Clone copies the chain so a decision can be validated before it is kept.
func (c *Chain) Clone() Chain {
	if c == nil {
		return Chain{}
	}
	steps := make([]Step, len(c.Steps))
	copy(steps, c.Steps)
	return Chain{Phase: c.Phase, Steps: steps}
}

func (c *Chain) Empty() bool {
	return c == nil || len(c.Steps) == 0
}

// Active returns the lowest-level pending step, or nil when none remain
// or an earlier step was rejected.
func (c *Chain) Active() *Step {
	if c == nil {
		return nil
	}
	for i := range c.Steps {
		switch c.Steps[i].Status {
		case StepPending:
			return &c.Steps[i]
		case StepRejected:
			return nil
		}
	}
	return nil
}

func (c *Chain) Last() *Step {
	if c.Empty() {
		return nil
	}
	return &c.Steps[len(c.Steps)-1]
}

// Approvers returns the snapshot of every step's approver in level order.
func (c *Chain) Approvers() []organization.Approver {
	if c == nil {
		return nil
	}
	out := make([]organization.Approver, len(c.Steps))
	for i, s := range c.Steps {
		out[i] = s.Approver
	}
	return out
}

// Decide applies one decision to the active step. actor must hold the active
// step; expectedLevel, when positive, must equal the active level.
func (c *Chain) Decide(actor string, expectedLevel int, decision Decision, comments string, at time.Time) (Outcome, error) {
	if !decision.Valid() {
		return Outcome{}, internal.NewValidationFieldError("decision", "decision must be approved or rejected", internal.ErrCodeValidationFailed)
	}

	active := c.Active()
	if active == nil {
		return Outcome{}, internal.ErrInvalidStateTransition
	}

	if !strings.EqualFold(strings.TrimSpace(actor), active.Approver.Email) {
		return Outcome{}, internal.ErrNotActiveApprover
	}

	if expectedLevel > 0 && expectedLevel != active.Level {
		return Outcome{}, internal.ErrInvalidStateTransition.WithMessage("the step at this level has already been resolved")
	}

	comments = strings.TrimSpace(comments)
	if decision == DecisionRejected && comments == "" {
		return Outcome{}, internal.NewValidationFieldError("comments", "comments are required when rejecting", internal.ErrCodeValidationFailed)
	}

	when := at
	active.Comments = comments
	active.ActionAt = &when

	if decision == DecisionRejected {
		active.Status = StepRejected
		return Outcome{Step: *active, Rejected: true}, nil
	}

	active.Status = StepApproved
	out := Outcome{Step: *active}
	if next := c.Active(); next != nil {
		n := *next
		out.Next = &n
	} else {
		out.Final = true
	}
	return out, nil
}

// Reset returns every step to pending for a full restart from level 1.
func (c *Chain) Reset() {
	for i := range c.Steps {
		c.Steps[i].Status = StepPending
		c.Steps[i].Comments = ""
		c.Steps[i].ActionAt = nil
	}
}

// Complete reports whether every step was approved.
func (c *Chain) Complete() bool {
	if c.Empty() {
		return false
	}
	for _, s := range c.Steps {
		if s.Status != StepApproved {
			return false
		}
	}
	return true
}

// Rejected returns the rejected step, if any.
func (c *Chain) Rejected() *Step {
	if c == nil {
		return nil
	}
	for i := range c.Steps {
		if c.Steps[i].Status == StepRejected {
			return &c.Steps[i]
		}
	}
	return nil
}

// CheckInvariants verifies dense levels and that nothing after a pending or
// rejected step has been acted on.
func (c *Chain) CheckInvariants() error {
	if c == nil {
		return nil
	}
	blocked := false
	for i, s := range c.Steps {
		if s.Level != i+1 {
			return internal.NewInternalError("approval chain levels are not dense", nil)
		}
		if blocked && s.Status != StepPending {
			return internal.NewInternalError("approval step acted on out of order", nil)
		}
		if s.Status != StepApproved {
			blocked = true
		}
	}
	return nil
}
