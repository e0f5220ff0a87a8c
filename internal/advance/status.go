package advance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frahmantamala/cash-advance/internal/approval"
	"github.com/frahmantamala/cash-advance/internal/organization"
)

type State string

const (
	StateAwaitingApproval      State = "awaiting_approval"
	StateApproved              State = "approved"
	StatePartiallyDisbursed    State = "partially_disbursed"
	StateFullyDisbursed        State = "fully_disbursed"
	StateDenied                State = "denied"
	StateJustificationPending  State = "justification_pending"
	StateJustificationRejected State = "justification_rejected"
	StateCompleted             State = "completed"
)

// Status is the authoritative workflow position of a request. Level and Tier
// are set for the awaiting, denied and justification states.
type Status struct {
	State State
	Level int
	Tier  organization.Tier
}

func Awaiting(step approval.Step) Status {
	return Status{State: StateAwaitingApproval, Level: step.Level, Tier: step.Approver.Role}
}

func JustificationPending(step approval.Step) Status {
	return Status{State: StateJustificationPending, Level: step.Level, Tier: step.Approver.Role}
}

func (s Status) Is(state State) bool {
	return s.State == state
}

// Terminal reports whether no further action is possible.
func (s Status) Terminal() bool {
	return s.State == StateDenied || s.State == StateCompleted
}

// String renders the flat status name used in storage and the API,
// e.g. pending_finance or justification_rejected_departmental_head.
func (s Status) String() string {
	switch s.State {
	case StateAwaitingApproval:
		return "pending_" + string(s.Tier)
	case StateJustificationPending:
		return "justification_pending_" + string(s.Tier)
	case StateJustificationRejected:
		return "justification_rejected_" + string(s.Tier)
	default:
		return string(s.State)
	}
}

// ParseStatus reverses String. level comes from the stored status_level column.
func ParseStatus(raw string, level int) (Status, error) {
	prefixes := []struct {
		prefix string
		state  State
	}{
		{"justification_pending_", StateJustificationPending},
		{"justification_rejected_", StateJustificationRejected},
		{"pending_", StateAwaitingApproval},
	}
	for _, p := range prefixes {
		if !strings.HasPrefix(raw, p.prefix) {
			continue
		}
		tier := organization.Tier(strings.TrimPrefix(raw, p.prefix))
		if !tier.Valid() {
			return Status{}, fmt.Errorf("unknown tier in status %q", raw)
		}
		return Status{State: p.state, Level: level, Tier: tier}, nil
	}

	switch st := State(raw); st {
	case StateApproved, StatePartiallyDisbursed, StateFullyDisbursed, StateCompleted:
		return Status{State: st}, nil
	case StateDenied:
		return Status{State: st, Level: level}, nil
	}
	return Status{}, fmt.Errorf("unknown status %q", raw)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
