// Package organization resolves who holds each approval tier of a department
// and where an employee sits in the organization.
package organization

import (
	"context"
	"errors"
)

type Tier string

const (
	TierSupervisor       Tier = "supervisor"
	TierDepartmentalHead Tier = "departmental_head"
	TierHeadOfBusiness   Tier = "head_of_business"
	TierFinance          Tier = "finance"
)

// Tiers lists every approval tier in chain order.
var Tiers = []Tier{TierSupervisor, TierDepartmentalHead, TierHeadOfBusiness, TierFinance}

func (t Tier) Valid() bool {
	switch t {
	case TierSupervisor, TierDepartmentalHead, TierHeadOfBusiness, TierFinance:
		return true
	}
	return false
}

// Optional reports whether a department may leave the tier unassigned.
func (t Tier) Optional() bool {
	return t == TierDepartmentalHead || t == TierHeadOfBusiness
}

// Approver is a snapshot of the person holding a tier when a chain was built.
type Approver struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Tier   `json:"role"`
}

type Position struct {
	EmployeeEmail  string `json:"employee_email"`
	EmployeeName   string `json:"employee_name"`
	DepartmentCode string `json:"department_code"`
	Title          string `json:"title,omitempty"`
}

type Department struct {
	Code      string
	Name      string
	Approvers map[Tier]Approver
}

// Holder returns the approver configured for tier, if any.
func (d *Department) Holder(tier Tier) (Approver, bool) {
	if d == nil || d.Approvers == nil {
		return Approver{}, false
	}
	a, ok := d.Approvers[tier]
	if !ok || a.Email == "" {
		return Approver{}, false
	}
	return a, true
}

var (
	ErrDepartmentNotFound = errors.New("department not found")
	ErrPositionNotFound   = errors.New("position not found")
)

// Directory is the organization lookup the approval chain is built from.
type Directory interface {
	Department(ctx context.Context, code string) (*Department, error)
	Position(ctx context.Context, email string) (*Position, error)
}
