package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/organization"
	"github.com/frahmantamala/cash-advance/pkg/logger"
)

// minChainLevels is one approver above the employee plus finance.
const minChainLevels = 2

type ChainBuilder struct {
	directory organization.Directory
	logger    *slog.Logger
}

func NewChainBuilder(directory organization.Directory, logger *slog.Logger) *ChainBuilder {
	return &ChainBuilder{directory: directory, logger: logger}
}

func (b *ChainBuilder) log(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, b.logger)
}

// Build resolves the department's tier holders into a primary chain. Optional
// tiers that are unassigned collapse, and a tier held by the employee is skipped.
func (b *ChainBuilder) Build(ctx context.Context, pos organization.Position) (Chain, error) {
	if strings.TrimSpace(pos.DepartmentCode) == "" {
		return Chain{}, internal.ErrChainResolution.WithMessage("employee has no department")
	}

	dept, err := b.directory.Department(ctx, pos.DepartmentCode)
	if err != nil {
		if errors.Is(err, organization.ErrDepartmentNotFound) {
			b.log(ctx).Warn("chain resolution failed: unknown department", "department", pos.DepartmentCode)
			return Chain{}, internal.ErrChainResolution.WithCause(err)
		}
		b.log(ctx).Error("failed to load department", "error", err, "department", pos.DepartmentCode)
		return Chain{}, internal.NewInternalError("failed to load department", err)
	}

	approvers, err := resolve(dept, pos.EmployeeEmail)
	if err != nil {
		b.log(ctx).Warn("chain resolution failed", "department", pos.DepartmentCode, "reason", err.Error())
		return Chain{}, err
	}

	b.log(ctx).Debug("approval chain built", "department", pos.DepartmentCode, "levels", len(approvers))
	return NewChain(PhasePrimary, approvers), nil
}

// resolve walks the tiers in order. A missing required tier fails the build,
// a missing optional tier collapses and a tier held by the employee is skipped.
// At least two approvers must remain and the last must be finance.
func resolve(dept *organization.Department, employee string) ([]organization.Approver, error) {
	var approvers []organization.Approver
	for _, tier := range organization.Tiers {
		holder, ok := dept.Holder(tier)
		if !ok {
			if tier.Optional() {
				continue
			}
			return nil, internal.ErrChainResolution.WithMessage(fmt.Sprintf("department has no %s approver configured", tier))
		}
		if strings.EqualFold(holder.Email, employee) {
			continue
		}
		holder.Role = tier
		approvers = append(approvers, holder)
	}

	chain := NewChain(PhasePrimary, approvers)
	if last := chain.Last(); last == nil || last.Approver.Role != organization.TierFinance {
		return nil, internal.ErrChainResolution.WithMessage("no finance approver remains for this employee")
	}
	if len(approvers) < minChainLevels {
		return nil, internal.ErrChainResolution.WithMessage("no approver above the employee before finance")
	}
	return approvers, nil
}
