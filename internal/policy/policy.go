// Package policy enforces the creation-time rules for reimbursements and
// the document requirement for advances.
package policy

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/pkg/clock"
	"github.com/frahmantamala/cash-advance/pkg/logger"
	"github.com/shopspring/decimal"
)

// Submission is what the guard needs to know about a new request.
type Submission struct {
	Reimbursement bool
	RequestType   string
	EmployeeEmail string
	Amount        decimal.Decimal
	DocumentKeys  []string
}

type QuotaStatus struct {
	Count       int       `json:"count"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// QuotaCounter counts reimbursement requests created by an employee in [from, to).
type QuotaCounter interface {
	CountReimbursements(ctx context.Context, employeeEmail string, from, to time.Time) (int, error)
}

// DocumentChecker confirms a referenced document exists in the store.
type DocumentChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

type Guard struct {
	cfg      internal.PolicyConfig
	counter  QuotaCounter
	docs     DocumentChecker
	clock    clock.Clock
	location *time.Location
	logger   *slog.Logger
}

// NewGuard builds a guard; docs may be nil, in which case references are accepted as given.
func NewGuard(cfg internal.PolicyConfig, counter QuotaCounter, docs DocumentChecker, clk clock.Clock, logger *slog.Logger) *Guard {
	return &Guard{
		cfg:      cfg,
		counter:  counter,
		docs:     docs,
		clock:    clk,
		location: cfg.Location(),
		logger:   logger,
	}
}

func (g *Guard) log(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, g.logger)
}

// Check runs before the approval chain is built. Reimbursements are checked
// for ceiling, documents, then quota; advances only for documents.
func (g *Guard) Check(ctx context.Context, s Submission) error {
	if !s.Reimbursement {
		return g.checkAdvance(ctx, s)
	}

	if s.Amount.GreaterThan(g.cfg.ReimbursementCeiling) {
		g.log(ctx).Warn("reimbursement over ceiling", "employee", s.EmployeeEmail, "amount", s.Amount.String(), "ceiling", g.cfg.ReimbursementCeiling.String())
		return internal.ErrAmountCeilingExceeded.WithDetails(map[string]string{
			"ceiling": g.cfg.ReimbursementCeiling.StringFixed(2),
			"amount":  s.Amount.StringFixed(2),
		})
	}

	if len(s.DocumentKeys) == 0 {
		return internal.ErrMissingRequiredDocuments.WithMessage("reimbursements require at least one supporting document")
	}
	if err := g.VerifyDocuments(ctx, s.DocumentKeys); err != nil {
		return err
	}

	quota, err := g.Quota(ctx, s.EmployeeEmail)
	if err != nil {
		return err
	}
	if quota.Remaining <= 0 {
		g.log(ctx).Warn("monthly reimbursement limit reached", "employee", s.EmployeeEmail, "count", quota.Count, "limit", quota.Limit)
		return internal.ErrMonthlyLimitExceeded.WithDetails(quota)
	}
	return nil
}

func (g *Guard) checkAdvance(ctx context.Context, s Submission) error {
	if len(s.DocumentKeys) > 0 {
		return g.VerifyDocuments(ctx, s.DocumentKeys)
	}
	if !g.DocumentsRequired(s) {
		return nil
	}
	if !g.cfg.EnforceAdvanceDocuments {
		g.log(ctx).Info("advance submitted without recommended documents", "employee", s.EmployeeEmail, "request_type", s.RequestType, "amount", s.Amount.String())
		return nil
	}
	return internal.ErrMissingRequiredDocuments.WithMessage("supporting documents are required for this advance")
}

// DocumentsRequired reports whether an advance needs supporting documents:
// the amount is over the threshold or the type is in the listed set.
func (g *Guard) DocumentsRequired(s Submission) bool {
	if s.Reimbursement {
		return true
	}
	if s.Amount.GreaterThan(g.cfg.DocumentThreshold) {
		return true
	}
	requestType := strings.ToLower(strings.TrimSpace(s.RequestType))
	for _, t := range g.cfg.DocumentRequiredTypes {
		if strings.EqualFold(strings.TrimSpace(t), requestType) {
			return true
		}
	}
	return false
}

// VerifyDocuments checks each key against the document store when one is configured.
func (g *Guard) VerifyDocuments(ctx context.Context, keys []string) error {
	if g.docs == nil {
		return nil
	}
	var missing []string
	for _, key := range keys {
		ok, err := g.docs.Exists(ctx, key)
		if err != nil {
			g.log(ctx).Error("document lookup failed", "error", err, "key", key)
			return internal.NewInternalError("failed to verify documents", err)
		}
		if !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return internal.ErrMissingRequiredDocuments.
			WithMessage("some referenced documents do not exist").
			WithDetails(map[string][]string{"missing": missing})
	}
	return nil
}

// Quota reports the employee's reimbursement usage in the current calendar month.
func (g *Guard) Quota(ctx context.Context, employeeEmail string) (QuotaStatus, error) {
	start, end := clock.MonthWindow(g.clock.Now().In(g.location))

	count, err := g.counter.CountReimbursements(ctx, employeeEmail, start, end)
	if err != nil {
		g.log(ctx).Error("failed to count reimbursements", "error", err, "employee", employeeEmail)
		return QuotaStatus{}, internal.NewInternalError("failed to check monthly quota", err)
	}

	remaining := g.cfg.MonthlyLimit - count
	if remaining < 0 {
		remaining = 0
	}
	return QuotaStatus{
		Count:       count,
		Limit:       g.cfg.MonthlyLimit,
		Remaining:   remaining,
		PeriodStart: start,
		PeriodEnd:   end,
	}, nil
}
