package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/jmoiron/sqlx"
)

// QuotaCounter counts reimbursement requests with a plain aggregate query.
type QuotaCounter struct {
	db *sqlx.DB
}

func NewQuotaCounter(db *sqlx.DB) *QuotaCounter {
	return &QuotaCounter{db: db}
}

const countReimbursementsQuery = `
SELECT COUNT(*)
FROM cash_requests
WHERE LOWER(employee_email) = ?
  AND mode = 'reimbursement'
  AND created_at >= ?
  AND created_at < ?`

func (q *QuotaCounter) CountReimbursements(ctx context.Context, employeeEmail string, from, to time.Time) (int, error) {
	ctx, cancel := internal.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var count int
	query := q.db.Rebind(countReimbursementsQuery)
	if err := q.db.GetContext(ctx, &count, query, strings.ToLower(employeeEmail), from.UTC(), to.UTC()); err != nil {
		return 0, err
	}
	return count, nil
}
