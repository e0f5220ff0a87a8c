package postgres

import (
	"context"

	"github.com/frahmantamala/cash-advance/internal/audit"
	model "github.com/frahmantamala/cash-advance/internal/core/datamodel/audit"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntryRepository implements audit.Repository using GORM
type EntryRepository struct {
	db *gorm.DB
}

func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (r *EntryRepository) Append(ctx context.Context, e audit.Entry) error {
	row := model.Entry{
		ID:         e.ID,
		RequestID:  e.RequestID,
		EventType:  e.EventType,
		Actor:      e.Actor,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Level:      e.Level,
		Comments:   e.Comments,
		Amount:     e.Amount,
		OccurredAt: e.OccurredAt.UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (r *EntryRepository) ListByRequest(ctx context.Context, requestID string) ([]audit.Entry, error) {
	var rows []model.Entry
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("occurred_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, audit.Entry{
			ID:         row.ID,
			RequestID:  row.RequestID,
			EventType:  row.EventType,
			Actor:      row.Actor,
			FromStatus: row.FromStatus,
			ToStatus:   row.ToStatus,
			Level:      row.Level,
			Comments:   row.Comments,
			Amount:     row.Amount,
			OccurredAt: row.OccurredAt,
		})
	}
	return out, nil
}
