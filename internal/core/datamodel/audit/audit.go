package audit

import (
	"time"

	"github.com/shopspring/decimal"
)

type Entry struct {
	ID         string              `gorm:"column:id;primaryKey"`
	RequestID  string              `gorm:"column:request_id;not null;index"`
	EventType  string              `gorm:"column:event_type;not null"`
	Actor      string              `gorm:"column:actor_email"`
	FromStatus string              `gorm:"column:from_status"`
	ToStatus   string              `gorm:"column:to_status"`
	Level      int                 `gorm:"column:level"`
	Comments   string              `gorm:"column:comments"`
	Amount     decimal.NullDecimal `gorm:"column:amount;type:numeric(15,2)"`
	OccurredAt time.Time           `gorm:"column:occurred_at;not null"`
}

func (Entry) TableName() string {
	return "audit_entries"
}
