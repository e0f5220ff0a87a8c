package advance

import (
	"time"

	"github.com/shopspring/decimal"
)

type CashRequest struct {
	ID                string              `gorm:"column:id;primaryKey"`
	Mode              string              `gorm:"column:mode;not null"`
	RequestType       string              `gorm:"column:request_type;not null"`
	Purpose           string              `gorm:"column:purpose;not null"`
	JustificationText string              `gorm:"column:justification_text"`
	AmountRequested   decimal.Decimal     `gorm:"column:amount_requested;type:numeric(15,2);not null"`
	AmountApproved    decimal.NullDecimal `gorm:"column:amount_approved;type:numeric(15,2)"`
	Status            string              `gorm:"column:status;not null;index"`
	StatusLevel       int                 `gorm:"column:status_level"`
	Urgency           string              `gorm:"column:urgency;not null"`
	EmployeeEmail     string              `gorm:"column:employee_email;not null;index"`
	EmployeeName      string              `gorm:"column:employee_name"`
	DepartmentCode    string              `gorm:"column:department_code"`
	RequiredDate      *time.Time          `gorm:"column:required_date;type:date"`
	Version           int64               `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time           `gorm:"column:created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at"`
	Steps             []ApprovalStep      `gorm:"foreignKey:RequestID;references:ID"`
	Disbursements     []Disbursement      `gorm:"foreignKey:RequestID;references:ID"`
	Documents         []RequestDocument   `gorm:"foreignKey:RequestID;references:ID"`
	Justification     *Justification      `gorm:"foreignKey:RequestID;references:ID"`
	Items             []JustificationItem `gorm:"foreignKey:RequestID;references:ID"`
}

func (CashRequest) TableName() string {
	return "cash_requests"
}

type ApprovalStep struct {
	ID            int64      `gorm:"primaryKey"`
	RequestID     string     `gorm:"column:request_id;not null;index"`
	Chain         string     `gorm:"column:chain;not null"`
	Level         int        `gorm:"column:level;not null"`
	ApproverEmail string     `gorm:"column:approver_email;not null;index"`
	ApproverName  string     `gorm:"column:approver_name"`
	ApproverRole  string     `gorm:"column:approver_role;not null"`
	Status        string     `gorm:"column:status;not null"`
	Comments      string     `gorm:"column:comments"`
	ActionAt      *time.Time `gorm:"column:action_at"`
}

func (ApprovalStep) TableName() string {
	return "approval_steps"
}

type Disbursement struct {
	ID         string          `gorm:"column:id;primaryKey"`
	RequestID  string          `gorm:"column:request_id;not null;index"`
	Sequence   int             `gorm:"column:sequence;not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(15,2);not null"`
	Notes      string          `gorm:"column:notes"`
	RecordedBy string          `gorm:"column:recorded_by;not null"`
	RecordedAt time.Time       `gorm:"column:recorded_at;not null"`
}

func (Disbursement) TableName() string {
	return "disbursements"
}

type Justification struct {
	RequestID         string          `gorm:"column:request_id;primaryKey"`
	AmountSpent       decimal.Decimal `gorm:"column:amount_spent;type:numeric(15,2);not null"`
	BalanceReturned   decimal.Decimal `gorm:"column:balance_returned;type:numeric(15,2);not null"`
	Details           string          `gorm:"column:details;not null"`
	JustificationDate time.Time       `gorm:"column:justification_date;not null"`
	Unbalanced        bool            `gorm:"column:unbalanced"`
	Revision          int             `gorm:"column:revision;not null"`
	SubmittedAt       time.Time       `gorm:"column:submitted_at;not null"`
}

func (Justification) TableName() string {
	return "justifications"
}

type JustificationItem struct {
	ID          int64           `gorm:"primaryKey"`
	RequestID   string          `gorm:"column:request_id;not null;index"`
	Position    int             `gorm:"column:position;not null"`
	Description string          `gorm:"column:description;not null"`
	Category    string          `gorm:"column:category"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(15,2);not null"`
}

func (JustificationItem) TableName() string {
	return "justification_items"
}

// RequestDocument scope is either "request" or "justification".
type RequestDocument struct {
	ID        int64  `gorm:"primaryKey"`
	RequestID string `gorm:"column:request_id;not null;index"`
	Scope     string `gorm:"column:scope;not null"`
	Key       string `gorm:"column:object_key;not null"`
	FileName  string `gorm:"column:file_name"`
}

func (RequestDocument) TableName() string {
	return "request_documents"
}
