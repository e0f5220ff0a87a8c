package advance

import (
	"strings"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/approval"
	"github.com/frahmantamala/cash-advance/internal/core/common/validation"
	"github.com/shopspring/decimal"
)

type DocumentDTO struct {
	Key      string `json:"key" validate:"required,max=512"`
	FileName string `json:"file_name,omitempty" validate:"max=255"`
}

// CreateRequestDTO represents the request payload for creating a cash request
type CreateRequestDTO struct {
	Mode              string          `json:"mode" validate:"required,oneof=advance reimbursement"`
	RequestType       string          `json:"request_type" validate:"required,max=64"`
	Purpose           string          `json:"purpose" validate:"required,max=500"`
	JustificationText string          `json:"justification_text,omitempty" validate:"max=2000"`
	AmountRequested   decimal.Decimal `json:"amount_requested"`
	Urgency           string          `json:"urgency,omitempty" validate:"omitempty,oneof=low medium high urgent"`
	RequiredDate      *time.Time      `json:"required_date,omitempty"`
	Documents         []DocumentDTO   `json:"documents,omitempty" validate:"dive"`
}

func (dto CreateRequestDTO) Validate() error {
	if err := validation.Merge(
		validation.Struct(dto),
		validation.ValidateAmount("amount_requested", dto.AmountRequested),
	); err != nil {
		return err
	}
	return nil
}

func (dto CreateRequestDTO) Draft() Draft {
	return Draft{
		Mode:              Mode(dto.Mode),
		RequestType:       strings.ToLower(strings.TrimSpace(dto.RequestType)),
		Purpose:           dto.Purpose,
		JustificationText: dto.JustificationText,
		Amount:            dto.AmountRequested,
		Urgency:           Urgency(dto.Urgency),
		RequiredDate:      dto.RequiredDate,
		Documents:         toDocuments(dto.Documents),
	}
}

// DecisionDTO is used for both the primary and the justification chain.
type DecisionDTO struct {
	Decision       string           `json:"decision" validate:"required,oneof=approved rejected"`
	Comments       string           `json:"comments,omitempty" validate:"max=2000"`
	Level          int              `json:"level,omitempty" validate:"gte=0"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount,omitempty"`
}

func (dto DecisionDTO) Validate() error {
	if err := validation.Struct(dto); err != nil {
		return err
	}
	if dto.Decision == string(approval.DecisionRejected) && strings.TrimSpace(dto.Comments) == "" {
		return internal.NewValidationFieldError("comments", "comments are required when rejecting", internal.ErrCodeValidationFailed)
	}
	if dto.ApprovedAmount != nil {
		if err := validation.ValidateAmount("approved_amount", *dto.ApprovedAmount); err != nil {
			return err
		}
	}
	return nil
}

type DisbursementDTO struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes,omitempty" validate:"max=1000"`
}

// Validate only checks shape; amount bounds are enforced by the ledger so the
// InvalidAmount code is reported consistently.
func (dto DisbursementDTO) Validate() error {
	if err := validation.Struct(dto); err != nil {
		return err
	}
	return nil
}

type LineItemDTO struct {
	Description string          `json:"description" validate:"required,max=255"`
	Category    string          `json:"category,omitempty" validate:"max=64"`
	Amount      decimal.Decimal `json:"amount"`
}

type JustificationDTO struct {
	AmountSpent       decimal.Decimal `json:"amount_spent"`
	BalanceReturned   decimal.Decimal `json:"balance_returned"`
	Details           string          `json:"details" validate:"required,max=4000"`
	ItemizedBreakdown []LineItemDTO   `json:"itemized_breakdown,omitempty" validate:"dive"`
	Documents         []DocumentDTO   `json:"documents,omitempty" validate:"dive"`
}

func (dto JustificationDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("amount_spent", dto.AmountSpent).NonNegative(internal.ErrCodeInvalidAmount).MaxPlaces(2)
	v.Field("balance_returned", dto.BalanceReturned).NonNegative(internal.ErrCodeInvalidAmount).MaxPlaces(2)
	for _, item := range dto.ItemizedBreakdown {
		v.Field("itemized_breakdown.amount", item.Amount).NonNegative(internal.ErrCodeInvalidAmount)
	}
	if err := validation.Merge(validation.Struct(dto), v.Validate()); err != nil {
		return err
	}
	return nil
}

func (dto JustificationDTO) Draft() JustificationDraft {
	items := make([]LineItem, 0, len(dto.ItemizedBreakdown))
	for _, it := range dto.ItemizedBreakdown {
		items = append(items, LineItem{
			Description: strings.TrimSpace(it.Description),
			Category:    strings.TrimSpace(it.Category),
			Amount:      it.Amount,
		})
	}
	return JustificationDraft{
		AmountSpent:     dto.AmountSpent,
		BalanceReturned: dto.BalanceReturned,
		Details:         dto.Details,
		Items:           items,
		Documents:       toDocuments(dto.Documents),
	}
}

// LedgerResponse is returned by the disbursement endpoint.
type LedgerResponse struct {
	Request *Request `json:"request"`
	Ledger  Ledger   `json:"ledger"`
}

type ListResponse struct {
	Requests []*Request `json:"requests"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

func toDocuments(in []DocumentDTO) []Document {
	out := make([]Document, 0, len(in))
	for _, d := range in {
		out = append(out, Document{Key: strings.TrimSpace(d.Key), FileName: strings.TrimSpace(d.FileName)})
	}
	return out
}

// Keys returns the storage keys of docs.
func Keys(docs []Document) []string {
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.Key)
	}
	return keys
}
