package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/advance"
	"github.com/frahmantamala/cash-advance/internal/approval"
	model "github.com/frahmantamala/cash-advance/internal/core/datamodel/advance"
	"github.com/frahmantamala/cash-advance/internal/organization"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	scopeRequest       = "request"
	scopeJustification = "justification"
)

// RequestRepository implements advance.Repository using GORM. Every write
// runs in one transaction guarded by the version column.
type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, req *advance.Request) error {
	row := toRow(req)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		if err := insertSteps(tx, req); err != nil {
			return err
		}
		if docs := documentRows(req.ID, scopeRequest, req.Documents); len(docs) > 0 {
			if err := tx.Create(&docs).Error; err != nil {
				return fmt.Errorf("insert documents: %w", err)
			}
		}
		return nil
	})
}

func (r *RequestRepository) GetByID(ctx context.Context, id string) (*advance.Request, error) {
	var row model.CashRequest
	err := preload(r.db.WithContext(ctx)).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrRequestNotFound
		}
		return nil, err
	}
	return toDomain(&row)
}

// Update saves req if the stored version still equals req.Version and
// increments req.Version on success.
func (r *RequestRepository) Update(ctx context.Context, req *advance.Request) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.CashRequest{}).
			Where("id = ? AND version = ?", req.ID, req.Version).
			Updates(map[string]interface{}{
				"status":          req.Status.String(),
				"status_level":    req.Status.Level,
				"amount_approved": req.AmountApproved,
				"version":         req.Version + 1,
				"updated_at":      req.UpdatedAt.UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("update request: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return internal.ErrConcurrentModification
		}

		if err := tx.Where("request_id = ?", req.ID).Delete(&model.ApprovalStep{}).Error; err != nil {
			return fmt.Errorf("clear steps: %w", err)
		}
		if err := insertSteps(tx, req); err != nil {
			return err
		}
		if err := appendDisbursements(tx, req); err != nil {
			return err
		}
		if req.Justification != nil {
			if err := saveJustification(tx, req); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	req.Version++
	return nil
}

func (r *RequestRepository) ListByEmployee(ctx context.Context, email string, limit, offset int) ([]*advance.Request, error) {
	var rows []model.CashRequest
	err := preload(r.db.WithContext(ctx)).
		Where("LOWER(employee_email) = ?", strings.ToLower(email)).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainList(rows)
}

// ListAwaiting returns requests whose current pending step is held by approverEmail.
func (r *RequestRepository) ListAwaiting(ctx context.Context, approverEmail string, limit, offset int) ([]*advance.Request, error) {
	var rows []model.CashRequest
	err := preload(r.db.WithContext(ctx)).
		Joins(`JOIN approval_steps s ON s.request_id = cash_requests.id
			AND s.level = cash_requests.status_level
			AND s.status = ?
			AND LOWER(s.approver_email) = ?`, string(approval.StepPending), strings.ToLower(approverEmail)).
		Where(`(cash_requests.status LIKE 'pending%' AND s.chain = ?)
			OR (cash_requests.status LIKE 'justification_pending%' AND s.chain = ?)`,
			string(approval.PhasePrimary), string(approval.PhaseJustification)).
		Order("cash_requests.created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainList(rows)
}

func preload(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("chain, level") }).
		Preload("Disbursements", func(db *gorm.DB) *gorm.DB { return db.Order("sequence") }).
		Preload("Documents", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Justification")
}

func insertSteps(tx *gorm.DB, req *advance.Request) error {
	var rows []model.ApprovalStep
	for _, c := range []approval.Chain{req.ApprovalChain, req.JustificationChain} {
		phase := c.Phase
		if phase == "" {
			phase = approval.PhasePrimary
		}
		for _, s := range c.Steps {
			rows = append(rows, model.ApprovalStep{
				RequestID:     req.ID,
				Chain:         string(phase),
				Level:         s.Level,
				ApproverEmail: strings.ToLower(s.Approver.Email),
				ApproverName:  s.Approver.Name,
				ApproverRole:  string(s.Approver.Role),
				Status:        string(s.Status),
				Comments:      s.Comments,
				ActionAt:      s.ActionAt,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert steps: %w", err)
	}
	return nil
}

// appendDisbursements inserts entries not yet stored. Stored entries are never rewritten.
func appendDisbursements(tx *gorm.DB, req *advance.Request) error {
	var stored []string
	if err := tx.Model(&model.Disbursement{}).Where("request_id = ?", req.ID).Pluck("id", &stored).Error; err != nil {
		return fmt.Errorf("load disbursements: %w", err)
	}
	known := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		known[id] = struct{}{}
	}

	var rows []model.Disbursement
	for _, d := range req.Disbursements {
		if _, ok := known[d.ID]; ok {
			continue
		}
		rows = append(rows, model.Disbursement{
			ID:         d.ID,
			RequestID:  req.ID,
			Sequence:   d.Sequence,
			Amount:     d.Amount,
			Notes:      d.Notes,
			RecordedBy: d.RecordedBy,
			RecordedAt: d.RecordedAt.UTC(),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert disbursements: %w", err)
	}
	return nil
}

func saveJustification(tx *gorm.DB, req *advance.Request) error {
	j := req.Justification
	row := model.Justification{
		RequestID:         req.ID,
		AmountSpent:       j.AmountSpent,
		BalanceReturned:   j.BalanceReturned,
		Details:           j.Details,
		JustificationDate: j.JustificationDate.UTC(),
		Unbalanced:        j.Unbalanced,
		Revision:          j.Revision,
		SubmittedAt:       req.UpdatedAt.UTC(),
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}},
		UpdateAll: true,
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("save justification: %w", err)
	}

	if err := tx.Where("request_id = ?", req.ID).Delete(&model.JustificationItem{}).Error; err != nil {
		return fmt.Errorf("clear justification items: %w", err)
	}
	if len(j.Items) > 0 {
		items := make([]model.JustificationItem, 0, len(j.Items))
		for i, it := range j.Items {
			items = append(items, model.JustificationItem{
				RequestID:   req.ID,
				Position:    i + 1,
				Description: it.Description,
				Category:    it.Category,
				Amount:      it.Amount,
			})
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("insert justification items: %w", err)
		}
	}

	if err := tx.Where("request_id = ? AND scope = ?", req.ID, scopeJustification).Delete(&model.RequestDocument{}).Error; err != nil {
		return fmt.Errorf("clear justification documents: %w", err)
	}
	if docs := documentRows(req.ID, scopeJustification, j.Documents); len(docs) > 0 {
		if err := tx.Create(&docs).Error; err != nil {
			return fmt.Errorf("insert justification documents: %w", err)
		}
	}
	return nil
}

func documentRows(requestID, scope string, docs []advance.Document) []model.RequestDocument {
	rows := make([]model.RequestDocument, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, model.RequestDocument{
			RequestID: requestID,
			Scope:     scope,
			Key:       d.Key,
			FileName:  d.FileName,
		})
	}
	return rows
}

func toRow(req *advance.Request) model.CashRequest {
	var required = req.RequiredDate
	if required != nil {
		t := required.UTC()
		required = &t
	}
	return model.CashRequest{
		ID:                req.ID,
		Mode:              string(req.Mode),
		RequestType:       req.RequestType,
		Purpose:           req.Purpose,
		JustificationText: req.JustificationText,
		AmountRequested:   req.AmountRequested,
		AmountApproved:    req.AmountApproved,
		Status:            req.Status.String(),
		StatusLevel:       req.Status.Level,
		Urgency:           string(req.Urgency),
		EmployeeEmail:     strings.ToLower(req.Employee.EmployeeEmail),
		EmployeeName:      req.Employee.EmployeeName,
		DepartmentCode:    req.Employee.DepartmentCode,
		RequiredDate:      required,
		Version:           req.Version,
		CreatedAt:         req.CreatedAt.UTC(),
		UpdatedAt:         req.UpdatedAt.UTC(),
	}
}

func toDomainList(rows []model.CashRequest) ([]*advance.Request, error) {
	out := make([]*advance.Request, 0, len(rows))
	for i := range rows {
		req, err := toDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func toDomain(row *model.CashRequest) (*advance.Request, error) {
	status, err := advance.ParseStatus(row.Status, row.StatusLevel)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", row.ID, err)
	}

	req := &advance.Request{
		ID:                row.ID,
		Mode:              advance.Mode(row.Mode),
		RequestType:       row.RequestType,
		Purpose:           row.Purpose,
		JustificationText: row.JustificationText,
		AmountRequested:   row.AmountRequested,
		AmountApproved:    row.AmountApproved,
		Status:            status,
		Urgency:           advance.Urgency(row.Urgency),
		Employee: organization.Position{
			EmployeeEmail:  row.EmployeeEmail,
			EmployeeName:   row.EmployeeName,
			DepartmentCode: row.DepartmentCode,
		},
		ApprovalChain:      approval.Chain{Phase: approval.PhasePrimary},
		JustificationChain: approval.Chain{Phase: approval.PhaseJustification},
		Disbursements:      make([]advance.Disbursement, 0, len(row.Disbursements)),
		Documents:          []advance.Document{},
		RequiredDate:       row.RequiredDate,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
		Version:            row.Version,
	}

	for _, s := range row.Steps {
		step := approval.Step{
			Level: s.Level,
			Approver: organization.Approver{
				Email: s.ApproverEmail,
				Name:  s.ApproverName,
				Role:  organization.Tier(s.ApproverRole),
			},
			Status:   approval.StepStatus(s.Status),
			Comments: s.Comments,
			ActionAt: s.ActionAt,
		}
		if approval.Phase(s.Chain) == approval.PhaseJustification {
			req.JustificationChain.Steps = append(req.JustificationChain.Steps, step)
		} else {
			req.ApprovalChain.Steps = append(req.ApprovalChain.Steps, step)
		}
	}

	for _, d := range row.Disbursements {
		req.Disbursements = append(req.Disbursements, advance.Disbursement{
			ID:         d.ID,
			Sequence:   d.Sequence,
			Amount:     d.Amount,
			Notes:      d.Notes,
			RecordedBy: d.RecordedBy,
			RecordedAt: d.RecordedAt,
		})
	}

	var justificationDocs []advance.Document
	for _, d := range row.Documents {
		doc := advance.Document{Key: d.Key, FileName: d.FileName}
		if d.Scope == scopeJustification {
			justificationDocs = append(justificationDocs, doc)
			continue
		}
		req.Documents = append(req.Documents, doc)
	}

	if row.Justification != nil {
		j := row.Justification
		items := make([]advance.LineItem, 0, len(row.Items))
		for _, it := range row.Items {
			items = append(items, advance.LineItem{
				Description: it.Description,
				Category:    it.Category,
				Amount:      it.Amount,
			})
		}
		req.Justification = &advance.Justification{
			AmountSpent:       j.AmountSpent,
			BalanceReturned:   j.BalanceReturned,
			Details:           j.Details,
			Items:             items,
			Documents:         justificationDocs,
			JustificationDate: j.JustificationDate,
			Unbalanced:        j.Unbalanced,
			Revision:          j.Revision,
		}
	}
	return req, nil
}
