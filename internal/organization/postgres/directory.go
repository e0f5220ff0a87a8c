package postgres

import (
	"context"
	"errors"
	"strings"

	orgDatamodel "github.com/frahmantamala/cash-advance/internal/core/datamodel/organization"
	"github.com/frahmantamala/cash-advance/internal/organization"
	"gorm.io/gorm"
)

// DirectoryRepository implements organization.Directory using GORM
type DirectoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) Department(ctx context.Context, code string) (*organization.Department, error) {
	var dept orgDatamodel.Department
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&dept).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, organization.ErrDepartmentNotFound
		}
		return nil, err
	}

	var rows []orgDatamodel.DepartmentApprover
	if err := r.db.WithContext(ctx).Where("department_code = ?", code).Find(&rows).Error; err != nil {
		return nil, err
	}

	out := &organization.Department{
		Code:      dept.Code,
		Name:      dept.Name,
		Approvers: make(map[organization.Tier]organization.Approver, len(rows)),
	}
	for _, row := range rows {
		tier := organization.Tier(row.Tier)
		if !tier.Valid() {
			continue
		}
		out.Approvers[tier] = organization.Approver{
			Email: strings.ToLower(row.Email),
			Name:  row.Name,
			Role:  tier,
		}
	}
	return out, nil
}

func (r *DirectoryRepository) Position(ctx context.Context, email string) (*organization.Position, error) {
	var emp orgDatamodel.Employee
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ? AND is_active = ?", strings.ToLower(email), true).
		First(&emp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, organization.ErrPositionNotFound
		}
		return nil, err
	}
	return &organization.Position{
		EmployeeEmail:  strings.ToLower(emp.Email),
		EmployeeName:   emp.Name,
		DepartmentCode: emp.DepartmentCode,
		Title:          emp.Title,
	}, nil
}

// AssignApprover upserts the holder of a tier; used by the seed command.
func (r *DirectoryRepository) AssignApprover(ctx context.Context, departmentCode string, a organization.Approver) error {
	row := orgDatamodel.DepartmentApprover{
		DepartmentCode: departmentCode,
		Tier:           string(a.Role),
		Email:          strings.ToLower(a.Email),
		Name:           a.Name,
	}
	return r.db.WithContext(ctx).
		Where("department_code = ? AND tier = ?", departmentCode, string(a.Role)).
		Assign(map[string]interface{}{"email": row.Email, "name": row.Name}).
		FirstOrCreate(&row).Error
}

func (r *DirectoryRepository) SaveDepartment(ctx context.Context, code, name string) error {
	row := orgDatamodel.Department{Code: code, Name: name}
	return r.db.WithContext(ctx).Where("code = ?", code).
		Assign(map[string]interface{}{"name": name}).
		FirstOrCreate(&row).Error
}

func (r *DirectoryRepository) SaveEmployee(ctx context.Context, p organization.Position) error {
	row := orgDatamodel.Employee{
		Email:          strings.ToLower(p.EmployeeEmail),
		Name:           p.EmployeeName,
		DepartmentCode: p.DepartmentCode,
		Title:          p.Title,
		IsActive:       true,
	}
	return r.db.WithContext(ctx).Where("email = ?", row.Email).
		Assign(map[string]interface{}{
			"name":            row.Name,
			"department_code": row.DepartmentCode,
			"title":           row.Title,
			"is_active":       true,
		}).
		FirstOrCreate(&row).Error
}
