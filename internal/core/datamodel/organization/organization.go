package organization

import "time"

type Department struct {
	Code      string    `gorm:"column:code;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Department) TableName() string {
	return "departments"
}

// DepartmentApprover is the holder of one approval tier in a department.
type DepartmentApprover struct {
	ID             int64     `gorm:"primaryKey"`
	DepartmentCode string    `gorm:"column:department_code;not null;uniqueIndex:idx_department_tier"`
	Tier           string    `gorm:"column:tier;not null;uniqueIndex:idx_department_tier"`
	Email          string    `gorm:"column:email;not null"`
	Name           string    `gorm:"column:name;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (DepartmentApprover) TableName() string {
	return "department_approvers"
}

type Employee struct {
	Email          string    `gorm:"column:email;primaryKey"`
	Name           string    `gorm:"column:name;not null"`
	DepartmentCode string    `gorm:"column:department_code;not null"`
	Title          string    `gorm:"column:title"`
	IsActive       bool      `gorm:"column:is_active;default:true"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Employee) TableName() string {
	return "employees"
}
