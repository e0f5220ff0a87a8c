package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/frahmantamala/cash-advance/internal/organization"
	orgPostgres "github.com/frahmantamala/cash-advance/internal/organization/postgres"
	"github.com/spf13/cobra"
)

type seedDepartment struct {
	Code      string
	Name      string
	Approvers []organization.Approver
	Employees []organization.Position
}

var seedDepartments = []seedDepartment{
	{
		Code: "ENG",
		Name: "Engineering",
		Approvers: []organization.Approver{
			{Email: "sari@mail.com", Name: "Sari Supervisor", Role: organization.TierSupervisor},
			{Email: "budi@mail.com", Name: "Budi Head", Role: organization.TierDepartmentalHead},
			{Email: "rina@mail.com", Name: "Rina Business", Role: organization.TierHeadOfBusiness},
			{Email: "padil@mail.com", Name: "Padil Finance", Role: organization.TierFinance},
		},
		Employees: []organization.Position{
			{EmployeeEmail: "fadhil@mail.com", EmployeeName: "Fadhil", Title: "Engineer"},
			{EmployeeEmail: "sari@mail.com", EmployeeName: "Sari Supervisor", Title: "Engineering Supervisor"},
			{EmployeeEmail: "budi@mail.com", EmployeeName: "Budi Head", Title: "Head of Engineering"},
		},
	},
	{
		Code: "OPS",
		Name: "Operations",
		Approvers: []organization.Approver{
			{Email: "tono@mail.com", Name: "Tono Supervisor", Role: organization.TierSupervisor},
			{Email: "wati@mail.com", Name: "Wati Head", Role: organization.TierDepartmentalHead},
			{Email: "padil@mail.com", Name: "Padil Finance", Role: organization.TierFinance},
		},
		Employees: []organization.Position{
			{EmployeeEmail: "dewi@mail.com", EmployeeName: "Dewi", Title: "Operations Analyst"},
			{EmployeeEmail: "tono@mail.com", EmployeeName: "Tono Supervisor", Title: "Operations Supervisor"},
		},
	},
	{
		Code: "FIN",
		Name: "Finance",
		Approvers: []organization.Approver{
			{Email: "lukas@mail.com", Name: "Lukas Controller", Role: organization.TierSupervisor},
			{Email: "padil@mail.com", Name: "Padil Finance", Role: organization.TierFinance},
		},
		Employees: []organization.Position{
			{EmployeeEmail: "maya@mail.com", EmployeeName: "Maya", Title: "Accountant"},
		},
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed departments, their approvers and employees for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlDB.Close()

		db, err := initGorm(sqlDB)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if clearData {
			for _, table := range []string{"employees", "department_approvers", "departments"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared organization data")
		}

		directory := orgPostgres.NewDirectoryRepository(db)
		for _, d := range seedDepartments {
			if err := directory.SaveDepartment(ctx, d.Code, d.Name); err != nil {
				log.Fatalf("failed to save department %s: %v", d.Code, err)
			}
			for _, a := range d.Approvers {
				if err := directory.AssignApprover(ctx, d.Code, a); err != nil {
					log.Fatalf("failed to assign %s in %s: %v", a.Role, d.Code, err)
				}
			}
			for _, e := range d.Employees {
				e.DepartmentCode = d.Code
				if err := directory.SaveEmployee(ctx, e); err != nil {
					log.Fatalf("failed to save employee %s: %v", e.EmployeeEmail, err)
				}
			}
			fmt.Printf("Seeded department %s with %d approvers and %d employees\n", d.Code, len(d.Approvers), len(d.Employees))
		}

		fmt.Println("Organization seeded successfully")
	},
}
