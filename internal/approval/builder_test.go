package approval_test

import (
	"context"
	"errors"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/approval"
	"github.com/frahmantamala/cash-advance/internal/organization"
)

type mockDirectory struct {
	departments map[string]*organization.Department
	err         error
}

func (m *mockDirectory) Department(_ context.Context, code string) (*organization.Department, error) {
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.departments[code]
	if !ok {
		return nil, organization.ErrDepartmentNotFound
	}
	return d, nil
}

func (m *mockDirectory) Position(_ context.Context, _ string) (*organization.Position, error) {
	return nil, organization.ErrPositionNotFound
}

func department(code string, tiers ...organization.Tier) *organization.Department {
	d := &organization.Department{Code: code, Approvers: map[organization.Tier]organization.Approver{}}
	for _, t := range tiers {
		d.Approvers[t] = organization.Approver{Email: string(t) + "@corp.test", Name: string(t), Role: t}
	}
	return d
}

var _ = Describe("ChainBuilder", func() {
	var (
		dir     *mockDirectory
		builder *approval.ChainBuilder
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = &mockDirectory{departments: map[string]*organization.Department{
			"FULL":  department("FULL", organization.Tiers...),
			"FLAT":  department("FLAT", organization.TierSupervisor, organization.TierFinance),
			"MID":   department("MID", organization.TierSupervisor, organization.TierHeadOfBusiness, organization.TierFinance),
			"ORPH":  department("ORPH"),
			"NOFIN": department("NOFIN", organization.TierSupervisor, organization.TierDepartmentalHead),
		}}
		builder = approval.NewChainBuilder(dir, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	})

	It("should build a four level chain in tier order", func() {
		chain, err := builder.Build(ctx, organization.Position{EmployeeEmail: "emp@corp.test", DepartmentCode: "FULL"})
		Expect(err).NotTo(HaveOccurred())
		Expect(chain.Phase).To(Equal(approval.PhasePrimary))
		Expect(chain.Steps).To(HaveLen(4))
		for i, tier := range organization.Tiers {
			Expect(chain.Steps[i].Level).To(Equal(i + 1))
			Expect(chain.Steps[i].Approver.Role).To(Equal(tier))
			Expect(chain.Steps[i].Status).To(Equal(approval.StepPending))
		}
	})

	It("should collapse missing optional tiers with dense levels", func() {
		chain, err := builder.Build(ctx, organization.Position{EmployeeEmail: "emp@corp.test", DepartmentCode: "MID"})
		Expect(err).NotTo(HaveOccurred())
		Expect(chain.Steps).To(HaveLen(3))
		Expect(chain.Steps[1].Level).To(Equal(2))
		Expect(chain.Steps[1].Approver.Role).To(Equal(organization.TierHeadOfBusiness))
		Expect(chain.Last().Approver.Role).To(Equal(organization.TierFinance))
	})

	It("should build a two level chain for a flat department", func() {
		chain, err := builder.Build(ctx, organization.Position{EmployeeEmail: "emp@corp.test", DepartmentCode: "FLAT"})
		Expect(err).NotTo(HaveOccurred())
		Expect(chain.Steps).To(HaveLen(2))
	})

	It("should skip a tier the employee holds", func() {
		chain, err := builder.Build(ctx, organization.Position{EmployeeEmail: "Departmental_Head@corp.test", DepartmentCode: "FULL"})
		Expect(err).NotTo(HaveOccurred())
		Expect(chain.Steps).To(HaveLen(3))
		for _, s := range chain.Steps {
			Expect(s.Approver.Role).NotTo(Equal(organization.TierDepartmentalHead))
		}
		Expect(chain.CheckInvariants()).To(Succeed())
	})

	DescribeTable("should fail with ChainResolution and never return steps",
		func(pos organization.Position) {
			chain, err := builder.Build(ctx, pos)
			Expect(errors.Is(err, internal.ErrChainResolution)).To(BeTrue())
			Expect(chain.Steps).To(BeEmpty())
		},
		Entry("unknown department", organization.Position{EmployeeEmail: "emp@corp.test", DepartmentCode: "GHOST"}),
		Entry("blank department", organization.Position{EmployeeEmail: "emp@corp.test"}),
		Entry("orphaned department", organization.Position{EmployeeEmail: "emp@corp.test", DepartmentCode: "ORPH"}),
		Entry("no finance tier", organization.Position{EmployeeEmail: "emp@corp.test", DepartmentCode: "NOFIN"}),
		Entry("employee is the only finance approver", organization.Position{EmployeeEmail: "finance@corp.test", DepartmentCode: "FLAT"}),
		Entry("employee is the supervisor of a flat department", organization.Position{EmployeeEmail: "supervisor@corp.test", DepartmentCode: "FLAT"}),
	)

	It("should still chain a supervisor through the higher tiers", func() {
		chain, err := builder.Build(ctx, organization.Position{EmployeeEmail: "supervisor@corp.test", DepartmentCode: "MID"})
		Expect(err).NotTo(HaveOccurred())
		Expect(chain.Steps).To(HaveLen(2))
		Expect(chain.Steps[0].Approver.Role).To(Equal(organization.TierHeadOfBusiness))
		Expect(chain.Steps[0].Level).To(Equal(1))
		Expect(chain.Last().Approver.Role).To(Equal(organization.TierFinance))
	})

	It("should name the missing required tier", func() {
		_, err := builder.Build(ctx, organization.Position{EmployeeEmail: "emp@corp.test", DepartmentCode: "NOFIN"})
		Expect(err).To(MatchError(ContainSubstring("no finance approver configured")))
	})

	It("should surface directory failures as internal errors", func() {
		dir.err = errors.New("connection reset")
		_, err := builder.Build(ctx, organization.Position{EmployeeEmail: "emp@corp.test", DepartmentCode: "FULL"})
		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Type).To(Equal(internal.ErrorTypeInternal))
	})
})
