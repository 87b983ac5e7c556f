package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// fixture is one company with an admin, a manager, a director and an
// employee who reports to the manager, plus a second company.
type fixture struct {
	directory *repository.MemoryDirectory
	policies  *repository.MemoryPolicyStore
	expenses  *repository.MemoryExpenseStore

	expenseSvc   *ExpenseService
	policySvc    *PolicyService
	directorySvc *DirectoryService

	admin, manager, director, employee, loner *approval.User
	outsider                                   *approval.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()

	f := &fixture{
		directory: repository.NewMemoryDirectory(),
		policies:  repository.NewMemoryPolicyStore(),
		expenses:  repository.NewMemoryExpenseStore(),
	}
	f.expenseSvc = NewExpenseService(f.expenses, f.policies, f.directory, log)
	f.policySvc = NewPolicyService(f.policies, f.directory, log)
	f.directorySvc = NewDirectoryService(f.directory, log)

	var mu sync.Mutex
	clock := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	f.expenseSvc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	}

	mk := func(id, companyID string, role approval.Role, managerID string) *approval.User {
		return &approval.User{
			ID: id, CompanyID: companyID, Name: id, Email: id + "@" + companyID + ".test",
			Role: role, ManagerID: managerID,
		}
	}
	f.admin = mk("admin", "acme", approval.RoleAdmin, "")
	f.manager = mk("manager", "acme", approval.RoleManager, "")
	f.director = mk("director", "acme", approval.RoleDirector, "")
	f.employee = mk("employee", "acme", approval.RoleEmployee, "manager")
	f.loner = mk("loner", "acme", approval.RoleEmployee, "")

	if err := f.directory.CreateCompanyWithAdmin(ctx,
		&approval.Company{ID: "acme", Name: "Acme", Currency: "USD", AdminID: "admin"}, f.admin); err != nil {
		t.Fatal(err)
	}
	for _, u := range []*approval.User{f.manager, f.director, f.employee, f.loner} {
		if err := f.directory.CreateUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	f.outsider = mk("outsider", "globex", approval.RoleManager, "")
	if err := f.directory.CreateCompanyWithAdmin(ctx,
		&approval.Company{ID: "globex", Name: "Globex", Currency: "EUR", AdminID: "outsider"}, f.outsider); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) setRoleChain(t *testing.T, roles ...approval.Role) {
	t.Helper()
	_, err := f.policySvc.SetPolicy(context.Background(), &SetPolicyRequest{
		ActorID: f.admin.ID,
		Kind:    approval.PolicyRoleChain,
		Roles:   roles,
	})
	if err != nil {
		t.Fatalf("SetPolicy() error = %v", err)
	}
}

func (f *fixture) submit(t *testing.T, submitter *approval.User) *approval.Expense {
	t.Helper()
	exp, err := f.expenseSvc.SubmitExpense(context.Background(), &SubmitExpenseRequest{
		CompanyID:   submitter.CompanyID,
		SubmitterID: submitter.ID,
		Draft:       testDraft(),
	})
	if err != nil {
		t.Fatalf("SubmitExpense() error = %v", err)
	}
	return exp
}

func testDraft() approval.Draft {
	return approval.Draft{
		Description:   "office chairs",
		Category:      "Office Supplies",
		Amount:        decimal.NewFromInt(50),
		Currency:      "USD",
		ExpenseDate:   "2026-05-01",
		PaymentMethod: "Cash",
	}
}

func decide(f *fixture, exp *approval.Expense, idx int, actor *approval.User, d approval.Decision) (*approval.Expense, error) {
	return f.expenseSvc.DecideStep(context.Background(), &DecideStepRequest{
		ExpenseID: exp.ID,
		StepIndex: idx,
		ActorID:   actor.ID,
		Decision:  d,
	})
}
