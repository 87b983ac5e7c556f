package service

import (
	"context"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
)

// Directory holds companies and users.
type Directory interface {
	GetUser(ctx context.Context, id string) (*approval.User, error)
	GetUserByEmail(ctx context.Context, email string) (*approval.User, error)
	GetCompany(ctx context.Context, id string) (*approval.Company, error)
	FindUsersByRole(ctx context.Context, companyID string, role approval.Role) ([]*approval.User, error)
	ListUsers(ctx context.Context, companyID string) ([]*approval.User, error)
	CreateCompanyWithAdmin(ctx context.Context, company *approval.Company, admin *approval.User) error
	CreateUser(ctx context.Context, u *approval.User) error
	UpdateUserRole(ctx context.Context, id string, role approval.Role) error
	UpdateUserManager(ctx context.Context, id, managerID string) error
}

// PolicyStore holds at most one approval policy per company.
type PolicyStore interface {
	// GetActivePolicy returns nil, nil when the company has no policy.
	GetActivePolicy(ctx context.Context, companyID string) (*approval.Policy, error)
	SetPolicy(ctx context.Context, p *approval.Policy) error
	DeletePolicy(ctx context.Context, companyID string) error
}

// ExpenseStore persists expenses. Update and Delete must fail with a
// CONCURRENT_MODIFICATION error when the stored version differs from
// expectedVersion. Update sets e.Version to the new version on success.
type ExpenseStore interface {
	Create(ctx context.Context, e *approval.Expense) error
	Get(ctx context.Context, id string) (*approval.Expense, error)
	Update(ctx context.Context, e *approval.Expense, expectedVersion int) error
	Delete(ctx context.Context, id string, expectedVersion int) error
	ListByCompany(ctx context.Context, companyID string) ([]*approval.Expense, error)
}
