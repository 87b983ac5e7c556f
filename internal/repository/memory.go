package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

// In-memory stores back STORAGE_BACKEND=memory and the service and handler
// tests. Values are copied in and out so callers never share state with the
// store.

// MemoryDirectory is an in-memory directory.
type MemoryDirectory struct {
	mu        sync.RWMutex
	companies map[string]approval.Company
	users     map[string]approval.User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		companies: make(map[string]approval.Company),
		users:     make(map[string]approval.User),
	}
}

func (s *MemoryDirectory) CreateCompanyWithAdmin(ctx context.Context, company *approval.Company, admin *approval.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.companies[company.ID]; ok {
		return errors.Newf(errors.ErrCodeConflict, "company %s already exists", company.ID)
	}
	if err := s.checkUserLocked(admin); err != nil {
		return err
	}
	s.companies[company.ID] = *company
	s.users[admin.ID] = normalizedUser(*admin)
	return nil
}

func (s *MemoryDirectory) CreateUser(ctx context.Context, u *approval.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.companies[u.CompanyID]; !ok {
		return errors.NotFound("company", u.CompanyID)
	}
	if err := s.checkUserLocked(u); err != nil {
		return err
	}
	s.users[u.ID] = normalizedUser(*u)
	return nil
}

func (s *MemoryDirectory) checkUserLocked(u *approval.User) error {
	if _, ok := s.users[u.ID]; ok {
		return errors.Newf(errors.ErrCodeConflict, "user %s already exists", u.ID)
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return errors.Newf(errors.ErrCodeConflict, "email %s is already registered", u.Email)
		}
	}
	return nil
}

func normalizedUser(u approval.User) approval.User {
	u.Email = strings.ToLower(u.Email)
	return u
}

func (s *MemoryDirectory) GetUser(ctx context.Context, id string) (*approval.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	return &u, nil
}

func (s *MemoryDirectory) GetUserByEmail(ctx context.Context, email string) (*approval.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, errors.NotFound("user", email)
}

func (s *MemoryDirectory) GetCompany(ctx context.Context, id string) (*approval.Company, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.companies[id]
	if !ok {
		return nil, errors.NotFound("company", id)
	}
	return &c, nil
}

func (s *MemoryDirectory) FindUsersByRole(ctx context.Context, companyID string, role approval.Role) ([]*approval.User, error) {
	return s.filterUsers(ctx, func(u approval.User) bool {
		return u.CompanyID == companyID && u.Role == role
	})
}

func (s *MemoryDirectory) ListUsers(ctx context.Context, companyID string) ([]*approval.User, error) {
	return s.filterUsers(ctx, func(u approval.User) bool {
		return u.CompanyID == companyID
	})
}

func (s *MemoryDirectory) filterUsers(ctx context.Context, keep func(approval.User) bool) ([]*approval.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*approval.User, 0)
	for _, u := range s.users {
		if keep(u) {
			u := u
			out = append(out, &u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *MemoryDirectory) UpdateUserRole(ctx context.Context, id string, role approval.Role) error {
	return s.updateUser(ctx, id, func(u *approval.User) { u.Role = role })
}

func (s *MemoryDirectory) UpdateUserManager(ctx context.Context, id, managerID string) error {
	return s.updateUser(ctx, id, func(u *approval.User) { u.ManagerID = managerID })
}

func (s *MemoryDirectory) updateUser(ctx context.Context, id string, fn func(*approval.User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return errors.NotFound("user", id)
	}
	fn(&u)
	s.users[id] = u
	return nil
}

// MemoryPolicyStore is an in-memory policy store.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]approval.Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]approval.Policy)}
}

func (s *MemoryPolicyStore) GetActivePolicy(ctx context.Context, companyID string) (*approval.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[companyID]
	if !ok {
		return nil, nil
	}
	return clonePolicy(p), nil
}

func (s *MemoryPolicyStore) SetPolicy(ctx context.Context, p *approval.Policy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.policies[p.CompanyID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	s.policies[p.CompanyID] = *clonePolicy(*p)
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, companyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[companyID]; !ok {
		return errors.NotFound("approval_policy", companyID)
	}
	delete(s.policies, companyID)
	return nil
}

func clonePolicy(p approval.Policy) *approval.Policy {
	p.Roles = append([]approval.Role(nil), p.Roles...)
	p.Approvers = append([]approval.NamedApprover(nil), p.Approvers...)
	return &p
}

// MemoryExpenseStore is an in-memory expense store with compare-and-swap
// updates on the version field.
type MemoryExpenseStore struct {
	mu       sync.RWMutex
	expenses map[string]*approval.Expense
}

func NewMemoryExpenseStore() *MemoryExpenseStore {
	return &MemoryExpenseStore{expenses: make(map[string]*approval.Expense)}
}

func (s *MemoryExpenseStore) Create(ctx context.Context, e *approval.Expense) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expenses[e.ID]; ok {
		return errors.Newf(errors.ErrCodeConflict, "expense %s already exists", e.ID)
	}
	e.Version = 1
	s.expenses[e.ID] = e.Clone()
	return nil
}

func (s *MemoryExpenseStore) Get(ctx context.Context, id string) (*approval.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.expenses[id]
	if !ok {
		return nil, errors.NotFound("expense", id)
	}
	return e.Clone(), nil
}

func (s *MemoryExpenseStore) Update(ctx context.Context, e *approval.Expense, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.expenses[e.ID]
	if !ok {
		return errors.NotFound("expense", e.ID)
	}
	if current.Version != expectedVersion {
		return errors.Newf(errors.ErrCodeConcurrentModification, "expense %s was modified concurrently", e.ID)
	}
	e.Version = expectedVersion + 1
	s.expenses[e.ID] = e.Clone()
	return nil
}

func (s *MemoryExpenseStore) Delete(ctx context.Context, id string, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.expenses[id]
	if !ok {
		return errors.NotFound("expense", id)
	}
	if current.Version != expectedVersion {
		return errors.Newf(errors.ErrCodeConcurrentModification, "expense %s was modified concurrently", id)
	}
	delete(s.expenses, id)
	return nil
}

func (s *MemoryExpenseStore) ListByCompany(ctx context.Context, companyID string) ([]*approval.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*approval.Expense, 0)
	for _, e := range s.expenses {
		if e.CompanyID == companyID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}
