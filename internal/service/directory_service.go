package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/logger"
)

// DirectoryService handles company onboarding and user administration.
// Credentials are opaque here; hashing and verification belong to the auth
// collaborator.
type DirectoryService struct {
	directory Directory
	log       *logger.Logger
	now       func() time.Time
}

// NewDirectoryService creates a new DirectoryService.
func NewDirectoryService(directory Directory, log *logger.Logger) *DirectoryService {
	return &DirectoryService{
		directory: directory,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SignupRequest represents a company signup request
type SignupRequest struct {
	CompanyName string
	Currency    approval.Currency
	AdminName   string
	Email       string
	Credential  string
}

// CreateUserRequest represents a create user request
type CreateUserRequest struct {
	ActorID    string
	Name       string
	Email      string
	Credential string
	Role       approval.Role
	ManagerID  string
}

// Signup creates a company together with its admin.
func (s *DirectoryService) Signup(ctx context.Context, req *SignupRequest) (*approval.Company, *approval.User, error) {
	companyName := strings.TrimSpace(req.CompanyName)
	if companyName == "" {
		return nil, nil, errors.InvalidInput("company_name", "is required")
	}
	if !req.Currency.IsValid() {
		return nil, nil, errors.InvalidInput("currency", "unsupported currency")
	}
	name, email, err := normalizeIdentity(req.AdminName, req.Email)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, nil, err
	}

	now := s.now()
	company := &approval.Company{
		ID:        uuid.NewString(),
		Name:      companyName,
		Currency:  req.Currency,
		CreatedAt: now,
	}
	admin := &approval.User{
		ID:         uuid.NewString(),
		CompanyID:  company.ID,
		Name:       name,
		Email:      email,
		Credential: req.Credential,
		Role:       approval.RoleAdmin,
		CreatedAt:  now,
	}
	company.AdminID = admin.ID

	if err := s.directory.CreateCompanyWithAdmin(ctx, company, admin); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("company_id", company.ID).
		Str("admin_id", admin.ID).
		Str("currency", string(company.Currency)).
		Msg("Company created")

	return company, admin, nil
}

// CreateUser adds a user to the admin's company.
func (s *DirectoryService) CreateUser(ctx context.Context, req *CreateUserRequest) (*approval.User, error) {
	actor, err := s.requireAdmin(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	if !req.Role.IsValid() {
		return nil, errors.InvalidInput("role", "unknown role")
	}
	name, email, err := normalizeIdentity(req.Name, req.Email)
	if err != nil {
		return nil, err
	}
	if req.ManagerID != "" {
		if err := s.checkManager(ctx, actor.CompanyID, req.ManagerID); err != nil {
			return nil, err
		}
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, err
	}

	u := &approval.User{
		ID:         uuid.NewString(),
		CompanyID:  actor.CompanyID,
		Name:       name,
		Email:      email,
		Credential: req.Credential,
		Role:       req.Role,
		ManagerID:  req.ManagerID,
		CreatedAt:  s.now(),
	}
	if err := s.directory.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", u.ID).
		Str("company_id", u.CompanyID).
		Str("role", string(u.Role)).
		Msg("User created")

	return u, nil
}

// UpdateRole changes a company member's role.
func (s *DirectoryService) UpdateRole(ctx context.Context, actorID, userID string, role approval.Role) (*approval.User, error) {
	actor, err := s.requireAdmin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, errors.InvalidInput("role", "unknown role")
	}
	target, err := s.companyMember(ctx, actor.CompanyID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.directory.UpdateUserRole(ctx, target.ID, role); err != nil {
		return nil, err
	}
	target.Role = role

	s.log.Info().
		Str("user_id", target.ID).
		Str("role", string(role)).
		Str("actor_id", actor.ID).
		Msg("User role updated")

	return target, nil
}

// AssignManager sets a member's manager. An empty managerID removes it.
func (s *DirectoryService) AssignManager(ctx context.Context, actorID, userID, managerID string) (*approval.User, error) {
	actor, err := s.requireAdmin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	target, err := s.companyMember(ctx, actor.CompanyID, userID)
	if err != nil {
		return nil, err
	}
	if managerID != "" {
		if managerID == target.ID {
			return nil, errors.InvalidInput("manager_id", "a user cannot manage themselves")
		}
		if err := s.checkManager(ctx, actor.CompanyID, managerID); err != nil {
			return nil, err
		}
	}

	if err := s.directory.UpdateUserManager(ctx, target.ID, managerID); err != nil {
		return nil, err
	}
	target.ManagerID = managerID

	s.log.Info().
		Str("user_id", target.ID).
		Str("manager_id", managerID).
		Str("actor_id", actor.ID).
		Msg("Manager assigned")

	return target, nil
}

// ListUsers returns every member of the admin's company.
func (s *DirectoryService) ListUsers(ctx context.Context, actorID string) ([]*approval.User, error) {
	actor, err := s.requireAdmin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.directory.ListUsers(ctx, actor.CompanyID)
}

// ListApprovers returns the members who may appear in an approval chain.
func (s *DirectoryService) ListApprovers(ctx context.Context, actorID string) ([]*approval.User, error) {
	actor, err := s.directory.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}

	all, err := s.directory.ListUsers(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}
	approvers := make([]*approval.User, 0, len(all))
	for _, u := range all {
		if u.Role.CanApprove() {
			approvers = append(approvers, u)
		}
	}
	return approvers, nil
}

// Me returns the actor together with their company.
func (s *DirectoryService) Me(ctx context.Context, actorID string) (*approval.User, *approval.Company, error) {
	actor, err := s.directory.GetUser(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	company, err := s.directory.GetCompany(ctx, actor.CompanyID)
	if err != nil {
		return nil, nil, err
	}
	return actor, company, nil
}

func (s *DirectoryService) requireAdmin(ctx context.Context, actorID string) (*approval.User, error) {
	actor, err := s.directory.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != approval.RoleAdmin {
		return nil, errors.New(errors.ErrCodeUnauthorized, "admin privileges required")
	}
	return actor, nil
}

// companyMember loads id and checks it belongs to companyID. A user from
// another company is reported as not found.
func (s *DirectoryService) companyMember(ctx context.Context, companyID, id string) (*approval.User, error) {
	u, err := s.directory.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.CompanyID != companyID {
		return nil, errors.NotFound("user", id)
	}
	return u, nil
}

func (s *DirectoryService) checkManager(ctx context.Context, companyID, managerID string) error {
	_, err := s.companyMember(ctx, companyID, managerID)
	if errors.Is(err, errors.ErrNotFound) {
		return errors.InvalidInput("manager_id", "manager not found in your company")
	}
	return err
}

func (s *DirectoryService) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.directory.GetUserByEmail(ctx, email)
	if err == nil {
		return errors.Newf(errors.ErrCodeConflict, "email %s is already registered", email)
	}
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	return err
}

func normalizeIdentity(name, email string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", errors.InvalidInput("name", "is required")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", "", errors.InvalidInput("email", "is not a valid address")
	}
	return name, strings.ToLower(addr.Address), nil
}
