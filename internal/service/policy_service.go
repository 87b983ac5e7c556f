package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/logger"
)

// PolicyService manages each company's approval policy.
type PolicyService struct {
	policies  PolicyStore
	directory Directory
	log       *logger.Logger
	now       func() time.Time
}

// NewPolicyService creates a new PolicyService.
func NewPolicyService(policies PolicyStore, directory Directory, log *logger.Logger) *PolicyService {
	return &PolicyService{
		policies:  policies,
		directory: directory,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetPolicyRequest represents a set approval policy request
type SetPolicyRequest struct {
	ActorID   string
	Kind      approval.PolicyKind
	Roles     []approval.Role
	Approvers []approval.NamedApprover
}

// SetPolicy validates and stores the actor's company policy. Expenses
// already submitted keep the steps they were given.
func (s *PolicyService) SetPolicy(ctx context.Context, req *SetPolicyRequest) (*approval.Policy, error) {
	actor, err := s.requireAdmin(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	policy := &approval.Policy{
		CompanyID: actor.CompanyID,
		Kind:      req.Kind,
		Roles:     req.Roles,
		Approvers: req.Approvers,
		CreatedAt: now,
		UpdatedAt: now,
	}

	users, err := s.loadApprovers(ctx, req.Approvers)
	if err != nil {
		return nil, err
	}
	if err := approval.ValidatePolicy(policy, users); err != nil {
		return nil, err
	}

	if policy.Kind == approval.PolicyRoleChain {
		s.warnEmptyRoles(ctx, policy)
	}

	if err := s.policies.SetPolicy(ctx, policy); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("company_id", policy.CompanyID).
		Str("kind", string(policy.Kind)).
		Int("roles", len(policy.Roles)).
		Int("approvers", len(policy.Approvers)).
		Str("actor_id", actor.ID).
		Msg("Approval policy updated")

	return policy, nil
}

// GetPolicy returns the actor's company policy, or nil when the company uses
// the manager fallback. Employees may not read it.
func (s *PolicyService) GetPolicy(ctx context.Context, actorID string) (*approval.Policy, error) {
	actor, err := s.directory.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanApprove() {
		return nil, errors.New(errors.ErrCodeUnauthorized, "approver or admin privileges required")
	}
	return s.policies.GetActivePolicy(ctx, actor.CompanyID)
}

// ClearPolicy removes the actor's company policy.
func (s *PolicyService) ClearPolicy(ctx context.Context, actorID string) error {
	actor, err := s.requireAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if err := s.policies.DeletePolicy(ctx, actor.CompanyID); err != nil {
		return err
	}

	s.log.Info().
		Str("company_id", actor.CompanyID).
		Str("actor_id", actor.ID).
		Msg("Approval policy cleared")
	return nil
}

func (s *PolicyService) requireAdmin(ctx context.Context, actorID string) (*approval.User, error) {
	actor, err := s.directory.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != approval.RoleAdmin {
		return nil, errors.New(errors.ErrCodeUnauthorized, "admin privileges required")
	}
	return actor, nil
}

// loadApprovers fetches the named approvers that exist. Unknown ids are left
// out so ValidatePolicy reports them.
func (s *PolicyService) loadApprovers(ctx context.Context, approvers []approval.NamedApprover) (map[string]*approval.User, error) {
	users := make(map[string]*approval.User, len(approvers))
	for _, a := range approvers {
		if a.UserID == "" {
			continue
		}
		if _, ok := users[a.UserID]; ok {
			continue
		}
		u, err := s.directory.GetUser(ctx, a.UserID)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users[a.UserID] = u
	}
	return users, nil
}

// warnEmptyRoles logs roles in the chain that nobody in the company holds
// yet. Such a policy is valid but its expenses stall until someone does.
func (s *PolicyService) warnEmptyRoles(ctx context.Context, p *approval.Policy) {
	for _, role := range p.Roles {
		holders, err := s.directory.FindUsersByRole(ctx, p.CompanyID, role)
		if err != nil {
			s.log.Warn().Err(err).Str("role", string(role)).Msg("Could not look up role holders")
			continue
		}
		if len(holders) == 0 {
			s.log.Warn().
				Str("company_id", p.CompanyID).
				Str("role", string(role)).
				Msg("No users hold a role in the approval chain")
		}
	}
}
