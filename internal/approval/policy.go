package approval

import (
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

// ValidatePolicy checks a policy before it is stored. users holds the
// directory entries for the named approvers that exist; ids missing from it
// are treated as unknown users.
//
// A chain with no entries is accepted and auto-approves every expense.
func ValidatePolicy(p *Policy, users map[string]*User) error {
	if p == nil {
		return errors.New(errors.ErrCodeInvalidPolicy, "policy is required")
	}

	switch p.Kind {
	case PolicyRoleChain:
		if len(p.Approvers) > 0 {
			return errors.New(errors.ErrCodeInvalidPolicy, "role chain cannot list named approvers")
		}
		for _, role := range p.Roles {
			if !role.CanApprove() {
				return errors.Newf(errors.ErrCodeInvalidPolicy, "role %q cannot approve expenses", role)
			}
		}
		return nil

	case PolicyNamedChain:
		if len(p.Roles) > 0 {
			return errors.New(errors.ErrCodeInvalidPolicy, "named chain cannot list roles")
		}
		orders := make(map[int]string, len(p.Approvers))
		seen := make(map[string]bool, len(p.Approvers))
		for _, a := range p.Approvers {
			if a.UserID == "" {
				return errors.New(errors.ErrCodeInvalidPolicy, "approver user id is required")
			}
			if other, dup := orders[a.Order]; dup {
				return errors.Newf(errors.ErrCodeInvalidPolicy,
					"approvers %s and %s share order %d", other, a.UserID, a.Order)
			}
			orders[a.Order] = a.UserID
			if seen[a.UserID] {
				return errors.Newf(errors.ErrCodeInvalidPolicy, "approver %s listed twice", a.UserID)
			}
			seen[a.UserID] = true

			u, ok := users[a.UserID]
			if !ok || u == nil {
				return errors.Newf(errors.ErrCodeInvalidPolicy, "approver %s does not exist", a.UserID)
			}
			if u.CompanyID != p.CompanyID {
				return errors.Newf(errors.ErrCodeInvalidPolicy, "approver %s belongs to another company", a.UserID)
			}
			if !u.Role.CanApprove() {
				return errors.Newf(errors.ErrCodeInvalidPolicy,
					"approver %s has role %s; must be Manager, Director or Admin", a.UserID, u.Role)
			}
		}
		return nil
	}

	return errors.Newf(errors.ErrCodeInvalidPolicy, "unknown policy kind %q", p.Kind)
}
