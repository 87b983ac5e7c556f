package approval

import (
	"sort"

	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

// Resolve materializes the approval steps for an expense submitted by
// submitter under policy. A nil policy means the company has not configured
// one, in which case the submitter's manager approves alone.
//
// The steps are a snapshot: later policy changes never affect them.
func Resolve(policy *Policy, submitter *User) ([]Step, error) {
	if policy == nil {
		return managerFallback(submitter)
	}

	switch policy.Kind {
	case PolicyNamedChain:
		approvers := make([]NamedApprover, len(policy.Approvers))
		copy(approvers, policy.Approvers)
		sort.SliceStable(approvers, func(i, j int) bool {
			return approvers[i].Order < approvers[j].Order
		})

		steps := make([]Step, 0, len(approvers))
		for _, a := range approvers {
			steps = append(steps, Step{
				Kind:           RequireUser,
				RequiredUserID: a.UserID,
				Order:          a.Order,
				Decision:       DecisionPending,
			})
		}
		return steps, nil

	case PolicyRoleChain:
		steps := make([]Step, 0, len(policy.Roles))
		for i, role := range policy.Roles {
			steps = append(steps, Step{
				Kind:         RequireRole,
				RequiredRole: role,
				Order:        i + 1,
				Decision:     DecisionPending,
			})
		}
		return steps, nil
	}

	return nil, errors.Newf(errors.ErrCodeInvalidPolicy, "unknown policy kind %q", policy.Kind)
}

func managerFallback(submitter *User) ([]Step, error) {
	if submitter.ManagerID == "" {
		return nil, errors.New(errors.ErrCodeNoApproverConfigured,
			"no approval policy configured and no manager assigned; ask your admin to set one up")
	}
	return []Step{{
		Kind:           RequireUser,
		RequiredUserID: submitter.ManagerID,
		Order:          1,
		Decision:       DecisionPending,
	}}, nil
}
