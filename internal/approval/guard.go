package approval

import (
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

// CanDecide reports whether actor may decide step idx of exp right now: the
// step is the lowest-indexed pending one, the expense is not terminal, the
// actor belongs to the expense's company and satisfies the step requirement.
// Admins have no implicit approval rights.
func CanDecide(exp *Expense, idx int, actor *User) bool {
	return CheckDecision(exp, idx, actor) == nil
}

// CheckDecision is CanDecide with the reason for a refusal.
func CheckDecision(exp *Expense, idx int, actor *User) error {
	if err := checkCompany(exp, actor); err != nil {
		return err
	}
	if idx < 0 || idx >= len(exp.Steps) {
		return errors.InvalidInput("step_index", "out of range")
	}
	return checkStep(exp, idx, actor)
}

// Matches reports whether actor satisfies the step requirement.
func (s Step) Matches(actor *User) bool {
	switch s.Kind {
	case RequireRole:
		return actor.Role == s.RequiredRole
	case RequireUser:
		return actor.ID == s.RequiredUserID
	}
	return false
}

func checkCompany(exp *Expense, actor *User) error {
	if actor == nil || actor.CompanyID != exp.CompanyID {
		return errors.New(errors.ErrCodeUnauthorized, "actor does not belong to the expense's company")
	}
	return nil
}

// checkStep assumes idx is in range.
func checkStep(exp *Expense, idx int, actor *User) error {
	for i := 0; i < idx; i++ {
		if exp.Steps[i].Decision == DecisionRejected {
			return errors.Newf(errors.ErrCodeExpenseFinalized, "expense was rejected at step %d", i)
		}
	}

	step := exp.Steps[idx]
	if !step.IsPending() {
		return errors.Newf(errors.ErrCodeAlreadyDecided, "step %d is already %s", idx, step.Decision)
	}
	if exp.Status.IsTerminal() {
		return errors.Newf(errors.ErrCodeExpenseFinalized, "expense is %s", exp.Status)
	}
	if !step.Matches(actor) {
		return errors.Newf(errors.ErrCodeUnauthorized, "user %s cannot decide step %d", actor.ID, idx)
	}

	for i := 0; i < idx; i++ {
		if exp.Steps[i].IsPending() {
			return errors.Newf(errors.ErrCodeWrongOrder, "step %d must be decided before step %d", i, idx)
		}
	}
	return nil
}
