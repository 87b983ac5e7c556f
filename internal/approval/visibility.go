package approval

import "sort"

// IsVisible reports whether actor may see exp.
//
// Employees see their own expenses. Managers and directors additionally see
// open expenses that have a pending step they could satisfy, even if it is
// not their turn yet. Admins see everything in their company.
func IsVisible(exp *Expense, actor *User) bool {
	if actor == nil || actor.CompanyID != exp.CompanyID {
		return false
	}
	if exp.SubmitterID == actor.ID {
		return true
	}

	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleManager, RoleDirector:
		if exp.Status.IsTerminal() {
			return false
		}
		for _, s := range exp.Steps {
			if s.IsPending() && s.Matches(actor) {
				return true
			}
		}
	}
	return false
}

// FilterVisible returns the expenses actor may see, newest first.
func FilterVisible(expenses []*Expense, actor *User) []*Expense {
	out := make([]*Expense, 0, len(expenses))
	for _, e := range expenses {
		if IsVisible(e, actor) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}
