package approval

import (
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

// DeriveStatus computes an expense's status from its steps.
func DeriveStatus(steps []Step) Status {
	approved := 0
	for _, s := range steps {
		switch s.Decision {
		case DecisionRejected:
			return StatusRejected
		case DecisionApproved:
			approved++
		}
	}

	switch {
	case approved == len(steps):
		return StatusApproved
	case approved > 0:
		return StatusPartiallyApproved
	}
	return StatusSubmitted
}

// NewExpense validates draft, resolves the approval steps from policy and
// returns the submitted expense. A policy with an empty chain yields an
// expense that is approved on submission.
func NewExpense(id string, draft Draft, submitter *User, policy *Policy, now time.Time) (*Expense, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	steps, err := Resolve(policy, submitter)
	if err != nil {
		return nil, err
	}

	exp := &Expense{
		ID:            id,
		CompanyID:     submitter.CompanyID,
		SubmitterID:   submitter.ID,
		Description:   draft.Description,
		Category:      draft.Category,
		Amount:        draft.Amount,
		Currency:      draft.Currency,
		ExpenseDate:   draft.ExpenseDate,
		PaymentMethod: draft.PaymentMethod,
		Remarks:       draft.Remarks,
		Steps:         steps,
		Version:       1,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	exp.Status = DeriveStatus(steps)
	if exp.Status.IsTerminal() {
		resolved := now
		exp.ResolvedAt = &resolved
	}
	return exp, nil
}

// Decide records actor's decision on step idx and returns the updated
// expense. exp itself is never modified, so a failed decision leaves the
// caller's state untouched. The returned expense keeps exp's version; the
// store bumps it on write.
func Decide(exp *Expense, idx int, actor *User, decision Decision, comment string, now time.Time) (*Expense, error) {
	if err := checkCompany(exp, actor); err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(exp.Steps) {
		return nil, errors.InvalidInput("step_index", "out of range")
	}
	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, errors.InvalidInput("decision", "must be Approved or Rejected")
	}
	if err := checkStep(exp, idx, actor); err != nil {
		return nil, err
	}

	out := exp.Clone()
	decidedAt := now
	out.Steps[idx].Decision = decision
	out.Steps[idx].DecidedBy = actor.ID
	out.Steps[idx].DecidedAt = &decidedAt
	out.Steps[idx].Comment = comment

	out.Status = DeriveStatus(out.Steps)
	if out.Status.IsTerminal() {
		resolved := now
		out.ResolvedAt = &resolved
	}
	out.UpdatedAt = now
	return out, nil
}

// CanEdit reports whether actor may change exp's fields. Admins of the
// company always may; the submitter only until someone has approved.
func CanEdit(exp *Expense, actor *User) bool {
	if actor == nil || actor.CompanyID != exp.CompanyID {
		return false
	}
	if actor.Role == RoleAdmin {
		return true
	}
	return actor.ID == exp.SubmitterID && exp.Status == StatusSubmitted
}

// CanWithdraw reports whether actor may delete exp. Admins of the company
// always may; the submitter only while the expense is undecided overall.
func CanWithdraw(exp *Expense, actor *User) bool {
	if actor == nil || actor.CompanyID != exp.CompanyID {
		return false
	}
	if actor.Role == RoleAdmin {
		return true
	}
	return actor.ID == exp.SubmitterID && !exp.Status.IsTerminal()
}

// ApplyUpdate returns a copy of exp with upd applied. Steps and status are
// not touched.
func ApplyUpdate(exp *Expense, actor *User, upd Update, now time.Time) (*Expense, error) {
	if !CanEdit(exp, actor) {
		return nil, errors.New(errors.ErrCodeUnauthorized, "not allowed to edit this expense")
	}
	if upd.IsEmpty() {
		return nil, errors.InvalidInput("update", "no fields to update")
	}

	out := exp.Clone()
	if upd.Description != nil {
		out.Description = *upd.Description
	}
	if upd.Category != nil {
		out.Category = *upd.Category
	}
	if upd.Amount != nil {
		out.Amount = *upd.Amount
	}
	if upd.Currency != nil {
		out.Currency = *upd.Currency
	}
	if upd.ExpenseDate != nil {
		out.ExpenseDate = *upd.ExpenseDate
	}
	if upd.PaymentMethod != nil {
		out.PaymentMethod = *upd.PaymentMethod
	}
	if upd.Remarks != nil {
		out.Remarks = *upd.Remarks
	}

	d := Draft{
		Description:   out.Description,
		Category:      out.Category,
		Amount:        out.Amount,
		Currency:      out.Currency,
		ExpenseDate:   out.ExpenseDate,
		PaymentMethod: out.PaymentMethod,
		Remarks:       out.Remarks,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	out.Description = d.Description
	out.ExpenseDate = d.ExpenseDate
	out.UpdatedAt = now
	return out, nil
}
