package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/logger"
)

// ExpenseService runs expense submission and the approval workflow on top of
// the pure approval engine.
type ExpenseService struct {
	expenses  ExpenseStore
	policies  PolicyStore
	directory Directory
	log       *logger.Logger
	now       func() time.Time
}

// NewExpenseService creates a new ExpenseService.
func NewExpenseService(
	expenses ExpenseStore,
	policies PolicyStore,
	directory Directory,
	log *logger.Logger,
) *ExpenseService {
	return &ExpenseService{
		expenses:  expenses,
		policies:  policies,
		directory: directory,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitExpenseRequest represents a submit expense request
type SubmitExpenseRequest struct {
	CompanyID   string
	SubmitterID string
	Draft       approval.Draft
}

// DecideStepRequest represents an approve or reject action on one step.
// ExpectedVersion, when set, must match the stored expense.
type DecideStepRequest struct {
	ExpenseID       string
	StepIndex       int
	ActorID         string
	Decision        approval.Decision
	Comment         string
	ExpectedVersion *int
}

// EditExpenseRequest represents an edit expense request
type EditExpenseRequest struct {
	ExpenseID       string
	ActorID         string
	Update          approval.Update
	ExpectedVersion *int
}

// ── Submission ────────────────────────────────────────────────────────────────

// SubmitExpense validates the draft, materializes the approval steps from the
// company's policy at this moment and stores the expense.
func (s *ExpenseService) SubmitExpense(ctx context.Context, req *SubmitExpenseRequest) (*approval.Expense, error) {
	submitter, err := s.directory.GetUser(ctx, req.SubmitterID)
	if err != nil {
		return nil, err
	}
	if req.CompanyID != "" && submitter.CompanyID != req.CompanyID {
		return nil, errors.New(errors.ErrCodeUnauthorized, "submitter does not belong to this company")
	}

	policy, err := s.policies.GetActivePolicy(ctx, submitter.CompanyID)
	if err != nil {
		return nil, err
	}

	exp, err := approval.NewExpense(uuid.NewString(), req.Draft, submitter, policy, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.expenses.Create(ctx, exp); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", exp.ID).
		Str("company_id", exp.CompanyID).
		Str("submitter_id", exp.SubmitterID).
		Int("total_steps", len(exp.Steps)).
		Str("status", string(exp.Status)).
		Msg("Expense submitted")

	return exp, nil
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// DecideStep records an approval or rejection on one step. The write is
// conditional on the version that was read, so two concurrent deciders cannot
// both succeed.
func (s *ExpenseService) DecideStep(ctx context.Context, req *DecideStepRequest) (*approval.Expense, error) {
	actor, err := s.directory.GetUser(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}

	exp, err := s.expenses.Get(ctx, req.ExpenseID)
	if err != nil {
		return nil, err
	}
	if err := checkExpectedVersion(exp, req.ExpectedVersion); err != nil {
		return nil, err
	}

	updated, err := approval.Decide(exp, req.StepIndex, actor, req.Decision, req.Comment, s.now())
	if err != nil {
		s.log.Debug().Err(err).
			Str("expense_id", exp.ID).
			Int("step_index", req.StepIndex).
			Str("actor_id", actor.ID).
			Msg("Decision refused")
		return nil, err
	}

	if err := s.expenses.Update(ctx, updated, exp.Version); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", updated.ID).
		Int("step_index", req.StepIndex).
		Str("actor_id", actor.ID).
		Str("decision", string(req.Decision)).
		Str("status", string(updated.Status)).
		Msg("Approval step decided")

	return updated, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// ListVisibleExpenses returns the expenses the actor may see, newest first.
func (s *ExpenseService) ListVisibleExpenses(ctx context.Context, actorID string) ([]*approval.Expense, error) {
	actor, err := s.directory.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}

	all, err := s.expenses.ListByCompany(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}
	return approval.FilterVisible(all, actor), nil
}

// GetExpense returns one expense if the actor may see it. Expenses the actor
// cannot see are reported as not found.
func (s *ExpenseService) GetExpense(ctx context.Context, actorID, expenseID string) (*approval.Expense, error) {
	actor, err := s.directory.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}

	exp, err := s.expenses.Get(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if !approval.IsVisible(exp, actor) {
		return nil, errors.NotFound("expense", expenseID)
	}
	return exp, nil
}

// ── Edit / withdraw ───────────────────────────────────────────────────────────

// EditExpense changes descriptive fields. Steps are never touched.
func (s *ExpenseService) EditExpense(ctx context.Context, req *EditExpenseRequest) (*approval.Expense, error) {
	actor, err := s.directory.GetUser(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}

	exp, err := s.expenses.Get(ctx, req.ExpenseID)
	if err != nil {
		return nil, err
	}
	if err := checkExpectedVersion(exp, req.ExpectedVersion); err != nil {
		return nil, err
	}

	updated, err := approval.ApplyUpdate(exp, actor, req.Update, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.expenses.Update(ctx, updated, exp.Version); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", updated.ID).
		Str("actor_id", actor.ID).
		Msg("Expense edited")

	return updated, nil
}

// WithdrawExpense deletes an expense.
func (s *ExpenseService) WithdrawExpense(ctx context.Context, actorID, expenseID string) error {
	actor, err := s.directory.GetUser(ctx, actorID)
	if err != nil {
		return err
	}

	exp, err := s.expenses.Get(ctx, expenseID)
	if err != nil {
		return err
	}
	if !approval.CanWithdraw(exp, actor) {
		return errors.New(errors.ErrCodeUnauthorized, "not allowed to withdraw this expense")
	}

	if err := s.expenses.Delete(ctx, expenseID, exp.Version); err != nil {
		return err
	}

	s.log.Info().
		Str("expense_id", expenseID).
		Str("actor_id", actor.ID).
		Str("status", string(exp.Status)).
		Msg("Expense withdrawn")

	return nil
}

// ── Statistics ────────────────────────────────────────────────────────────────

// StatusStats aggregates the expenses in one status. Amounts are summed per
// currency; no conversion is attempted.
type StatusStats struct {
	Count  int                                   `json:"count"`
	Totals map[approval.Currency]decimal.Decimal `json:"totals"`
}

// ExpenseStats summarizes a company's expenses.
type ExpenseStats struct {
	CompanyID string                           `json:"company_id"`
	Total     int                              `json:"total"`
	ByStatus  map[approval.Status]*StatusStats `json:"by_status"`
}

// ExpenseStats returns counts and totals per status. Admin only.
func (s *ExpenseService) ExpenseStats(ctx context.Context, actorID string) (*ExpenseStats, error) {
	actor, err := s.directory.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != approval.RoleAdmin {
		return nil, errors.New(errors.ErrCodeUnauthorized, "admin privileges required")
	}

	all, err := s.expenses.ListByCompany(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}

	stats := &ExpenseStats{
		CompanyID: actor.CompanyID,
		Total:     len(all),
		ByStatus:  make(map[approval.Status]*StatusStats),
	}
	for _, e := range all {
		st, ok := stats.ByStatus[e.Status]
		if !ok {
			st = &StatusStats{Totals: make(map[approval.Currency]decimal.Decimal)}
			stats.ByStatus[e.Status] = st
		}
		st.Count++
		st.Totals[e.Currency] = st.Totals[e.Currency].Add(e.Amount)
	}
	return stats, nil
}

func checkExpectedVersion(exp *approval.Expense, expected *int) error {
	if expected != nil && *expected != exp.Version {
		return errors.Newf(errors.ErrCodeConcurrentModification,
			"expense %s is at version %d, not %d", exp.ID, exp.Version, *expected)
	}
	return nil
}
