package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/database"
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

// ExpenseRepository stores expenses with their approval steps embedded as a
// JSONB array. Writes are guarded by the version column.
type ExpenseRepository struct {
	db *database.DB
}

// NewExpenseRepository creates a new ExpenseRepository.
func NewExpenseRepository(db *database.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

const expenseColumns = `
	id, company_id, submitter_id, description, category,
	amount::text, currency, to_char(expense_date, 'YYYY-MM-DD'),
	payment_method, remarks, steps, status, version,
	submitted_at, resolved_at, updated_at
`

// Create inserts a new expense at version 1.
func (r *ExpenseRepository) Create(ctx context.Context, e *approval.Expense) error {
	stepsJSON, err := json.Marshal(nonNil(e.Steps))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval steps")
	}

	query := `
		INSERT INTO expenses
		    (id, company_id, submitter_id, description, category,
		     amount, currency, expense_date, payment_method, remarks,
		     steps, status, version, submitted_at, resolved_at, updated_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6::numeric, $7, $8::date, $9, $10,
		        $11, $12, 1, $13, $14, $15)
	`

	_, err = r.db.Exec(ctx, query,
		e.ID,
		e.CompanyID,
		e.SubmitterID,
		e.Description,
		e.Category,
		e.Amount.String(),
		e.Currency,
		e.ExpenseDate,
		e.PaymentMethod,
		e.Remarks,
		stepsJSON,
		e.Status,
		e.SubmittedAt,
		e.ResolvedAt,
		e.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return errors.Newf(errors.ErrCodeConflict, "expense %s already exists", e.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create expense")
	}
	e.Version = 1
	return nil
}

// Get retrieves an expense by id.
func (r *ExpenseRepository) Get(ctx context.Context, id string) (*approval.Expense, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("expense", id)
	}
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1`

	e, err := scanExpense(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("expense", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get expense")
	}
	return e, nil
}

// Update writes e if the stored version still equals expectedVersion, then
// sets e.Version to the new version.
func (r *ExpenseRepository) Update(ctx context.Context, e *approval.Expense, expectedVersion int) error {
	if !isUUID(e.ID) {
		return errors.NotFound("expense", e.ID)
	}
	stepsJSON, err := json.Marshal(nonNil(e.Steps))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval steps")
	}

	query := `
		UPDATE expenses
		SET description    = $3,
		    category       = $4,
		    amount         = $5::numeric,
		    currency       = $6,
		    expense_date   = $7::date,
		    payment_method = $8,
		    remarks        = $9,
		    steps          = $10,
		    status         = $11,
		    resolved_at    = $12,
		    updated_at     = $13,
		    version        = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`

	var version int
	err = r.db.QueryRow(ctx, query,
		e.ID,
		expectedVersion,
		e.Description,
		e.Category,
		e.Amount.String(),
		e.Currency,
		e.ExpenseDate,
		e.PaymentMethod,
		e.Remarks,
		stepsJSON,
		e.Status,
		e.ResolvedAt,
		e.UpdatedAt,
	).Scan(&version)
	if err == pgx.ErrNoRows {
		return r.missOrConflict(ctx, e.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update expense")
	}
	e.Version = version
	return nil
}

// missOrConflict tells a missing row apart from a version mismatch after a
// guarded update matched nothing.
func (r *ExpenseRepository) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM expenses WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check expense")
	}
	if !exists {
		return errors.NotFound("expense", id)
	}
	return errors.Newf(errors.ErrCodeConcurrentModification, "expense %s was modified concurrently", id)
}

// Delete removes an expense if its stored version still equals
// expectedVersion.
func (r *ExpenseRepository) Delete(ctx context.Context, id string, expectedVersion int) error {
	if !isUUID(id) {
		return errors.NotFound("expense", id)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM expenses WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete expense")
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// ListByCompany returns every expense of a company, newest first.
func (r *ExpenseRepository) ListByCompany(ctx context.Context, companyID string) ([]*approval.Expense, error) {
	if !isUUID(companyID) {
		return []*approval.Expense{}, nil
	}
	query := `SELECT ` + expenseColumns + `
		FROM expenses
		WHERE company_id = $1
		ORDER BY submitted_at DESC, id DESC
	`

	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expenses")
	}
	defer rows.Close()

	expenses := make([]*approval.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan expense")
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expenses")
	}
	return expenses, nil
}

func scanExpense(row rowScanner) (*approval.Expense, error) {
	e := &approval.Expense{}
	var (
		amount     string
		stepsJSON  []byte
		resolvedAt *time.Time
	)
	err := row.Scan(
		&e.ID,
		&e.CompanyID,
		&e.SubmitterID,
		&e.Description,
		&e.Category,
		&amount,
		&e.Currency,
		&e.ExpenseDate,
		&e.PaymentMethod,
		&e.Remarks,
		&stepsJSON,
		&e.Status,
		&e.Version,
		&e.SubmittedAt,
		&resolvedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stepsJSON, &e.Steps); err != nil {
		return nil, err
	}
	e.ResolvedAt = resolvedAt
	return e, nil
}
