package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/database"
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

// PolicyRepository stores one approval policy per company. The chain is kept
// as JSONB so either policy shape fits the same row.
type PolicyRepository struct {
	db *database.DB
}

// NewPolicyRepository creates a new PolicyRepository.
func NewPolicyRepository(db *database.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// GetActivePolicy returns the company's policy, or nil when none is set.
func (r *PolicyRepository) GetActivePolicy(ctx context.Context, companyID string) (*approval.Policy, error) {
	if !isUUID(companyID) {
		return nil, nil
	}
	query := `
		SELECT company_id, kind, roles, approvers, created_at, updated_at
		FROM approval_policies
		WHERE company_id = $1
	`

	p := &approval.Policy{}
	var rolesJSON, approversJSON []byte
	err := r.db.QueryRow(ctx, query, companyID).Scan(
		&p.CompanyID,
		&p.Kind,
		&rolesJSON,
		&approversJSON,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval policy")
	}

	if err := json.Unmarshal(rolesJSON, &p.Roles); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal policy roles")
	}
	if err := json.Unmarshal(approversJSON, &p.Approvers); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal policy approvers")
	}
	return p, nil
}

// SetPolicy replaces the company's policy.
func (r *PolicyRepository) SetPolicy(ctx context.Context, p *approval.Policy) error {
	rolesJSON, err := json.Marshal(nonNil(p.Roles))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal policy roles")
	}
	approversJSON, err := json.Marshal(nonNil(p.Approvers))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal policy approvers")
	}

	query := `
		INSERT INTO approval_policies (company_id, kind, roles, approvers)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id) DO UPDATE
		SET kind       = EXCLUDED.kind,
		    roles      = EXCLUDED.roles,
		    approvers  = EXCLUDED.approvers,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		p.CompanyID,
		p.Kind,
		rolesJSON,
		approversJSON,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save approval policy")
	}
	return nil
}

// DeletePolicy removes the company's policy, reverting it to the manager
// fallback.
func (r *PolicyRepository) DeletePolicy(ctx context.Context, companyID string) error {
	if !isUUID(companyID) {
		return errors.NotFound("approval_policy", companyID)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM approval_policies WHERE company_id = $1`, companyID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval policy")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_policy", companyID)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
