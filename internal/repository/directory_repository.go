package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/database"
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

const pgUniqueViolation = "23505"

// DirectoryRepository stores companies and their users.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// CreateCompanyWithAdmin inserts a company and its first admin in one
// transaction.
func (r *DirectoryRepository) CreateCompanyWithAdmin(ctx context.Context, company *approval.Company, admin *approval.User) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		companyQuery := `
			INSERT INTO companies (id, name, currency, admin_id)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`
		err := tx.QueryRow(ctx, companyQuery,
			company.ID,
			company.Name,
			company.Currency,
			admin.ID,
		).Scan(&company.CreatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create company")
		}

		return insertUser(ctx, tx, admin)
	})
}

// CreateUser inserts a user. A duplicate email is a conflict.
func (r *DirectoryRepository) CreateUser(ctx context.Context, u *approval.User) error {
	return insertUser(ctx, r.db, u)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertUser(ctx context.Context, q queryRower, u *approval.User) error {
	query := `
		INSERT INTO users (id, company_id, name, email, credential, role, manager_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := q.QueryRow(ctx, query,
		u.ID,
		u.CompanyID,
		u.Name,
		strings.ToLower(u.Email),
		nullable(u.Credential),
		u.Role,
		nullable(u.ManagerID),
	).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return errors.Newf(errors.ErrCodeConflict, "email %s is already registered", u.Email)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create user")
	}
	return nil
}

// GetUser retrieves a user by id.
func (r *DirectoryRepository) GetUser(ctx context.Context, id string) (*approval.User, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("user", id)
	}
	query := `
		SELECT id, company_id, name, email, credential, role, manager_id, created_at
		FROM users
		WHERE id = $1
	`

	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (r *DirectoryRepository) GetUserByEmail(ctx context.Context, email string) (*approval.User, error) {
	query := `
		SELECT id, company_id, name, email, credential, role, manager_id, created_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`

	u, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", email)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// GetCompany retrieves a company by id.
func (r *DirectoryRepository) GetCompany(ctx context.Context, id string) (*approval.Company, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("company", id)
	}
	query := `
		SELECT id, name, currency, admin_id, created_at
		FROM companies
		WHERE id = $1
	`

	c := &approval.Company{}
	var adminID *string
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Currency, &adminID, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("company", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get company")
	}
	c.AdminID = deref(adminID)
	return c, nil
}

// FindUsersByRole lists the users of a company holding role.
func (r *DirectoryRepository) FindUsersByRole(ctx context.Context, companyID string, role approval.Role) ([]*approval.User, error) {
	if !isUUID(companyID) {
		return []*approval.User{}, nil
	}
	query := `
		SELECT id, company_id, name, email, credential, role, manager_id, created_at
		FROM users
		WHERE company_id = $1 AND role = $2
		ORDER BY name ASC
	`
	return r.queryUsers(ctx, query, companyID, role)
}

// ListUsers lists every user of a company.
func (r *DirectoryRepository) ListUsers(ctx context.Context, companyID string) ([]*approval.User, error) {
	if !isUUID(companyID) {
		return []*approval.User{}, nil
	}
	query := `
		SELECT id, company_id, name, email, credential, role, manager_id, created_at
		FROM users
		WHERE company_id = $1
		ORDER BY name ASC
	`
	return r.queryUsers(ctx, query, companyID)
}

// UpdateUserRole changes a user's role.
func (r *DirectoryRepository) UpdateUserRole(ctx context.Context, id string, role approval.Role) error {
	if !isUUID(id) {
		return errors.NotFound("user", id)
	}
	query := `
		UPDATE users
		SET role       = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, role).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("user", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update user role")
	}
	return nil
}

// UpdateUserManager sets or, with an empty managerID, clears a user's manager.
func (r *DirectoryRepository) UpdateUserManager(ctx context.Context, id, managerID string) error {
	if !isUUID(id) {
		return errors.NotFound("user", id)
	}
	if managerID != "" && !isUUID(managerID) {
		return errors.NotFound("user", managerID)
	}
	query := `
		UPDATE users
		SET manager_id = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, nullable(managerID)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("user", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update user manager")
	}
	return nil
}

func (r *DirectoryRepository) queryUsers(ctx context.Context, query string, args ...any) ([]*approval.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users")
	}
	defer rows.Close()

	users := make([]*approval.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users")
	}
	return users, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*approval.User, error) {
	u := &approval.User{}
	var credential, managerID *string
	err := row.Scan(
		&u.ID,
		&u.CompanyID,
		&u.Name,
		&u.Email,
		&credential,
		&u.Role,
		&managerID,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Credential = deref(credential)
	u.ManagerID = deref(managerID)
	return u, nil
}

// isUUID reports whether id is a hyphenated UUID that can be bound to a UUID
// column. Any other id names no row.
func isUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
