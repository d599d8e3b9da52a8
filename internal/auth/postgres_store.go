package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint.
const uniqueViolation = "23505"

// PostgresStore persists users in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, username, email, password_hash, tenant_id, roles, is_active, is_tenant_admin, created_at, updated_at, last_login_at`

// Create stores a new user
func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, u.Username, u.Email, u.PasswordHash, nullString(u.TenantID), pq.Array(u.Roles),
		u.IsActive, u.IsTenantAdmin, u.CreatedAt, u.UpdatedAt, u.LastLoginAt)
	return mapPQError(err)
}

// GetByID retrieves a user by id
func (p *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByUsername retrieves a user by username (case-insensitive)
func (p *PostgresStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username)
	return scanUser(row)
}

// Update overwrites the mutable fields of a user
func (p *PostgresStore) Update(ctx context.Context, u *User) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users SET email = $1, password_hash = $2, tenant_id = $3, roles = $4,
			is_active = $5, is_tenant_admin = $6, updated_at = $7, last_login_at = $8
		WHERE id = $9
	`, u.Email, u.PasswordHash, nullString(u.TenantID), pq.Array(u.Roles),
		u.IsActive, u.IsTenantAdmin, u.UpdatedAt, u.LastLoginAt, u.ID)
	if err != nil {
		return mapPQError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// List returns users ordered by creation time. An empty tenantID lists all.
func (p *PostgresStore) List(ctx context.Context, tenantID string, limit, offset int) ([]*User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY created_at ASC, username ASC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountByTenant counts the users bound to tenantID
func (p *PostgresStore) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var tenantID sql.NullString
	var lastLogin sql.NullTime
	var roles pq.StringArray

	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &tenantID, &roles,
		&u.IsActive, &u.IsTenantAdmin, &u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.TenantID = tenantID.String
	u.Roles = []string(roles)
	if lastLogin.Valid {
		ts := lastLogin.Time
		u.LastLoginAt = &ts
	}
	return u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrUserExists
	}
	return err
}
