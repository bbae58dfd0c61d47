package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-lms/meridian-lms/internal/registry"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Repository provides PostgreSQL backed persistence for user accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, password_hash, user_types, last_selected_department, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var types []string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &types, &u.LastSelectedDepartment, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.UserTypes = make([]registry.UserType, len(types))
	for i, t := range types {
		u.UserTypes[i] = registry.UserType(t)
	}
	return &u, nil
}

// Get fetches a user by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// FindByEmail fetches a user by email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// UserTypesOf returns just the user types of an account.
func (r *Repository) UserTypesOf(ctx context.Context, id int64) ([]registry.UserType, error) {
	var types []string
	err := r.pool.QueryRow(ctx, `SELECT user_types FROM users WHERE id = $1`, id).Scan(&types)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	out := make([]registry.UserType, len(types))
	for i, t := range types {
		out[i] = registry.UserType(t)
	}
	return out, nil
}

// EscalationSecretOf returns the bcrypt hash of the user's escalation
// secret. Accounts without one report shared.ErrNotFound.
func (r *Repository) EscalationSecretOf(ctx context.Context, id int64) (string, error) {
	var hash *string
	err := r.pool.QueryRow(ctx, `SELECT escalation_secret FROM users WHERE id = $1`, id).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", err
	}
	if hash == nil || *hash == "" {
		return "", shared.ErrNotFound
	}
	return *hash, nil
}

// SetLastSelectedDepartment persists the user's active department choice.
func (r *Repository) SetLastSelectedDepartment(ctx context.Context, id int64, departmentID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_selected_department = $2, updated_at = now() WHERE id = $1`, id, departmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
