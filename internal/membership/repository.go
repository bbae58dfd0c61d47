package membership

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for memberships.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MembershipsOf returns the active memberships of a user.
func (r *Repository) MembershipsOf(ctx context.Context, userID int64) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT department_id, roles, is_primary, is_active, joined_at
		FROM department_memberships
		WHERE user_id = $1 AND is_active
		ORDER BY joined_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.DepartmentID, &m.Roles, &m.IsPrimary, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memberships, nil
}

// Assign inserts a membership row for the user.
func (r *Repository) Assign(ctx context.Context, userID int64, departmentID string, roles []string, isPrimary bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO department_memberships (user_id, department_id, roles, is_primary, is_active, joined_at)
		VALUES ($1, $2, $3, $4, TRUE, now())`,
		userID, departmentID, roles, isPrimary)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return httpx.ErrDuplicate
		}
		return err
	}
	return nil
}

// Revoke deactivates a membership row.
func (r *Repository) Revoke(ctx context.Context, userID int64, departmentID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE department_memberships SET is_active = FALSE
		WHERE user_id = $1 AND department_id = $2 AND is_active`,
		userID, departmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}
