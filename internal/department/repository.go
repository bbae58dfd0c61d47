package department

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-lms/meridian-lms/internal/platform/db"
	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for the department tree.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const departmentColumns = `id, parent_id, name, level, path, is_system, is_visible, require_explicit_membership, is_active, created_at, updated_at`

func scanDepartment(row pgx.Row) (Department, error) {
	var d Department
	err := row.Scan(&d.ID, &d.ParentID, &d.Name, &d.Level, &d.Path, &d.IsSystem, &d.IsVisible, &d.RequireExplicitMembership, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// ListAll returns every department.
func (r *Repository) ListAll(ctx context.Context) ([]Department, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+departmentColumns+` FROM departments ORDER BY level, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var departments []Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		departments = append(departments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return departments, nil
}

// Get fetches one department by ID.
func (r *Repository) Get(ctx context.Context, id string) (Department, error) {
	d, err := scanDepartment(r.pool.QueryRow(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Department{}, httpx.ErrNotFound
		}
		return Department{}, err
	}
	return d, nil
}

// Insert persists a new department with its computed level and path.
func (r *Repository) Insert(ctx context.Context, d Department) (Department, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO departments (id, parent_id, name, level, path, is_system, is_visible, require_explicit_membership, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+departmentColumns,
		d.ID, d.ParentID, d.Name, d.Level, d.Path, d.IsSystem, d.IsVisible, d.RequireExplicitMembership, d.IsActive)
	inserted, err := scanDepartment(row)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return Department{}, httpx.ErrDuplicate
		}
		return Department{}, err
	}
	return inserted, nil
}

// Update persists mutable department fields, including recomputed level/path.
func (r *Repository) Update(ctx context.Context, d Department) (Department, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE departments
		SET parent_id = $2, name = $3, level = $4, path = $5, is_visible = $6, require_explicit_membership = $7, is_active = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+departmentColumns,
		d.ID, d.ParentID, d.Name, d.Level, d.Path, d.IsVisible, d.RequireExplicitMembership, d.IsActive)
	updated, err := scanDepartment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Department{}, httpx.ErrNotFound
		}
		return Department{}, err
	}
	return updated, nil
}

// UpdatePaths rewrites level and path for a set of departments in one
// transaction, used when a subtree moves.
func (r *Repository) UpdatePaths(ctx context.Context, departments []Department) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, d := range departments {
			if _, err := tx.Exec(ctx, `UPDATE departments SET level = $2, path = $3, updated_at = now() WHERE id = $1`, d.ID, d.Level, d.Path); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a department row.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM departments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}
