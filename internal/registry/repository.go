package registry

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Repository provides PostgreSQL backed persistence for role definitions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoleDefinitions returns every role definition.
func (r *Repository) ListRoleDefinitions(ctx context.Context) ([]RoleDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, user_type, access_rights, is_default, sort_order, is_active
		FROM role_definitions
		ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var defs []RoleDefinition
	for rows.Next() {
		var def RoleDefinition
		if err := rows.Scan(&def.Name, &def.UserType, &def.AccessRights, &def.IsDefault, &def.SortOrder, &def.IsActive); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return defs, nil
}

// UpdateAccessRights replaces a role's access rights and returns the updated row.
func (r *Repository) UpdateAccessRights(ctx context.Context, name string, rights []string) (RoleDefinition, error) {
	var def RoleDefinition
	err := r.pool.QueryRow(ctx, `
		UPDATE role_definitions
		SET access_rights = $2, updated_at = now()
		WHERE name = $1
		RETURNING name, user_type, access_rights, is_default, sort_order, is_active`,
		name, rights,
	).Scan(&def.Name, &def.UserType, &def.AccessRights, &def.IsDefault, &def.SortOrder, &def.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleDefinition{}, shared.ErrNotFound
		}
		return RoleDefinition{}, err
	}
	return def, nil
}

var _ RepositoryPort = (*Repository)(nil)
