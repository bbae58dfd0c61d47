package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// RepositoryPort defines data access methods for role definitions.
type RepositoryPort interface {
	ListRoleDefinitions(ctx context.Context) ([]RoleDefinition, error)
	UpdateAccessRights(ctx context.Context, name string, rights []string) (RoleDefinition, error)
}

// Registry holds active role definitions in memory, indexed by user type and name.
//
// The registry must be loaded with Refresh before answering queries. An
// unloaded registry fails closed unless constructed with seed mode, which is
// only legal for seeding scripts that run before any role rows exist.
type Registry struct {
	repo     RepositoryPort
	logger   *slog.Logger
	seedMode bool

	mu     sync.RWMutex
	byType map[UserType]map[string]RoleDefinition
	loaded bool
}

// New constructs a Registry. Seed mode must stay false outside seeding scripts.
func New(repo RepositoryPort, logger *slog.Logger, seedMode bool) *Registry {
	return &Registry{
		repo:     repo,
		logger:   logger,
		seedMode: seedMode,
		byType:   make(map[UserType]map[string]RoleDefinition),
	}
}

// Refresh reloads all active role definitions from storage.
func (r *Registry) Refresh(ctx context.Context) error {
	defs, err := r.repo.ListRoleDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("registry: refresh: %w", err)
	}
	index := make(map[UserType]map[string]RoleDefinition)
	for _, def := range defs {
		if !def.IsActive {
			continue
		}
		byName, ok := index[def.UserType]
		if !ok {
			byName = make(map[string]RoleDefinition)
			index[def.UserType] = byName
		}
		byName[def.Name] = def
	}
	r.mu.Lock()
	r.byType = index
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// Loaded reports whether Refresh has completed at least once.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// IsValidRole reports whether the role name exists for the given user type.
func (r *Registry) IsValidRole(userType UserType, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return r.permissiveFallback("is_valid_role")
	}
	_, ok := r.byType[userType][name]
	return ok
}

// ValidRolesFor returns the role names available to a user type, ordered by
// sort order and then collated name.
func (r *Registry) ValidRolesFor(userType UserType) []string {
	defs := r.RolesFor(userType)
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// RolesFor returns the full definitions available to a user type.
func (r *Registry) RolesFor(userType UserType) []RoleDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]RoleDefinition, 0, len(r.byType[userType]))
	for _, def := range r.byType[userType] {
		defs = append(defs, def)
	}
	sortDefinitions(defs)
	return defs
}

// Lookup returns a single definition by user type and name.
func (r *Registry) Lookup(userType UserType, name string) (RoleDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byType[userType][name]
	return def, ok
}

// LookupByName scans every user type for the role name.
func (r *Registry) LookupByName(name string) (RoleDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, byName := range r.byType {
		if def, ok := byName[name]; ok {
			return def, true
		}
	}
	return RoleDefinition{}, false
}

// All returns every active definition across user types.
func (r *Registry) All() []RoleDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []RoleDefinition
	for _, byName := range r.byType {
		for _, def := range byName {
			defs = append(defs, def)
		}
	}
	sortDefinitions(defs)
	return defs
}

// RightsFor returns the union of access rights granted by the named roles.
func (r *Registry) RightsFor(userType UserType, names []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		if r.permissiveFallback("rights_for") {
			return []string{"*"}
		}
		return nil
	}
	seen := make(map[string]struct{})
	var rights []string
	for _, name := range names {
		def, ok := r.byType[userType][name]
		if !ok {
			continue
		}
		for _, right := range def.AccessRights {
			if _, dup := seen[right]; dup {
				continue
			}
			seen[right] = struct{}{}
			rights = append(rights, right)
		}
	}
	sort.Strings(rights)
	return rights
}

// permissiveFallback answers queries against an unloaded registry. Only seed
// mode may answer permissively; production fails closed.
func (r *Registry) permissiveFallback(op string) bool {
	if !r.seedMode {
		return false
	}
	if r.logger != nil {
		r.logger.Warn("registry not loaded, seed mode permissive answer", slog.String("op", op))
	}
	return true
}

var roleCollator = collate.New(language.English)

func sortDefinitions(defs []RoleDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].SortOrder != defs[j].SortOrder {
			return defs[i].SortOrder < defs[j].SortOrder
		}
		return roleCollator.CompareString(defs[i].Name, defs[j].Name) < 0
	})
}
