package migrate

import (
	"fmt"
	"sort"
)

// Registry is the static, ordered catalog of migration definitions.
// Constructed once per process at startup and never mutated.
type Registry struct {
	migrations []Migration
	byVersion  map[string]Migration
}

// NewRegistry validates and sorts the given definitions.
// It fails with *DuplicateVersionError when two definitions share a version
// and rejects definitions without an Up operation. Declaration order is not
// trusted; migrations are sorted ascending by version.
func NewRegistry(migrations ...Migration) (*Registry, error) {
	byVersion := make(map[string]Migration, len(migrations))
	sorted := make([]Migration, 0, len(migrations))

	for _, m := range migrations {
		if m.Version == "" {
			return nil, fmt.Errorf("migration %q has no version", m.Description)
		}
		if m.Up == nil {
			return nil, fmt.Errorf("migration %s has no up operation", m.Version)
		}
		if _, exists := byVersion[m.Version]; exists {
			return nil, &DuplicateVersionError{Version: m.Version}
		}
		byVersion[m.Version] = m
		sorted = append(sorted, m)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	return &Registry{migrations: sorted, byVersion: byVersion}, nil
}

// List returns the definitions sorted ascending by version.
// The returned slice is a copy; callers may not mutate registry state.
func (r *Registry) List() []Migration {
	out := make([]Migration, len(r.migrations))
	copy(out, r.migrations)
	return out
}

// Lookup returns the definition for a version, if present.
func (r *Registry) Lookup(version string) (Migration, bool) {
	m, ok := r.byVersion[version]
	return m, ok
}

// Len returns the number of registered migrations.
func (r *Registry) Len() int {
	return len(r.migrations)
}
