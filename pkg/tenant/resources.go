package tenant

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/platinummonkey/flowguard/pkg/auth"
	"github.com/platinummonkey/flowguard/pkg/storage/postgres"
)

// WorkspaceColumn is the owning column of every default resource table
const WorkspaceColumn = "workspace_id"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OwnedResource describes a table whose rows belong to a workspace
type OwnedResource struct {
	Table  string
	Column string
}

// ResourceRegistry is the set of owned resources swept by workspace deletes
type ResourceRegistry struct {
	mu        sync.RWMutex
	resources []OwnedResource
}

// NewResourceRegistry creates a registry holding resources
func NewResourceRegistry(resources ...OwnedResource) (*ResourceRegistry, error) {
	r := &ResourceRegistry{}
	for _, res := range resources {
		if err := r.Register(res); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultResources returns a registry of the built-in owned tables plus API keys
func DefaultResources() *ResourceRegistry {
	r := &ResourceRegistry{}
	for _, table := range postgres.OwnedTables {
		r.resources = append(r.resources, OwnedResource{Table: table, Column: WorkspaceColumn})
	}
	r.resources = append(r.resources, OwnedResource{Table: "apikey", Column: WorkspaceColumn})
	return r
}

// Register adds res. Re-registering the same descriptor is a no-op.
func (r *ResourceRegistry) Register(res OwnedResource) error {
	if !identifier.MatchString(res.Table) || !identifier.MatchString(res.Column) {
		return fmt.Errorf("invalid owned resource %s.%s: %w", res.Table, res.Column, auth.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, have := range r.resources {
		if have == res {
			return nil
		}
	}
	r.resources = append(r.resources, res)
	return nil
}

// All returns a snapshot in registration order
func (r *ResourceRegistry) All() []OwnedResource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]OwnedResource, len(r.resources))
	copy(out, r.resources)
	return out
}
