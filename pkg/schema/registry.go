package schema

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/meridianhq/meridian/pkg/level"
	"github.com/meridianhq/meridian/pkg/model"
)

// Kind classifies an entity type with respect to the tenant boundary.
type Kind string

const (
	// KindBoundary marks the single entity type acting as the tenant
	// boundary itself.
	KindBoundary Kind = "boundary"
	// KindScoped marks entity types carrying a nullable scope reference.
	KindScoped Kind = "scoped"
	// KindUnscoped marks entity types visible across tenants.
	KindUnscoped Kind = "unscoped"
)

// EntityType is the declared configuration of one entity type. Instances of
// the core never reach into the schema dynamically; each type is a plain
// data record looked up by name.
type EntityType struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`

	// MinimumLevels maps each operation to the access class required
	// before any per-instance filtering. Missing operations default to
	// authenticated.
	MinimumLevels map[model.Operation]level.Class `yaml:"minimum_levels"`

	// Roles maps each operation to the role names allowed to perform it.
	// An empty set means the role gate is open for that operation.
	Roles map[model.Operation][]string `yaml:"roles"`

	// RoleGateExempt disables the role gate for this type. Used for the
	// account type so accounts can always read themselves.
	RoleGateExempt bool `yaml:"role_gate_exempt"`
}

// Registry is the immutable set of declared entity types. It is built once
// at load time and passed explicitly to the authorizer and the cache
// maintainer; hot reload swaps in a whole new value.
type Registry struct {
	types    map[string]EntityType
	boundary string
}

// NewRegistry validates the declared types and builds a registry. Exactly
// one boundary type is required and names must be unique.
func NewRegistry(types []EntityType) (*Registry, error) {
	r := &Registry{types: make(map[string]EntityType, len(types))}
	for _, t := range types {
		if t.Name == "" {
			return nil, fmt.Errorf("entity type with empty name")
		}
		if _, dup := r.types[t.Name]; dup {
			return nil, fmt.Errorf("duplicate entity type %q", t.Name)
		}
		switch t.Kind {
		case KindBoundary:
			if r.boundary != "" {
				return nil, fmt.Errorf("multiple boundary types: %q and %q", r.boundary, t.Name)
			}
			r.boundary = t.Name
		case KindScoped, KindUnscoped:
		default:
			return nil, fmt.Errorf("entity type %q has unknown kind %q", t.Name, t.Kind)
		}
		for op, class := range t.MinimumLevels {
			if _, err := level.ParseClass(string(class)); err != nil {
				return nil, fmt.Errorf("entity type %q operation %s: %w", t.Name, op, err)
			}
		}
		r.types[t.Name] = t
	}
	if r.boundary == "" {
		return nil, fmt.Errorf("schema declares no boundary type")
	}
	return r, nil
}

// Type returns the declared record for a model name.
func (r *Registry) Type(name string) (EntityType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// IsScoped reports whether instances of the model carry a scope reference.
func (r *Registry) IsScoped(name string) bool {
	t, ok := r.types[name]
	return ok && t.Kind == KindScoped
}

// BoundaryType returns the name of the tenant boundary type.
func (r *Registry) BoundaryType() string {
	return r.boundary
}

// MinimumLevel returns the access class declared for an operation on a
// model. Undeclared operations require an authenticated account.
func (r *Registry) MinimumLevel(name string, op model.Operation) level.Class {
	if t, ok := r.types[name]; ok {
		if c, ok := t.MinimumLevels[op]; ok {
			return c
		}
	}
	return level.ClassAuthenticated
}

// DeclaredRoles returns the role names allowed to perform an operation on a
// model. An empty result leaves the role gate open.
func (r *Registry) DeclaredRoles(name string, op model.Operation) []string {
	if t, ok := r.types[name]; ok {
		return t.Roles[op]
	}
	return nil
}

// ModelNames returns all declared type names in stable order.
func (r *Registry) ModelNames() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScopedModelNames returns the names of all scoped types in stable order.
func (r *Registry) ScopedModelNames() []string {
	var names []string
	for name, t := range r.types {
		if t.Kind == KindScoped {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

type schemaFile struct {
	Types []EntityType `yaml:"types"`
}

// LoadFile parses a schema YAML file into a registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Load(data)
}

// Load parses schema YAML into a registry.
func Load(data []byte) (*Registry, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return NewRegistry(file.Types)
}

// Provider hands out the current registry. The static implementation wraps
// a fixed value; the watcher swaps values atomically on file change.
type Provider interface {
	Current() *Registry
}

// Static is a Provider over a fixed registry.
type Static struct{ registry *Registry }

// NewStatic wraps a registry in a Provider.
func NewStatic(r *Registry) *Static { return &Static{registry: r} }

// Current returns the wrapped registry.
func (s *Static) Current() *Registry { return s.registry }
