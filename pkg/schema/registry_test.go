package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/pkg/level"
	"github.com/meridianhq/meridian/pkg/model"
)

const testSchema = `
types:
  - name: workspace
    kind: boundary
  - name: widget
    kind: scoped
    minimum_levels:
      create: authenticated
      delete: staff
    roles:
      create: [editor]
      update: [editor]
  - name: bulletin
    kind: unscoped
    minimum_levels:
      retrieve: anonymous
  - name: account
    kind: unscoped
    role_gate_exempt: true
`

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Load([]byte(testSchema))
	require.NoError(t, err)
	return r
}

func TestLoad(t *testing.T) {
	r := loadTestRegistry(t)

	assert.Equal(t, "workspace", r.BoundaryType())
	assert.True(t, r.IsScoped("widget"))
	assert.False(t, r.IsScoped("bulletin"))
	assert.False(t, r.IsScoped("workspace"))
	assert.False(t, r.IsScoped("nonexistent"))
	assert.Equal(t, []string{"account", "bulletin", "widget", "workspace"}, r.ModelNames())
	assert.Equal(t, []string{"widget"}, r.ScopedModelNames())
}

func TestMinimumLevelDefaults(t *testing.T) {
	r := loadTestRegistry(t)

	assert.Equal(t, level.ClassStaff, r.MinimumLevel("widget", model.OpDelete))
	assert.Equal(t, level.ClassAnonymous, r.MinimumLevel("bulletin", model.OpRetrieve))
	// Undeclared operations fall back to authenticated.
	assert.Equal(t, level.ClassAuthenticated, r.MinimumLevel("widget", model.OpRetrieve))
}

func TestDeclaredRoles(t *testing.T) {
	r := loadTestRegistry(t)

	assert.Equal(t, []string{"editor"}, r.DeclaredRoles("widget", model.OpCreate))
	assert.Empty(t, r.DeclaredRoles("widget", model.OpDelete))
}

func TestValidation(t *testing.T) {
	_, err := NewRegistry([]EntityType{{Name: "a", Kind: KindScoped}})
	assert.ErrorContains(t, err, "no boundary type")

	_, err = NewRegistry([]EntityType{
		{Name: "a", Kind: KindBoundary},
		{Name: "b", Kind: KindBoundary},
	})
	assert.ErrorContains(t, err, "multiple boundary types")

	_, err = NewRegistry([]EntityType{
		{Name: "a", Kind: KindBoundary},
		{Name: "a", Kind: KindScoped},
	})
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewRegistry([]EntityType{
		{Name: "a", Kind: KindBoundary},
		{Name: "b", Kind: "sideways"},
	})
	assert.ErrorContains(t, err, "unknown kind")

	_, err = NewRegistry([]EntityType{
		{Name: "a", Kind: KindBoundary},
		{Name: "b", Kind: KindScoped, MinimumLevels: map[model.Operation]level.Class{
			model.OpCreate: "emperor",
		}},
	})
	assert.ErrorContains(t, err, "unknown access class")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, r.IsScoped("widget"))

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	r := loadTestRegistry(t)
	p := NewStatic(r)
	assert.Same(t, r, p.Current())
}
