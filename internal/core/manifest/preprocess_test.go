package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/apppublish/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Apply Tests
// =============================================================================

func TestApply_Nothing(t *testing.T) {
	m := parseSample(t)

	changes, err := Apply(m, domain.Preprocessing{})
	require.NoError(t, err)
	assert.False(t, changes.Any())
}

func TestApply_ReplaceDependency(t *testing.T) {
	m := parseSample(t)

	changes, err := Apply(m, domain.Preprocessing{
		ReplaceDependencies: map[string]domain.DependencyReplacement{
			"437DBF0E-84FF-417A-965D-ED2BB9650972": {
				ID:         "11111111-2222-3333-4444-555555555555",
				Name:       "Forked Base",
				Publisher:  "Fabrikam",
				MinVersion: "1.0.0.0",
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"437dbf0e-84ff-417a-965d-ed2bb9650972"}, changes.ReplacedDependencies)

	deps, err := m.DependencyList()
	require.NoError(t, err)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", deps[0].ID)
	assert.Equal(t, "Forked Base", deps[0].Name)
	assert.Equal(t, "Fabrikam", deps[0].Publisher)
	assert.Equal(t, domain.MustParseVersion("1.0.0.0"), deps[0].MinVersion)
	// Untouched dependency
	assert.Equal(t, "System Application", deps[1].Name)
}

func TestApply_ReplaceDependencyKeepsAppIdSpelling(t *testing.T) {
	m := parseSample(t)

	_, err := Apply(m, domain.Preprocessing{
		ReplaceDependencies: map[string]domain.DependencyReplacement{
			"63ca2fa4-4f03-4f2b-a480-172fef340d3f": {ID: "99999999-0000-0000-0000-000000000000"},
		},
	})
	require.NoError(t, err)

	item := m.Dependencies.Items[1]
	assert.Equal(t, "99999999-0000-0000-0000-000000000000", item.Get("AppId"))
	assert.Equal(t, "", item.Get("Id"))
	// Name not given, so kept
	assert.Equal(t, "System Application", item.Get("Name"))
}

func TestApply_InternalsVisibleTo(t *testing.T) {
	m := parseSample(t)
	ref := domain.ModuleRef{ID: "aaaa", Name: "Sales Tests", Publisher: "Contoso"}

	changes, err := Apply(m, domain.Preprocessing{InternalsVisibleTo: []domain.ModuleRef{ref}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sales Tests"}, changes.AddedModules)
	assert.Equal(t, []domain.ModuleRef{ref}, m.InternalsVisibleToList())

	// Second application is a no-op
	changes, err = Apply(m, domain.Preprocessing{InternalsVisibleTo: []domain.ModuleRef{ref}})
	require.NoError(t, err)
	assert.False(t, changes.Any())
	assert.Len(t, m.InternalsVisibleToList(), 1)
}

func TestApply_SetShowMyCode(t *testing.T) {
	m := parseSample(t)

	changes, err := Apply(m, domain.Preprocessing{
		ShowMyCode: domain.ShowMyCodeRule{Mode: domain.VisibilitySet, Value: true},
	})
	require.NoError(t, err)
	assert.True(t, changes.ShowMyCodeSet)
	assert.True(t, m.ShowMyCode())
}

func TestApply_AssertShowMyCodeMatches(t *testing.T) {
	m := parseSample(t)

	changes, err := Apply(m, domain.Preprocessing{
		ShowMyCode: domain.ShowMyCodeRule{Mode: domain.VisibilityAssert, Value: false},
	})
	require.NoError(t, err)
	assert.False(t, changes.Any())
}

func TestApply_AssertShowMyCodeMismatchDoesNotMutate(t *testing.T) {
	m := parseSample(t)
	before, err := m.Marshal()
	require.NoError(t, err)

	_, err = Apply(m, domain.Preprocessing{
		ShowMyCode:         domain.ShowMyCodeRule{Mode: domain.VisibilityAssert, Value: true},
		InternalsVisibleTo: []domain.ModuleRef{{ID: "aaaa", Name: "Tests", Publisher: "Contoso"}},
	})
	assert.ErrorIs(t, err, domain.ErrVisibilityMismatch)

	after, err := m.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

// =============================================================================
// ParseReplacements Tests
// =============================================================================

func TestParseReplacements(t *testing.T) {
	data := []byte(`
437DBF0E-84FF-417A-965D-ED2BB9650972:
  id: 11111111-2222-3333-4444-555555555555
  name: Forked Base
  publisher: Fabrikam
  min_version: 2.0
`)
	r, err := ParseReplacements(data)
	require.NoError(t, err)
	require.Contains(t, r, "437dbf0e-84ff-417a-965d-ed2bb9650972")

	got := r["437dbf0e-84ff-417a-965d-ed2bb9650972"]
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", got.ID)
	assert.Equal(t, "Forked Base", got.Name)
	assert.Equal(t, "2.0", got.MinVersion)
}

func TestParseReplacements_MissingID(t *testing.T) {
	_, err := ParseReplacements([]byte("abc:\n  name: x\n"))
	assert.Error(t, err)
}

func TestParseReplacements_BadVersion(t *testing.T) {
	_, err := ParseReplacements([]byte("abc:\n  id: y\n  min_version: latest\n"))
	assert.Error(t, err)
}

func TestLoadReplacements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replacements.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ABC:\n  id: def\n"), 0o644))

	r, err := LoadReplacements(path)
	require.NoError(t, err)
	assert.Equal(t, "def", r["abc"].ID)

	_, err = LoadReplacements(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
