package deployment

import (
	"errors"
	"testing"

	"github.com/artpar/apppublish/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func pkg(name string, deps ...string) domain.Package {
	p := domain.Package{
		Identity: domain.AppIdentity{
			ID:        "id-" + name,
			Publisher: "Contoso",
			Name:      name,
			Version:   domain.MustParseVersion("1.0.0.0"),
		},
	}
	for _, d := range deps {
		p.Dependencies = append(p.Dependencies, domain.Dependency{
			ID:         "id-" + d,
			Publisher:  "Contoso",
			Name:       d,
			MinVersion: domain.MustParseVersion("1.0.0.0"),
		})
	}
	return p
}

func names(pkgs []domain.Package) []string {
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, p.Identity.Name)
	}
	return out
}

// =============================================================================
// SortPackages Tests
// =============================================================================

func TestSortPackages_Empty(t *testing.T) {
	result, err := SortPackages(nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestSortPackages_NoDependenciesKeepsInputOrder(t *testing.T) {
	result, err := SortPackages([]domain.Package{pkg("web"), pkg("api"), pkg("db")})
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "api", "db"}, names(result))
}

func TestSortPackages_LinearDependencies(t *testing.T) {
	// test → app → base
	result, err := SortPackages([]domain.Package{
		pkg("test", "app"),
		pkg("app", "base"),
		pkg("base"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "app", "test"}, names(result))
}

func TestSortPackages_Diamond(t *testing.T) {
	//       top
	//      /   \
	//    left  right
	//      \   /
	//      base
	result, err := SortPackages([]domain.Package{
		pkg("top", "left", "right"),
		pkg("right", "base"),
		pkg("left", "base"),
		pkg("base"),
	})
	require.NoError(t, err)
	// right precedes left in the input, so it stays ahead once both are ready
	assert.Equal(t, []string{"base", "right", "left", "top"}, names(result))
}

func TestSortPackages_StableForUnrelatedPackages(t *testing.T) {
	result, err := SortPackages([]domain.Package{
		pkg("x"),
		pkg("child", "parent"),
		pkg("y"),
		pkg("parent"),
		pkg("z"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "parent", "child", "z"}, names(result))
}

func TestSortPackages_DependencyOutsideBatchIgnored(t *testing.T) {
	result, err := SortPackages([]domain.Package{
		pkg("app", "system-application"),
		pkg("ext", "app"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "ext"}, names(result))
}

func TestSortPackages_MatchesByPublisherAndNameWithoutID(t *testing.T) {
	base := pkg("base")
	base.Identity.ID = ""
	app := pkg("app")
	app.Dependencies = []domain.Dependency{{Publisher: "contoso", Name: "BASE"}}

	result, err := SortPackages([]domain.Package{app, base})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "app"}, names(result))
}

func TestSortPackages_DependencyWithoutIDMatchesPackageWithID(t *testing.T) {
	base := pkg("base")
	app := pkg("app")
	app.Dependencies = []domain.Dependency{{Publisher: "Contoso", Name: "base"}}

	result, err := SortPackages([]domain.Package{app, base})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "app"}, names(result))
}

func TestSortPackages_IDTakesPrecedenceOverName(t *testing.T) {
	// The dependency names "old" but its id belongs to "base"
	base := pkg("base")
	old := pkg("old")
	app := pkg("app")
	app.Dependencies = []domain.Dependency{{ID: "ID-BASE", Publisher: "Contoso", Name: "old"}}

	result, err := SortPackages([]domain.Package{app, old, base})
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "base", "app"}, names(result))
}

func TestSortPackages_ConflictingIDsDoNotMatchByName(t *testing.T) {
	base := pkg("base")
	app := pkg("app")
	app.Dependencies = []domain.Dependency{{ID: "id-other", Publisher: "Contoso", Name: "base"}}

	result, err := SortPackages([]domain.Package{app, base})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "base"}, names(result))
}

func TestSortPackages_Cycle(t *testing.T) {
	_, err := SortPackages([]domain.Package{
		pkg("a", "b"),
		pkg("b", "a"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCyclicDependency))

	var cycleErr *domain.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Len(t, cycleErr.Packages, 2)
	assert.Contains(t, cycleErr.Error(), "Contoso_a_1.0.0.0")
	assert.Contains(t, cycleErr.Error(), "Contoso_b_1.0.0.0")
}

func TestSortPackages_PartialCycleNamesOnlyStuckPackages(t *testing.T) {
	_, err := SortPackages([]domain.Package{
		pkg("a", "b"),
		pkg("b", "a"),
		pkg("c"),
	})
	var cycleErr *domain.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Len(t, cycleErr.Packages, 2)
	assert.NotContains(t, cycleErr.Error(), "_c_")
}

func TestSortPackages_DuplicateIdentity(t *testing.T) {
	_, err := SortPackages([]domain.Package{pkg("a"), pkg("a")})
	assert.ErrorIs(t, err, domain.ErrInvalidPackage)
}

func TestSortPackages_SelfDependencyIgnored(t *testing.T) {
	result, err := SortPackages([]domain.Package{pkg("a", "a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(result))
}

func TestSortPackages_DeepChain(t *testing.T) {
	result, err := SortPackages([]domain.Package{
		pkg("a", "b"),
		pkg("b", "c"),
		pkg("c", "d"),
		pkg("d", "e"),
		pkg("e"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, names(result))
}

func TestSortPackages_PreservesPackageData(t *testing.T) {
	app := pkg("app", "base")
	app.Path = "/work/app.app"
	app.ShowMyCode = true

	result, err := SortPackages([]domain.Package{app, pkg("base")})
	require.NoError(t, err)
	assert.Equal(t, "/work/app.app", result[1].Path)
	assert.True(t, result[1].ShowMyCode)
	assert.Len(t, result[1].Dependencies, 1)
}

// =============================================================================
// UnmetMinimums Tests
// =============================================================================

func TestUnmetMinimums(t *testing.T) {
	app := pkg("app", "base")
	app.Dependencies[0].MinVersion = domain.MustParseVersion("2.0")

	unmet := UnmetMinimums([]domain.Package{app, pkg("base")})
	require.Len(t, unmet, 1)
	assert.Contains(t, unmet[0], "requires base 2.0.0.0")
}

func TestUnmetMinimums_DependencyWithoutID(t *testing.T) {
	app := pkg("app")
	app.Dependencies = []domain.Dependency{{
		Publisher:  "Contoso",
		Name:       "base",
		MinVersion: domain.MustParseVersion("3.0"),
	}}

	unmet := UnmetMinimums([]domain.Package{app, pkg("base")})
	require.Len(t, unmet, 1)
	assert.Contains(t, unmet[0], "batch has 1.0.0.0")
}

func TestUnmetMinimums_None(t *testing.T) {
	assert.Empty(t, UnmetMinimums([]domain.Package{pkg("app", "base"), pkg("base")}))
}
