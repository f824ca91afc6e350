package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Version Tests
// =============================================================================

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected [4]int
	}{
		{"1", [4]int{1, 0, 0, 0}},
		{"1.2", [4]int{1, 2, 0, 0}},
		{"1.2.3", [4]int{1, 2, 3, 0}},
		{"24.0.16410.18056", [4]int{24, 0, 16410, 18056}},
		{" 2.0.0.0 ", [4]int{2, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v.Parts())
		})
	}
}

func TestParseVersion_Invalid(t *testing.T) {
	for _, input := range []string{"", "a.b", "1.2.3.4.5", "1.-2", "1..2", "1.0-beta", "1.0+build"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseVersion(input)
			assert.Error(t, err)
		})
	}
}

func TestParseVersion_ShortFormEqualsLongForm(t *testing.T) {
	assert.Equal(t, MustParseVersion("1.2.0.0"), MustParseVersion("1.2"))
	assert.True(t, MustParseVersion("1.2").Equal(MustParseVersion("1.2.0.0")))
}

func TestVersion_String(t *testing.T) {
	assert.Equal(t, "1.2.0.0", MustParseVersion("1.2").String())
}

func TestVersion_Compare(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"1.0.0.0", "1.0.0.0", 0},
		{"1.0.0.0", "1.0.0.1", -1},
		{"2.0", "1.9.9.9", 1},
		{"1.10", "1.9", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, MustParseVersion(tt.a).Compare(MustParseVersion(tt.b)))
		})
	}
}

func TestVersion_IsZero(t *testing.T) {
	assert.True(t, Version{}.IsZero())
	assert.False(t, MustParseVersion("0.0.0.1").IsZero())
	assert.Equal(t, "0.0.0.0", Version{}.String())
	assert.Equal(t, 0, Version{}.Compare(MustParseVersion("0.0")))
}

// =============================================================================
// Identity Tests
// =============================================================================

func TestAppIdentity_String(t *testing.T) {
	id := AppIdentity{Publisher: "Contoso", Name: "Base", Version: MustParseVersion("1.0")}
	assert.Equal(t, "Contoso_Base_1.0.0.0", id.String())
}

func TestAppIdentity_Key(t *testing.T) {
	withID := AppIdentity{ID: "ABC-123", Publisher: "Contoso", Name: "Base"}
	assert.Equal(t, "abc-123", withID.Key())

	withoutID := AppIdentity{Publisher: "Contoso", Name: "Base"}
	assert.Equal(t, "contoso/base", withoutID.Key())

	dep := Dependency{ID: "abc-123"}
	assert.Equal(t, withID.Key(), dep.Key())

	// Both keys are always available for matching
	assert.Equal(t, "abc-123", withID.IDKey())
	assert.Equal(t, "contoso/base", withID.NameKey())
	assert.Empty(t, Dependency{Publisher: "Contoso", Name: "Base"}.IDKey())
	assert.Equal(t, withID.NameKey(), Dependency{Publisher: "CONTOSO", Name: "base"}.NameKey())
}

// =============================================================================
// DeployedApp Tests
// =============================================================================

func TestDeployedApp_UpgradePending(t *testing.T) {
	same := DeployedApp{Version: MustParseVersion("2.0"), ExtensionDataVersion: MustParseVersion("2.0")}
	assert.False(t, same.UpgradePending())

	behind := DeployedApp{Version: MustParseVersion("2.0"), ExtensionDataVersion: MustParseVersion("1.0")}
	assert.True(t, behind.UpgradePending())

	shortForm := DeployedApp{Version: MustParseVersion("2.0.0.0"), ExtensionDataVersion: MustParseVersion("2")}
	assert.False(t, shortForm.UpgradePending())

	neverApplied := DeployedApp{Version: MustParseVersion("2.0")}
	assert.True(t, neverApplied.UpgradePending())
}
