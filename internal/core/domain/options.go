package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Enumerations
// =============================================================================

// SyncMode is the schema synchronization mode.
type SyncMode string

const (
	SyncModeUnset       SyncMode = ""
	SyncModeAdd         SyncMode = "Add"
	SyncModeClean       SyncMode = "Clean"
	SyncModeDevelopment SyncMode = "Development"
	SyncModeForceSync   SyncMode = "ForceSync"
)

// IsValid reports whether the mode is one of the known values.
func (m SyncMode) IsValid() bool {
	switch m {
	case SyncModeUnset, SyncModeAdd, SyncModeClean, SyncModeDevelopment, SyncModeForceSync:
		return true
	}
	return false
}

// Scope is the publish scope.
type Scope string

const (
	ScopeUnset  Scope = ""
	ScopeGlobal Scope = "Global"
	ScopeTenant Scope = "Tenant"
)

// IsValid reports whether the scope is one of the known values.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeUnset, ScopeGlobal, ScopeTenant:
		return true
	}
	return false
}

// PackageType is the kind of package being published.
type PackageType string

const (
	PackageTypeExtension   PackageType = "Extension"
	PackageTypeSymbolsOnly PackageType = "SymbolsOnly"
)

// VisibilityMode says what to do with the ShowMyCode flag.
type VisibilityMode string

const (
	VisibilityUntouched VisibilityMode = ""
	VisibilitySet       VisibilityMode = "set"
	VisibilityAssert    VisibilityMode = "assert"
)

// DefaultTenant is used when no tenant is given.
const DefaultTenant = "default"

// =============================================================================
// Pre-processing Requests
// =============================================================================

// ModuleRef names an app in an InternalsVisibleTo list.
type ModuleRef struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Publisher string `yaml:"publisher"`
}

// DependencyReplacement replaces a declared dependency.
type DependencyReplacement struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Publisher  string `yaml:"publisher"`
	MinVersion string `yaml:"min_version"`
}

// ShowMyCodeRule sets or asserts the code visibility flag.
type ShowMyCodeRule struct {
	Mode  VisibilityMode
	Value bool
}

// Preprocessing lists manifest mutations applied before publish.
type Preprocessing struct {
	ShowMyCode          ShowMyCodeRule
	InternalsVisibleTo  []ModuleRef
	ReplaceDependencies map[string]DependencyReplacement // keyed by dependency app id
	ReplacePackageID    bool
}

// Requested reports whether any mutation is asked for.
func (p Preprocessing) Requested() bool {
	return p.ShowMyCode.Mode != VisibilityUntouched ||
		len(p.InternalsVisibleTo) > 0 ||
		len(p.ReplaceDependencies) > 0 ||
		p.ReplacePackageID
}

// =============================================================================
// Publish Options
// =============================================================================

// PublishOptions is the configuration snapshot of one orchestration call.
// Build it once, call Normalize, and pass it by value.
type PublishOptions struct {
	SkipVerification  bool
	SyncMode          SyncMode
	Scope             Scope
	PackageType       PackageType
	IgnoreIfAppExists bool
	Sync              bool
	Install           bool
	Upgrade           bool
	Tenant            string
	Language          string
	UseDevEndpoint    bool

	// Force is derived by the caller from the server's major version.
	Force bool

	PublisherAzureADTenantID string

	Preprocess Preprocessing
}

// Normalize returns a copy with defaults applied.
func (o PublishOptions) Normalize() PublishOptions {
	if o.PackageType == "" {
		o.PackageType = PackageTypeExtension
	}
	if strings.TrimSpace(o.Tenant) == "" {
		o.Tenant = DefaultTenant
	}
	return o
}

// Validate checks the option combination. Call it on normalized options.
func (o PublishOptions) Validate() error {
	if !o.SyncMode.IsValid() {
		return fmt.Errorf("%w: unknown sync mode %q", ErrInvalidOptions, o.SyncMode)
	}
	if !o.Scope.IsValid() {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidOptions, o.Scope)
	}

	switch o.PackageType {
	case PackageTypeExtension:
	case PackageTypeSymbolsOnly:
		if o.Sync || o.Install || o.Upgrade {
			return fmt.Errorf("%w: symbols only packages cannot be synchronized, installed or upgraded", ErrInvalidOptions)
		}
	default:
		return fmt.Errorf("%w: unknown package type %q", ErrInvalidOptions, o.PackageType)
	}

	switch o.Preprocess.ShowMyCode.Mode {
	case VisibilityUntouched, VisibilitySet, VisibilityAssert:
	default:
		return fmt.Errorf("%w: unknown visibility mode %q", ErrInvalidOptions, o.Preprocess.ShowMyCode.Mode)
	}

	for id, r := range o.Preprocess.ReplaceDependencies {
		if r.ID == "" {
			return fmt.Errorf("%w: replacement for dependency %s has no id", ErrInvalidOptions, id)
		}
		if r.MinVersion != "" {
			if _, err := ParseVersion(r.MinVersion); err != nil {
				return fmt.Errorf("%w: replacement for dependency %s: %v", ErrInvalidOptions, id, err)
			}
		}
	}

	return nil
}

// SchemaUpdateMode maps the sync mode to the dev endpoint query value.
func (o PublishOptions) SchemaUpdateMode() string {
	switch o.SyncMode {
	case SyncModeClean:
		return "recreate"
	case SyncModeForceSync:
		return "forcesync"
	default:
		return "synchronize"
	}
}
