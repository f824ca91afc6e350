package domain

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

// =============================================================================
// Version
// =============================================================================

// Version is a four part app version: major.minor.build.revision.
// The zero value is unset and compares as 0.0.0.0.
type Version struct {
	v *version.Version
}

// ParseVersion parses "1", "1.2", "1.2.3" or "1.2.3.4". Missing parts are zero.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}

	v, err := version.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("version %q: %w", s, err)
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return Version{}, fmt.Errorf("version %q: only numeric parts are allowed", s)
	}
	if len(v.Segments()) > 4 {
		return Version{}, fmt.Errorf("version %q has more than four parts", s)
	}

	// Normalize to four parts so equal versions render and compare alike
	canonical, err := version.NewVersion(formatParts(v.Segments()))
	if err != nil {
		return Version{}, fmt.Errorf("version %q: %w", s, err)
	}
	return Version{v: canonical}, nil
}

// MustParseVersion is ParseVersion for literals; it panics on malformed input.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Parts returns major, minor, build and revision.
func (v Version) Parts() [4]int {
	var parts [4]int
	if v.v == nil {
		return parts
	}
	copy(parts[:], v.v.Segments())
	return parts
}

// String returns the dotted four part form.
func (v Version) String() string {
	p := v.Parts()
	return formatParts(p[:])
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	return v.semver().Compare(o.semver())
}

// Equal reports whether both versions have the same four parts.
func (v Version) Equal(o Version) bool {
	return v.semver().Equal(o.semver())
}

// IsZero reports whether the version was never set.
func (v Version) IsZero() bool {
	return v.v == nil
}

func (v Version) semver() *version.Version {
	if v.v == nil {
		return zeroVersion
	}
	return v.v
}

var zeroVersion = version.Must(version.NewVersion("0.0.0.0"))

func formatParts(segments []int) string {
	parts := make([]string, 4)
	for i := range parts {
		n := 0
		if i < len(segments) {
			n = segments[i]
		}
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ".")
}

// =============================================================================
// Identity
// =============================================================================

// AppIdentity identifies an app by publisher, name and version.
// ID is the app id from the manifest; it is stable across versions.
type AppIdentity struct {
	ID        string
	Publisher string
	Name      string
	Version   Version
}

// String returns "Publisher_Name_Version", the conventional package file stem.
func (a AppIdentity) String() string {
	return fmt.Sprintf("%s_%s_%s", a.Publisher, a.Name, a.Version)
}

// Key identifies the app independently of its version.
// The app id is preferred; publisher and name are the fallback.
func (a AppIdentity) Key() string {
	if a.ID != "" {
		return a.IDKey()
	}
	return a.NameKey()
}

// IDKey returns the lowercased app id, or "" when the manifest has none.
func (a AppIdentity) IDKey() string {
	return strings.ToLower(a.ID)
}

// NameKey returns the lowercased "publisher/name" pair.
func (a AppIdentity) NameKey() string {
	return strings.ToLower(a.Publisher + "/" + a.Name)
}

// Dependency is a declared dependency on another app.
type Dependency struct {
	ID         string
	Publisher  string
	Name       string
	MinVersion Version
}

// Key matches AppIdentity.Key.
func (d Dependency) Key() string {
	return d.target().Key()
}

// IDKey matches AppIdentity.IDKey.
func (d Dependency) IDKey() string {
	return d.target().IDKey()
}

// NameKey matches AppIdentity.NameKey.
func (d Dependency) NameKey() string {
	return d.target().NameKey()
}

func (d Dependency) target() AppIdentity {
	return AppIdentity{ID: d.ID, Publisher: d.Publisher, Name: d.Name}
}

// =============================================================================
// Package
// =============================================================================

// Package is a staged app package for the duration of one orchestration call.
type Package struct {
	Identity     AppIdentity
	Dependencies []Dependency
	PackageID    string // Package id from the file header, regenerated on request
	ShowMyCode   bool
	Path         string // Staged copy inside the working area
	Source       string // Caller supplied source, for error reporting only
}

// Name returns the file-style name used in logs and errors.
func (p Package) Name() string {
	return p.Identity.String()
}
