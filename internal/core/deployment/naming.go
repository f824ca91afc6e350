package deployment

import (
	"fmt"
	"strings"

	"github.com/artpar/apppublish/internal/core/domain"
)

// =============================================================================
// Naming Functions
// =============================================================================

// PackageExtension is the file extension of app packages.
const PackageExtension = ".app"

// WorkAreaName generates the directory name of a working area.
// Pattern: apppublish-{runID}
//
// Example:
//
//	WorkAreaName("abc123") // returns "apppublish-abc123"
func WorkAreaName(runID string) string {
	return fmt.Sprintf("apppublish-%s", runID)
}

// PackageFileName generates the conventional file name for a package.
// Pattern: {publisher}_{name}_{version}.app with path separators and spaces
// replaced by underscores.
//
// Example:
//
//	// Publisher "Contoso", Name "Base App", Version 1.0.0.0
//	PackageFileName(id) // returns "Contoso_Base_App_1.0.0.0.app"
func PackageFileName(id domain.AppIdentity) string {
	return sanitize(id.String()) + PackageExtension
}

// StagedFileName generates a collision free file name for the position-th
// source staged into a working area, keeping the original base name.
// Pattern: {position:03d}_{base}
//
// Example:
//
//	StagedFileName(2, "My App.app") // returns "002_My_App.app"
func StagedFileName(position int, base string) string {
	return fmt.Sprintf("%03d_%s", position, sanitize(base))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
