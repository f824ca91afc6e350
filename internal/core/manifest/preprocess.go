package manifest

import (
	"fmt"
	"strings"

	"github.com/artpar/apppublish/internal/core/domain"
)

// =============================================================================
// Mutations
// =============================================================================

// Changes summarizes what Apply did to a manifest.
type Changes struct {
	ReplacedDependencies []string // Original dependency ids that were replaced
	AddedModules         []string // InternalsVisibleTo entries added
	ShowMyCodeSet        bool
}

// Any reports whether the manifest was modified.
func (c Changes) Any() bool {
	return len(c.ReplacedDependencies) > 0 || len(c.AddedModules) > 0 || c.ShowMyCodeSet
}

// Apply applies the manifest mutations requested in p.
//
// Assertions are checked before anything is changed: when the code
// visibility flag is asserted and does not match, the manifest is left
// untouched and domain.ErrVisibilityMismatch is returned.
//
// Package id regeneration is a header change and is not handled here.
func Apply(m *Manifest, p domain.Preprocessing) (Changes, error) {
	var changes Changes

	if p.ShowMyCode.Mode == domain.VisibilityAssert && m.ShowMyCode() != p.ShowMyCode.Value {
		return changes, fmt.Errorf("%w: ShowMyCode is %t, required %t",
			domain.ErrVisibilityMismatch, m.ShowMyCode(), p.ShowMyCode.Value)
	}

	if len(p.ReplaceDependencies) > 0 && m.Dependencies != nil {
		replacements := make(map[string]domain.DependencyReplacement, len(p.ReplaceDependencies))
		for id, r := range p.ReplaceDependencies {
			replacements[strings.ToLower(id)] = r
		}

		for i := range m.Dependencies.Items {
			item := &m.Dependencies.Items[i]
			original := dependencyID(item)
			r, ok := replacements[strings.ToLower(original)]
			if !ok {
				continue
			}
			replaceDependency(item, r)
			changes.ReplacedDependencies = append(changes.ReplacedDependencies, original)
		}
	}

	for _, ref := range p.InternalsVisibleTo {
		if hasModule(m, ref) {
			continue
		}
		if m.InternalsVisibleTo == nil {
			m.InternalsVisibleTo = &ModuleList{}
		}
		var e Element
		e.Set("Id", ref.ID)
		e.Set("Name", ref.Name)
		e.Set("Publisher", ref.Publisher)
		m.InternalsVisibleTo.Items = append(m.InternalsVisibleTo.Items, e)
		changes.AddedModules = append(changes.AddedModules, moduleLabel(ref))
	}

	if p.ShowMyCode.Mode == domain.VisibilitySet && m.ShowMyCode() != p.ShowMyCode.Value {
		m.SetShowMyCode(p.ShowMyCode.Value)
		changes.ShowMyCodeSet = true
	}

	return changes, nil
}

func replaceDependency(item *Element, r domain.DependencyReplacement) {
	// Keep whichever id attribute the manifest already uses
	if item.Get("Id") != "" || item.Get("AppId") == "" {
		item.Set("Id", r.ID)
	} else {
		item.Set("AppId", r.ID)
	}
	if r.Name != "" {
		item.Set("Name", r.Name)
	}
	if r.Publisher != "" {
		item.Set("Publisher", r.Publisher)
	}
	if r.MinVersion != "" {
		item.Set("MinVersion", r.MinVersion)
	}
}

func hasModule(m *Manifest, ref domain.ModuleRef) bool {
	for _, existing := range m.InternalsVisibleToList() {
		if ref.ID != "" && strings.EqualFold(existing.ID, ref.ID) {
			return true
		}
		if ref.ID == "" && strings.EqualFold(existing.Name, ref.Name) && strings.EqualFold(existing.Publisher, ref.Publisher) {
			return true
		}
	}
	return false
}

func moduleLabel(ref domain.ModuleRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return ref.ID
}
