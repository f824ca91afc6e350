// Package manifest reads and rewrites app package manifests.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// A manifest is the NavxManifest.xml document inside an app package. Parsing
// keeps every attribute and element it does not know about, so a manifest
// can be mutated and written back without losing information.
package manifest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/apppublish/internal/core/domain"
)

// =============================================================================
// Constants and Errors
// =============================================================================

// FileName is the manifest entry name inside a package archive.
const FileName = "NavxManifest.xml"

// Namespace is the manifest XML namespace.
const Namespace = "http://schemas.microsoft.com/navx/2015/manifest"

var (
	// ErrNoApp is returned when the manifest has no App element.
	ErrNoApp = errors.New("manifest has no App element")

	// ErrMissingAttribute is returned when a required attribute is absent.
	ErrMissingAttribute = errors.New("missing manifest attribute")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// =============================================================================
// Types
// =============================================================================

// Element is a manifest element known only by its attributes.
type Element struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

// Get returns the attribute value, matching the name case-insensitively.
func (e *Element) Get(name string) string {
	for _, a := range e.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

// Set updates the attribute or appends it.
func (e *Element) Set(name, value string) {
	for i, a := range e.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// DependencyList is the Dependencies element.
type DependencyList struct {
	Items []Element `xml:"Dependency"`
}

// ModuleList is the InternalsVisibleTo element.
type ModuleList struct {
	Items []Element `xml:"Module"`
}

// rawElement keeps elements the manifest model does not interpret.
type rawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

// Manifest is a parsed NavxManifest.xml document.
type Manifest struct {
	XMLName            xml.Name        `xml:"Package"`
	App                *Element        `xml:"App"`
	Dependencies       *DependencyList `xml:"Dependencies"`
	InternalsVisibleTo *ModuleList     `xml:"InternalsVisibleTo"`
	Other              []rawElement    `xml:",any"`
}

// =============================================================================
// Parse and Marshal
// =============================================================================

// Parse parses manifest XML.
func Parse(data []byte) (*Manifest, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var m Manifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.App == nil {
		return nil, ErrNoApp
	}

	m.App.Attrs = plainAttrs(m.App.Attrs)
	if m.Dependencies != nil {
		for i := range m.Dependencies.Items {
			m.Dependencies.Items[i].Attrs = plainAttrs(m.Dependencies.Items[i].Attrs)
		}
	}
	if m.InternalsVisibleTo != nil {
		for i := range m.InternalsVisibleTo.Items {
			m.InternalsVisibleTo.Items[i].Attrs = plainAttrs(m.InternalsVisibleTo.Items[i].Attrs)
		}
	}
	for i := range m.Other {
		m.Other[i].XMLName.Space = ""
		m.Other[i].Attrs = plainAttrs(m.Other[i].Attrs)
	}

	return &m, nil
}

// Marshal renders the manifest with an XML declaration.
func (m *Manifest) Marshal() ([]byte, error) {
	out := *m
	out.XMLName = xml.Name{Space: Namespace, Local: "Package"}

	body, err := xml.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// plainAttrs drops namespace declarations and namespace qualifiers, which the
// encoder would otherwise re-emit as generated prefixes.
func plainAttrs(attrs []xml.Attr) []xml.Attr {
	out := attrs[:0]
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		a.Name.Space = ""
		out = append(out, a)
	}
	return out
}

// =============================================================================
// Accessors
// =============================================================================

// Identity returns the app identity declared by the manifest.
func (m *Manifest) Identity() (domain.AppIdentity, error) {
	id := domain.AppIdentity{
		ID:        m.App.Get("Id"),
		Publisher: m.App.Get("Publisher"),
		Name:      m.App.Get("Name"),
	}
	if id.Name == "" {
		return domain.AppIdentity{}, fmt.Errorf("%w: App Name", ErrMissingAttribute)
	}
	if id.Publisher == "" {
		return domain.AppIdentity{}, fmt.Errorf("%w: App Publisher", ErrMissingAttribute)
	}

	v, err := domain.ParseVersion(m.App.Get("Version"))
	if err != nil {
		return domain.AppIdentity{}, fmt.Errorf("app %s: %w", id.Name, err)
	}
	id.Version = v
	return id, nil
}

// DependencyList returns the declared dependencies.
// Older manifests use AppId instead of Id.
func (m *Manifest) DependencyList() ([]domain.Dependency, error) {
	if m.Dependencies == nil {
		return nil, nil
	}

	deps := make([]domain.Dependency, 0, len(m.Dependencies.Items))
	for _, item := range m.Dependencies.Items {
		dep := domain.Dependency{
			ID:        dependencyID(&item),
			Publisher: item.Get("Publisher"),
			Name:      item.Get("Name"),
		}
		if mv := item.Get("MinVersion"); mv != "" {
			v, err := domain.ParseVersion(mv)
			if err != nil {
				return nil, fmt.Errorf("dependency %s: %w", dep.Name, err)
			}
			dep.MinVersion = v
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// ShowMyCode returns the code visibility flag.
func (m *Manifest) ShowMyCode() bool {
	return strings.EqualFold(m.App.Get("ShowMyCode"), "true")
}

// SetShowMyCode sets the code visibility flag.
func (m *Manifest) SetShowMyCode(show bool) {
	if show {
		m.App.Set("ShowMyCode", "True")
	} else {
		m.App.Set("ShowMyCode", "False")
	}
}

// InternalsVisibleToList returns the modules granted access to internals.
func (m *Manifest) InternalsVisibleToList() []domain.ModuleRef {
	if m.InternalsVisibleTo == nil {
		return nil
	}
	refs := make([]domain.ModuleRef, 0, len(m.InternalsVisibleTo.Items))
	for _, item := range m.InternalsVisibleTo.Items {
		refs = append(refs, domain.ModuleRef{
			ID:        item.Get("Id"),
			Name:      item.Get("Name"),
			Publisher: item.Get("Publisher"),
		})
	}
	return refs
}

func dependencyID(e *Element) string {
	if id := e.Get("Id"); id != "" {
		return id
	}
	return e.Get("AppId")
}
