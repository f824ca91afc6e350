package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/artpar/apppublish/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// ParseReplacements parses a dependency replacement map keyed by the app id
// of the dependency being replaced:
//
//	63ca2fa4-4f03-4f2b-a480-172fef340d3f:
//	  id: 437dbf0e-84ff-417a-965d-ed2bb9650972
//	  name: Base Application
//	  publisher: Microsoft
//	  min_version: 24.0.0.0
func ParseReplacements(data []byte) (map[string]domain.DependencyReplacement, error) {
	var raw map[string]domain.DependencyReplacement
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse replacements: %w", err)
	}

	out := make(map[string]domain.DependencyReplacement, len(raw))
	for from, r := range raw {
		if r.ID == "" {
			return nil, fmt.Errorf("replacement for %s: id is required", from)
		}
		if r.MinVersion != "" {
			if _, err := domain.ParseVersion(r.MinVersion); err != nil {
				return nil, fmt.Errorf("replacement for %s: %w", from, err)
			}
		}
		out[strings.ToLower(from)] = r
	}
	return out, nil
}

// LoadReplacements reads a replacement map file.
func LoadReplacements(path string) (map[string]domain.DependencyReplacement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replacements: %w", err)
	}
	return ParseReplacements(data)
}
