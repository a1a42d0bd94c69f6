// Package puzzle selects and builds the verification puzzles.
package puzzle

import (
	_ "embed"
	"fmt"

	"github.com/ashureev/support-desk/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var defaultManifest []byte

// Order is the fixed category sequence. Position, not identity, decides the next puzzle.
var Order = []domain.Category{domain.CategoryHands, domain.CategoryFboy, domain.CategoryCute}

// Image is a manifest entry.
type Image struct {
	ID    string `yaml:"id"`
	Src   string `yaml:"src"`
	Alt   string `yaml:"alt"`
	Label string `yaml:"label"`
}

// Category is the static data for one puzzle category.
type Category struct {
	Name      domain.Category `yaml:"name"`
	Prompt    string          `yaml:"prompt"`
	Correct   []Image         `yaml:"correct"`
	Incorrect []Image         `yaml:"incorrect"`
}

// Manifest maps categories to their image pools.
type Manifest struct {
	Categories []Category `yaml:"categories"`
}

// DefaultManifest parses the embedded manifest.
func DefaultManifest() (*Manifest, error) {
	return ParseManifest(defaultManifest)
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse puzzle manifest: %w", err)
	}
	seen := make(map[domain.Category]bool, len(m.Categories))
	for _, c := range m.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("parse puzzle manifest: category without name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("parse puzzle manifest: duplicate category %q", c.Name)
		}
		seen[c.Name] = true
	}
	return &m, nil
}

// Lookup returns the category data, if present.
func (m *Manifest) Lookup(name domain.Category) (*Category, bool) {
	if m == nil {
		return nil, false
	}
	for i := range m.Categories {
		if m.Categories[i].Name == name {
			return &m.Categories[i], true
		}
	}
	return nil, false
}

// Images returns every image in the manifest, in declaration order.
func (m *Manifest) Images() []Image {
	var out []Image
	for _, c := range m.Categories {
		out = append(out, c.Correct...)
		out = append(out, c.Incorrect...)
	}
	return out
}
