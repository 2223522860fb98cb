package rbac

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed permissions.yaml
var defaultCatalogYAML []byte

// Catalog is the full ordered set of permission keys
type Catalog struct {
	keys  []string
	index map[string]struct{}
}

type catalogFile struct {
	Groups []struct {
		Name    string   `yaml:"name"`
		Actions []string `yaml:"actions"`
	} `yaml:"groups"`
}

// ParseCatalog decodes a YAML catalog. Duplicate or empty keys are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse permission catalog: %w", err)
	}

	c := &Catalog{index: make(map[string]struct{})}
	for _, g := range f.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("permission group without name")
		}
		for _, a := range g.Actions {
			key := g.Name + ":" + a
			if _, dup := c.index[key]; dup {
				return nil, fmt.Errorf("duplicate permission %q", key)
			}
			c.index[key] = struct{}{}
			c.keys = append(c.keys, key)
		}
	}
	if len(c.keys) == 0 {
		return nil, fmt.Errorf("permission catalog is empty")
	}
	return c, nil
}

// DefaultCatalog returns the embedded catalog
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// All returns a copy of every key in catalog order
func (c *Catalog) All() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Contains reports whether key is in the catalog
func (c *Catalog) Contains(key string) bool {
	_, ok := c.index[key]
	return ok
}

// Unknown returns the entries of perms that are not catalog keys
func (c *Catalog) Unknown(perms []string) []string {
	var out []string
	for _, p := range perms {
		if !c.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}
