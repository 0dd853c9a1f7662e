// Package catalog loads the curated list of remediation actions a user can
// pick from when creating a commitment.
package catalog

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pledge/internal/model"
)

//go:embed default.yaml
var defaultCatalog []byte

type file struct {
	Actions []model.CatalogAction `yaml:"actions"`
}

// Catalog is an immutable, id-indexed set of catalog actions.
type Catalog struct {
	byID map[string]model.CatalogAction
	ids  []string
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "catalog: parse yaml")
	}

	c := &Catalog{byID: make(map[string]model.CatalogAction, len(f.Actions))}
	for i, a := range f.Actions {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, eris.Errorf("catalog: action %d has no id", i)
		}
		if _, dup := c.byID[a.ID]; dup {
			return nil, eris.Errorf("catalog: duplicate action id %q", a.ID)
		}
		if a.Difficulty == "" {
			a.Difficulty = model.DifficultyMedium
		}
		if err := a.Resolve().Validate(); err != nil {
			return nil, eris.Wrapf(err, "catalog: action %q", a.ID)
		}
		c.byID[a.ID] = a
		c.ids = append(c.ids, a.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Lookup returns the action with the given id.
func (c *Catalog) Lookup(id string) (model.CatalogAction, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// List returns every action ordered by id, optionally filtered by category.
func (c *Catalog) List(category string) []model.CatalogAction {
	out := make([]model.CatalogAction, 0, len(c.ids))
	for _, id := range c.ids {
		a := c.byID[id]
		if category != "" && !strings.EqualFold(a.Category, category) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Len returns the number of actions.
func (c *Catalog) Len() int { return len(c.ids) }
