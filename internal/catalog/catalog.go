// Package catalog holds the static table of supported (provider, model)
// combinations, loaded once at startup and read-only afterwards.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mpontes/llm-gateway/internal/domain"
)

type Catalog struct {
	entries []*domain.ModelEntry
	byID    map[string]*domain.ModelEntry
}

type catalogFile struct {
	Models []domain.ModelEntry `yaml:"models"`
}

// Load reads the catalog YAML file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	return FromEntries(file.Models)
}

// FromEntries builds a catalog from an in-memory entry list.
func FromEntries(entries []domain.ModelEntry) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*domain.ModelEntry, len(entries))}

	for i := range entries {
		e := &entries[i]
		if e.ID == "" || e.Provider == "" || e.UpstreamModel == "" {
			return nil, fmt.Errorf("catalog entry %d: id, provider and upstream_model are required", i)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate id %q", i, e.ID)
		}
		c.byID[e.ID] = e
		c.entries = append(c.entries, e)
	}

	return c, nil
}

// Entries returns all catalog entries in load order.
func (c *Catalog) Entries() []*domain.ModelEntry {
	return c.entries
}

// Get looks up an entry by its catalog id.
func (c *Catalog) Get(id string) (*domain.ModelEntry, bool) {
	e, ok := c.byID[id]
	return e, ok
}
