// Package entities implements canonical-registry resolution: the run-scoped
// name dictionary, the LLM-backed resolver that turns candidate names into
// registry ids, and the checkpointed normalization sweep that merges
// duplicate registry rows.
package entities

import (
	"strings"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

// Dictionary is a run-scoped index from lowercased entity names to registry
// ids. It is loaded once per pipeline run and updated as the run creates new
// entities, so later items in the same run resolve against earlier ones.
// Not safe for concurrent use; each run owns its own instance.
type Dictionary struct {
	byName map[domain.EntityType]map[string]string
}

func NewDictionary() *Dictionary {
	byName := make(map[domain.EntityType]map[string]string, len(domain.AllEntityTypes))
	for _, t := range domain.AllEntityTypes {
		byName[t] = make(map[string]string)
	}

	return &Dictionary{byName: byName}
}

// Load indexes existing registry rows by primary name and every alias.
func (d *Dictionary) Load(existing []domain.Entity) {
	for i := range existing {
		e := &existing[i]

		d.Register(e.EntityType, e.ID, e.PrimaryName, e.Aliases)
	}
}

// Register adds one entity under its primary name and aliases. First
// registration wins so an established mapping is never silently rebound.
func (d *Dictionary) Register(entityType domain.EntityType, id, primaryName string, aliases []string) {
	names := append([]string{primaryName}, aliases...)

	for _, name := range names {
		key := nameKey(name)
		if key == "" {
			continue
		}

		if _, ok := d.byName[entityType][key]; !ok {
			d.byName[entityType][key] = id
		}
	}
}

// Lookup resolves a name to a registry id.
func (d *Dictionary) Lookup(entityType domain.EntityType, name string) (string, bool) {
	id, ok := d.byName[entityType][nameKey(name)]

	return id, ok
}

// Size reports the number of indexed names for a type.
func (d *Dictionary) Size(entityType domain.EntityType) int {
	return len(d.byName[entityType])
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
