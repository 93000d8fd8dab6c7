package memstore

import (
	"fmt"

	"github.com/otherjamesbrown/dealbook/pkg/store"
)

// Snapshot is a copy of the store's rows.
type Snapshot struct {
	Entities []store.Entity
	Facts    []store.Fact
}

// Export returns a copy of every row in ID order.
func (s *Store) Export() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap Snapshot
	for _, t := range s.catalog.Entities() {
		snap.Entities = append(snap.Entities,
			sortedEntities(s.state.entities[t.Kind], func(store.Entity) bool { return true })...)
	}
	for _, t := range s.catalog.Facts() {
		for _, f := range sortedFacts(s.state.facts[t.Name]) {
			f.Fields = f.Fields.Clone()
			snap.Facts = append(snap.Facts, f)
		}
	}
	return snap
}

// Import loads rows with their IDs as given, replacing any row with the
// same ID. Name uniqueness is not checked, so a snapshot can reproduce
// legacy data holding duplicate names; references must still resolve.
func (s *Store) Import(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range snap.Entities {
		t, ok := s.catalog.Entity(e.Kind)
		if !ok {
			return fmt.Errorf("import: unknown entity kind %q", e.Kind)
		}
		if e.ID <= 0 {
			return fmt.Errorf("import: %s %q has no ID", e.Kind, e.Name)
		}
		if s.state.entities[e.Kind] == nil {
			s.state.entities[e.Kind] = map[int64]store.Entity{}
		}
		e.Fields = e.Fields.Present()
		s.state.entities[e.Kind][e.ID] = e
		if e.ID > s.state.sequences[t.Table] {
			s.state.sequences[t.Table] = e.ID
		}
	}
	for _, f := range snap.Facts {
		t, ok := s.catalog.Fact(f.Table)
		if !ok {
			return fmt.Errorf("import: unknown fact table %q", f.Table)
		}
		if f.ID <= 0 {
			return fmt.Errorf("import: %s row has no ID", f.Table)
		}
		f.Fields = f.Fields.Present()
		if err := s.checkFact(t, f.ID, f.Fields); err != nil {
			return fmt.Errorf("import: %w", err)
		}
		if s.state.facts[f.Table] == nil {
			s.state.facts[f.Table] = map[int64]store.Fact{}
		}
		s.state.facts[f.Table][f.ID] = f
		if f.ID > s.state.sequences[t.Table] {
			s.state.sequences[t.Table] = f.ID
		}
	}
	return nil
}
