// Package memstore is an in-memory store.Store. It enforces the same name
// uniqueness, natural keys and reference integrity as the Postgres schema and
// rolls back transactions by restoring a snapshot. Tests and dry runs use it.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

type memoryState struct {
	sequences map[string]int64
	entities  map[schema.Kind]map[int64]store.Entity
	facts     map[string]map[int64]store.Fact
}

func newMemoryState() *memoryState {
	return &memoryState{
		sequences: map[string]int64{},
		entities:  map[schema.Kind]map[int64]store.Entity{},
		facts:     map[string]map[int64]store.Fact{},
	}
}

func (s *memoryState) clone() *memoryState {
	out := newMemoryState()
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	for kind, rows := range s.entities {
		m := make(map[int64]store.Entity, len(rows))
		for id, e := range rows {
			e.Fields = e.Fields.Clone()
			m[id] = e
		}
		out.entities[kind] = m
	}
	for table, rows := range s.facts {
		m := make(map[int64]store.Fact, len(rows))
		for id, f := range rows {
			f.Fields = f.Fields.Clone()
			m[id] = f
		}
		out.facts[table] = m
	}
	return out
}

func (s *memoryState) next(table string) int64 {
	s.sequences[table]++
	return s.sequences[table]
}

// Store is an in-memory store.Store.
type Store struct {
	mu      sync.Mutex
	catalog *schema.Catalog
	state   *memoryState
}

var _ store.Store = (*Store)(nil)

// New creates an empty store for the given catalog (schema.Default() if nil).
func New(catalog *schema.Catalog) *Store {
	if catalog == nil {
		catalog = schema.Default()
	}
	return &Store{catalog: catalog, state: newMemoryState()}
}

func (s *Store) entityTable(kind schema.Kind) (schema.EntityTable, error) {
	t, ok := s.catalog.Entity(kind)
	if !ok {
		return t, fmt.Errorf("unknown entity kind %q: %w", kind, recerrors.ErrValidation)
	}
	return t, nil
}

func (s *Store) factTable(table string) (schema.FactTable, error) {
	t, ok := s.catalog.Fact(table)
	if !ok {
		return t, fmt.Errorf("unknown fact table %q: %w", table, recerrors.ErrValidation)
	}
	return t, nil
}

func checkColumns(fields store.Row, lookup func(string) (schema.Column, bool), where string) error {
	for col := range fields {
		if _, ok := lookup(col); !ok {
			return fmt.Errorf("%s has no column %q: %w", where, col, recerrors.ErrValidation)
		}
	}
	return nil
}

func sortedEntities(m map[int64]store.Entity, keep func(store.Entity) bool) []store.Entity {
	var out []store.Entity
	for _, e := range m {
		if keep(e) {
			e.Fields = e.Fields.Clone()
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindEntities implements store.Store.
func (s *Store) FindEntities(ctx context.Context, kind schema.Kind, name string, mode store.MatchMode) ([]store.Entity, error) {
	if _, err := s.entityTable(kind); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(name)
	folded := normalize.FoldName(name)
	if folded == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedEntities(s.state.entities[kind], func(e store.Entity) bool {
		switch mode {
		case store.MatchExact:
			return e.Name == trimmed
		case store.MatchCaseInsensitive:
			return normalize.FoldName(e.Name) == folded
		case store.MatchContains:
			n := normalize.FoldName(e.Name)
			return strings.Contains(n, folded) || strings.Contains(folded, n)
		default:
			return false
		}
	}), nil
}

// CreateEntity implements store.Store.
func (s *Store) CreateEntity(ctx context.Context, kind schema.Kind, name string, fields store.Row) (store.Entity, error) {
	t, err := s.entityTable(kind)
	if err != nil {
		return store.Entity{}, err
	}
	name = strings.TrimSpace(name)
	if normalize.FoldName(name) == "" {
		return store.Entity{}, fmt.Errorf("create %s: blank name: %w", kind, recerrors.ErrValidation)
	}
	if err := checkColumns(fields, t.Column, t.Table); err != nil {
		return store.Entity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.state.entities[kind] {
		if e.Name == name {
			return store.Entity{}, fmt.Errorf("create %s %q: name taken by id %d: %w", kind, name, e.ID, recerrors.ErrConflict)
		}
	}

	e := store.Entity{Kind: kind, ID: s.state.next(t.Table), Name: name, Fields: fields.Present()}
	if s.state.entities[kind] == nil {
		s.state.entities[kind] = map[int64]store.Entity{}
	}
	s.state.entities[kind][e.ID] = e

	e.Fields = e.Fields.Clone()
	return e, nil
}

// GetEntity implements store.Store.
func (s *Store) GetEntity(ctx context.Context, kind schema.Kind, id int64) (store.Entity, error) {
	if _, err := s.entityTable(kind); err != nil {
		return store.Entity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.state.entities[kind][id]
	if !ok {
		return store.Entity{}, fmt.Errorf("%s %d: %w", kind, id, recerrors.ErrNotFound)
	}
	e.Fields = e.Fields.Clone()
	return e, nil
}

// ListEntities implements store.Store.
func (s *Store) ListEntities(ctx context.Context, kind schema.Kind) ([]store.Entity, error) {
	if _, err := s.entityTable(kind); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedEntities(s.state.entities[kind], func(store.Entity) bool { return true }), nil
}

// UpdateEntity implements store.Store. Absent values clear the column.
func (s *Store) UpdateEntity(ctx context.Context, kind schema.Kind, id int64, fields store.Row) error {
	t, err := s.entityTable(kind)
	if err != nil {
		return err
	}
	if err := checkColumns(fields, t.Column, t.Table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.state.entities[kind][id]
	if !ok {
		return fmt.Errorf("%s %d: %w", kind, id, recerrors.ErrNotFound)
	}
	e.Fields = applyUpdate(e.Fields, fields)
	s.state.entities[kind][id] = e
	return nil
}

// DeleteEntity implements store.Store. Entities still referenced by facts
// cannot be deleted.
func (s *Store) DeleteEntity(ctx context.Context, kind schema.Kind, id int64) error {
	if _, err := s.entityTable(kind); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.entities[kind][id]; !ok {
		return fmt.Errorf("%s %d: %w", kind, id, recerrors.ErrNotFound)
	}
	for _, ref := range s.catalog.ReferencesTo(kind) {
		for _, f := range s.state.facts[ref.Fact.Name] {
			if refID, ok := f.Fields.ID(ref.Column); ok && refID == id {
				return fmt.Errorf("%s %d still referenced by %s %d: %w", kind, id, f.Table, f.ID, recerrors.ErrInvalidState)
			}
		}
	}
	delete(s.state.entities[kind], id)
	return nil
}

func applyUpdate(current, update store.Row) store.Row {
	out := current.Clone()
	for col, v := range update {
		if v.IsAbsent() {
			delete(out, col)
			continue
		}
		out[col] = v
	}
	return out
}

func matches(fields, filter store.Row) bool {
	for col, want := range filter {
		if !fields.Get(col).Equal(want) {
			return false
		}
	}
	return true
}

// checkFact validates references and natural-key uniqueness for a fact row.
// Callers hold s.mu.
func (s *Store) checkFact(t schema.FactTable, id int64, fields store.Row) error {
	key, ok := store.NaturalKey(t, fields)
	if !ok {
		return fmt.Errorf("%s: incomplete natural key %v: %w", t.Name, t.NaturalKey, recerrors.ErrValidation)
	}
	for _, r := range t.References {
		refID, ok := fields.ID(r.Column)
		if !ok {
			continue
		}
		if _, exists := s.state.entities[r.Kind][refID]; !exists {
			return fmt.Errorf("%s.%s references missing %s %d: %w", t.Name, r.Column, r.Kind, refID, recerrors.ErrInvalidState)
		}
	}
	for _, f := range s.state.facts[t.Name] {
		if f.ID != id && matches(f.Fields, key) {
			return fmt.Errorf("%s: natural key taken by id %d: %w", t.Name, f.ID, recerrors.ErrConflict)
		}
	}
	return nil
}

// FindFact implements store.Store.
func (s *Store) FindFact(ctx context.Context, table string, key store.Row) (*store.Fact, error) {
	t, err := s.factTable(table)
	if err != nil {
		return nil, err
	}
	for _, col := range t.NaturalKey {
		if key.Get(col).IsAbsent() {
			return nil, fmt.Errorf("%s: key column %s missing: %w", table, col, recerrors.ErrValidation)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.state.facts[table] {
		if matches(f.Fields, key) {
			f.Fields = f.Fields.Clone()
			return &f, nil
		}
	}
	return nil, nil
}

// InsertFact implements store.Store.
func (s *Store) InsertFact(ctx context.Context, table string, fields store.Row) (store.Fact, error) {
	t, err := s.factTable(table)
	if err != nil {
		return store.Fact{}, err
	}
	if err := checkColumns(fields, t.Column, t.Table); err != nil {
		return store.Fact{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields = fields.Present()
	if err := s.checkFact(t, 0, fields); err != nil {
		return store.Fact{}, err
	}

	f := store.Fact{Table: table, ID: s.state.next(t.Table), Fields: fields}
	if s.state.facts[table] == nil {
		s.state.facts[table] = map[int64]store.Fact{}
	}
	s.state.facts[table][f.ID] = f

	f.Fields = f.Fields.Clone()
	return f, nil
}

// UpdateFact implements store.Store. Absent values clear the column.
func (s *Store) UpdateFact(ctx context.Context, table string, id int64, fields store.Row) error {
	t, err := s.factTable(table)
	if err != nil {
		return err
	}
	if err := checkColumns(fields, t.Column, t.Table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.state.facts[table][id]
	if !ok {
		return fmt.Errorf("%s %d: %w", table, id, recerrors.ErrNotFound)
	}
	updated := applyUpdate(f.Fields, fields)
	if err := s.checkFact(t, id, updated); err != nil {
		return err
	}
	f.Fields = updated
	s.state.facts[table][id] = f
	return nil
}

// DeleteFact implements store.Store.
func (s *Store) DeleteFact(ctx context.Context, table string, id int64) error {
	if _, err := s.factTable(table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.facts[table][id]; !ok {
		return fmt.Errorf("%s %d: %w", table, id, recerrors.ErrNotFound)
	}
	delete(s.state.facts[table], id)
	return nil
}

// ListFacts implements store.Store.
func (s *Store) ListFacts(ctx context.Context, table string, filter store.Row) ([]store.Fact, error) {
	t, err := s.factTable(table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(filter, t.Column, t.Table); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Fact
	for _, f := range sortedFacts(s.state.facts[table]) {
		if matches(f.Fields, filter) {
			f.Fields = f.Fields.Clone()
			out = append(out, f)
		}
	}
	return out, nil
}

func sortedFacts(m map[int64]store.Fact) []store.Fact {
	out := make([]store.Fact, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithTx implements store.Store by snapshotting state and restoring it when
// fn fails. Transactions are not isolated from concurrent callers.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Counts reports the number of rows per entity table and fact table.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]int{}
	for _, t := range s.catalog.Entities() {
		out[t.Table] = len(s.state.entities[t.Kind])
	}
	for _, t := range s.catalog.Facts() {
		out[t.Table] = len(s.state.facts[t.Name])
	}
	return out
}
