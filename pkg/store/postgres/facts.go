package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

func (s *Store) factTable(table string) (schema.FactTable, error) {
	t, ok := s.catalog.Fact(table)
	if !ok {
		return t, fmt.Errorf("unknown fact table %q: %w", table, recerrors.ErrValidation)
	}
	return t, nil
}

func factSelect(t schema.FactTable) string {
	return "SELECT id, " + selectList(t.Columns) + " FROM " + ident(t.Table)
}

func scanFact(row pgx.Row, t schema.FactTable) (store.Fact, error) {
	f := store.Fact{Table: t.Name}
	raw := make([]*string, len(t.Columns))
	dest := make([]any, 0, len(t.Columns)+1)
	dest = append(dest, &f.ID)
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	if err := row.Scan(dest...); err != nil {
		return store.Fact{}, err
	}
	f.Fields = decode(t.Columns, raw)
	return f, nil
}

func filterArgs(filter store.Row, cols []schema.Column) []any {
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = encode(filter[c.Name])
	}
	return args
}

// FindFact implements store.Store.
func (s *Store) FindFact(ctx context.Context, table string, key store.Row) (*store.Fact, error) {
	t, err := s.factTable(table)
	if err != nil {
		return nil, err
	}
	cols := make([]schema.Column, 0, len(t.NaturalKey))
	for _, name := range t.NaturalKey {
		if key.Get(name).IsAbsent() {
			return nil, fmt.Errorf("%s: key column %s missing: %w", table, name, recerrors.ErrValidation)
		}
		c, _ := t.Column(name)
		cols = append(cols, c)
	}

	where, args := whereEquals(key, cols, 1)
	query := factSelect(t) + " WHERE " + where + " LIMIT 1"
	f, err := scanFact(s.db.QueryRow(ctx, query, args...), t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err, "find %s", table)
	}
	return &f, nil
}

// InsertFact implements store.Store.
func (s *Store) InsertFact(ctx context.Context, table string, fields store.Row) (store.Fact, error) {
	t, err := s.factTable(table)
	if err != nil {
		return store.Fact{}, err
	}
	fields = fields.Present()
	if _, ok := store.NaturalKey(t, fields); !ok {
		return store.Fact{}, fmt.Errorf("%s: incomplete natural key %v: %w", table, t.NaturalKey, recerrors.ErrValidation)
	}
	cols, err := columnsOf(fields, t.Column, t.Table)
	if err != nil {
		return store.Fact{}, err
	}

	names := make([]string, len(cols))
	values := make([]string, len(cols))
	for i, c := range cols {
		names[i] = ident(c.Name)
		values[i] = placeholder(i+1, c)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		ident(t.Table), strings.Join(names, ", "), strings.Join(values, ", "))

	f := store.Fact{Table: table, Fields: fields}
	if err := s.db.QueryRow(ctx, query, filterArgs(fields, cols)...).Scan(&f.ID); err != nil {
		return store.Fact{}, mapError(err, "insert %s", table)
	}
	return f, nil
}

// UpdateFact implements store.Store. Absent values set the column to NULL.
func (s *Store) UpdateFact(ctx context.Context, table string, id int64, fields store.Row) error {
	t, err := s.factTable(table)
	if err != nil {
		return err
	}
	cols, err := columnsOf(fields, t.Column, t.Table)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(cols))
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = %s", ident(c.Name), placeholder(i+1, c)))
	}
	if len(sets) == 0 {
		sets = append(sets, "id = id")
	}
	args := append(filterArgs(fields, cols), id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", ident(t.Table), strings.Join(sets, ", "), len(args))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, "update %s %d", table, id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %d: %w", table, id, recerrors.ErrNotFound)
	}
	return nil
}

// DeleteFact implements store.Store.
func (s *Store) DeleteFact(ctx context.Context, table string, id int64) error {
	t, err := s.factTable(table)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM "+ident(t.Table)+" WHERE id = $1", id)
	if err != nil {
		return mapError(err, "delete %s %d", table, id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s %d: %w", table, id, recerrors.ErrNotFound)
	}
	return nil
}

// ListFacts implements store.Store.
func (s *Store) ListFacts(ctx context.Context, table string, filter store.Row) ([]store.Fact, error) {
	t, err := s.factTable(table)
	if err != nil {
		return nil, err
	}
	cols, err := columnsOf(filter, t.Column, t.Table)
	if err != nil {
		return nil, err
	}

	query := factSelect(t)
	var args []any
	if len(cols) > 0 {
		var where string
		where, args = whereEquals(filter, cols, 1)
		query += " WHERE " + where
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list %s", table)
	}
	defer rows.Close()

	var out []store.Fact
	for rows.Next() {
		f, err := scanFact(rows, t)
		if err != nil {
			return nil, mapError(err, "scan %s", table)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate %s", table)
	}
	return out, nil
}
