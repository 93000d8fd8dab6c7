package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

func (s *Store) entityTable(kind schema.Kind) (schema.EntityTable, error) {
	t, ok := s.catalog.Entity(kind)
	if !ok {
		return t, fmt.Errorf("unknown entity kind %q: %w", kind, recerrors.ErrValidation)
	}
	return t, nil
}

func entitySelect(t schema.EntityTable) string {
	q := "SELECT id, name"
	if len(t.Columns) > 0 {
		q += ", " + selectList(t.Columns)
	}
	return q + " FROM " + ident(t.Table)
}

func scanEntity(row pgx.Row, t schema.EntityTable) (store.Entity, error) {
	e := store.Entity{Kind: t.Kind}
	raw := make([]*string, len(t.Columns))
	dest := make([]any, 0, len(t.Columns)+2)
	dest = append(dest, &e.ID, &e.Name)
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	if err := row.Scan(dest...); err != nil {
		return store.Entity{}, err
	}
	e.Fields = decode(t.Columns, raw)
	return e, nil
}

func (s *Store) queryEntities(ctx context.Context, t schema.EntityTable, query string, args ...any) ([]store.Entity, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "query %s", t.Table)
	}
	defer rows.Close()

	var out []store.Entity
	for rows.Next() {
		e, err := scanEntity(rows, t)
		if err != nil {
			return nil, mapError(err, "scan %s", t.Table)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate %s", t.Table)
	}
	return out, nil
}

// FindEntities implements store.Store.
func (s *Store) FindEntities(ctx context.Context, kind schema.Kind, name string, mode store.MatchMode) ([]store.Entity, error) {
	t, err := s.entityTable(kind)
	if err != nil {
		return nil, err
	}
	folded := normalize.FoldName(name)
	if folded == "" {
		return nil, nil
	}

	var where string
	arg := folded
	switch mode {
	case store.MatchExact:
		where = "name = $1"
		arg = strings.TrimSpace(name)
	case store.MatchCaseInsensitive:
		where = "normalized_name = $1"
	case store.MatchContains:
		where = "(strpos(normalized_name, $1) > 0 OR strpos($1, normalized_name) > 0)"
	default:
		return nil, fmt.Errorf("unsupported match mode %d: %w", mode, recerrors.ErrValidation)
	}

	query := entitySelect(t) + " WHERE " + where + " ORDER BY id"
	return s.queryEntities(ctx, t, query, arg)
}

// CreateEntity implements store.Store.
func (s *Store) CreateEntity(ctx context.Context, kind schema.Kind, name string, fields store.Row) (store.Entity, error) {
	t, err := s.entityTable(kind)
	if err != nil {
		return store.Entity{}, err
	}
	name = strings.TrimSpace(name)
	folded := normalize.FoldName(name)
	if folded == "" {
		return store.Entity{}, fmt.Errorf("create %s: blank name: %w", kind, recerrors.ErrValidation)
	}

	fields = fields.Present()
	cols, err := columnsOf(fields, t.Column, t.Table)
	if err != nil {
		return store.Entity{}, err
	}

	names := []string{"name", "normalized_name"}
	values := []string{"$1", "$2"}
	args := []any{name, folded}
	for i, c := range cols {
		names = append(names, ident(c.Name))
		values = append(values, placeholder(i+3, c))
		args = append(args, encode(fields[c.Name]))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		ident(t.Table), strings.Join(names, ", "), strings.Join(values, ", "))

	e := store.Entity{Kind: kind, Name: name, Fields: fields}
	if err := s.db.QueryRow(ctx, query, args...).Scan(&e.ID); err != nil {
		return store.Entity{}, mapError(err, "create %s %q", kind, name)
	}

	s.logger.Debug("Entity created",
		logging.F("kind", string(kind)),
		logging.F("id", e.ID),
		logging.F("name", name))
	return e, nil
}

// GetEntity implements store.Store.
func (s *Store) GetEntity(ctx context.Context, kind schema.Kind, id int64) (store.Entity, error) {
	t, err := s.entityTable(kind)
	if err != nil {
		return store.Entity{}, err
	}
	e, err := scanEntity(s.db.QueryRow(ctx, entitySelect(t)+" WHERE id = $1", id), t)
	if err != nil {
		return store.Entity{}, mapError(err, "%s %d", kind, id)
	}
	return e, nil
}

// ListEntities implements store.Store.
func (s *Store) ListEntities(ctx context.Context, kind schema.Kind) ([]store.Entity, error) {
	t, err := s.entityTable(kind)
	if err != nil {
		return nil, err
	}
	return s.queryEntities(ctx, t, entitySelect(t)+" ORDER BY id")
}

// UpdateEntity implements store.Store. Absent values set the column to NULL.
func (s *Store) UpdateEntity(ctx context.Context, kind schema.Kind, id int64, fields store.Row) error {
	t, err := s.entityTable(kind)
	if err != nil {
		return err
	}
	cols, err := columnsOf(fields, t.Column, t.Table)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = %s", ident(c.Name), placeholder(i+1, c)))
		args = append(args, encode(fields[c.Name]))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", ident(t.Table), strings.Join(sets, ", "), len(args))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, "update %s %d", kind, id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %d: %w", kind, id, recerrors.ErrNotFound)
	}
	return nil
}

// DeleteEntity implements store.Store. Referenced entities fail with
// ErrInvalidState through the foreign keys.
func (s *Store) DeleteEntity(ctx context.Context, kind schema.Kind, id int64) error {
	t, err := s.entityTable(kind)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM "+ident(t.Table)+" WHERE id = $1", id)
	if err != nil {
		return mapError(err, "delete %s %d", kind, id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s %d: %w", kind, id, recerrors.ErrNotFound)
	}
	s.logger.Debug("Entity deleted", logging.F("kind", string(kind)), logging.F("id", id))
	return nil
}
