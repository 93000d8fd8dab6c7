// Package postgres implements store.Store on PostgreSQL with pgx. Statements
// are generated from the schema catalog; every identifier is sanitized with
// pgx.Identifier and every value is bound as a parameter.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/normalize"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

// SQLSTATE codes mapped onto domain errors.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	db      querier
	catalog *schema.Catalog
	logger  logging.Logger
}

var _ store.Store = (*Store)(nil)

// New creates a Postgres store. A nil catalog means schema.Default().
func New(pool *pgxpool.Pool, catalog *schema.Catalog, logger logging.Logger) *Store {
	if catalog == nil {
		catalog = schema.Default()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		db:      pool,
		catalog: catalog,
		logger:  logger.With(logging.Component("postgres_store")),
	}
}

// mapError translates constraint violations into domain errors.
func mapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %s: %w", msg, pgErr.ConstraintName, recerrors.ErrConflict)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %s: %w", msg, pgErr.ConstraintName, recerrors.ErrInvalidState)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, recerrors.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// placeholder binds parameter n as text and casts it to the column type, so
// every value can travel as its canonical string.
func placeholder(n int, col schema.Column) string {
	if col.SQLType() == "text" {
		return fmt.Sprintf("$%d", n)
	}
	return fmt.Sprintf("$%d::text::%s", n, col.SQLType())
}

// encode renders a value as a nullable string parameter.
func encode(v normalize.Value) *string {
	if v.IsAbsent() {
		return nil
	}
	s := v.String()
	return &s
}

func selectList(cols []schema.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = ident(c.Name) + "::text"
	}
	return strings.Join(parts, ", ")
}

// decode turns scanned text columns back into canonical values.
func decode(cols []schema.Column, raw []*string) store.Row {
	row := store.Row{}
	for i, c := range cols {
		if raw[i] == nil {
			continue
		}
		if v := normalize.Coerce(c.Kind, *raw[i]); !v.IsAbsent() {
			row[c.Name] = v
		}
	}
	return row
}

func columnsOf(fields store.Row, lookup func(string) (schema.Column, bool), where string) ([]schema.Column, error) {
	cols := make([]schema.Column, 0, len(fields))
	for _, name := range fields.Columns() {
		c, ok := lookup(name)
		if !ok {
			return nil, fmt.Errorf("%s has no column %q: %w", where, name, recerrors.ErrValidation)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// whereEquals builds "a = $n AND b IS NULL ..." for a filter, numbering
// parameters from start, and returns the bound arguments.
func whereEquals(filter store.Row, cols []schema.Column, start int) (string, []any) {
	parts := make([]string, len(cols))
	var args []any
	for i, c := range cols {
		v := filter.Get(c.Name)
		if v.IsAbsent() {
			parts[i] = ident(c.Name) + " IS NULL"
			continue
		}
		parts[i] = fmt.Sprintf("%s = %s", ident(c.Name), placeholder(start+len(args), c))
		args = append(args, encode(v))
	}
	return strings.Join(parts, " AND "), args
}

// WithTx implements store.Store using pgx.BeginFunc. Nested calls become
// savepoints.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&Store{db: tx, catalog: s.catalog, logger: s.logger})
	})
}
