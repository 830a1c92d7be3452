// Package sqlstore implements the formstore Datastore on a relational
// database through sqlx, using the PostgreSQL dialect of lib/pq.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/andreyvit/formstore"
)

const DriverName = "postgres"

type Options struct {
	Logger  *slog.Logger
	Verbose bool

	// Schema qualifies table names when set.
	Schema string
}

// Store keeps one table per relation, named after it, with one column per
// field.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	logger  *slog.Logger
	verbose bool
}

var _ formstore.Datastore = (*Store)(nil)

// Open connects to a PostgreSQL database given a lib/pq DSN or URL.
func Open(ctx context.Context, dsn string, opt Options) (*Store, error) {
	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify(err)
	}
	return New(db, opt), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, opt Options) *Store {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		dialect: dialect{schema: opt.Schema},
		logger:  logger,
		verbose: opt.Verbose,
	}
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) fail(op string, rel *formstore.Relation, uri string, err error) error {
	return &formstore.StorageError{Op: op, Relation: rel, URI: uri, Err: classify(err)}
}

func (s *Store) exec(ctx context.Context, op string, rel *formstore.Relation, uri string, query string, args ...any) (sql.Result, error) {
	if s.verbose {
		s.logger.Debug("sqlstore: "+op, "relation", rel.Name(), "uri", uri, "sql", query)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(op, rel, uri, err)
	}
	return res, nil
}

func (s *Store) EnsureRelation(ctx context.Context, rel *formstore.Relation) error {
	if err := checkIdentifiers(rel); err != nil {
		return err
	}
	if _, err := s.exec(ctx, "ensure", rel, "", s.dialect.createTable(rel)); err != nil {
		return err
	}
	for _, stmt := range s.dialect.createIndexes(rel) {
		if _, err := s.exec(ctx, "ensure", rel, "", stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, rel *formstore.Relation, uri string) (*formstore.Row, error) {
	rows, err := s.db.QueryxContext(ctx, s.dialect.get(rel), uri)
	if err != nil {
		return nil, s.fail("get", rel, uri, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, s.fail("get", rel, uri, err)
		}
		return nil, s.fail("get", rel, uri, formstore.ErrNotFound)
	}
	vals, err := rows.SliceScan()
	if err != nil {
		return nil, s.fail("get", rel, uri, err)
	}
	row, err := formstore.MapRow(rel, formstore.RawSlice(vals))
	if err != nil {
		return nil, s.fail("get", rel, uri, err)
	}
	return row, nil
}

func (s *Store) Put(ctx context.Context, row *formstore.Row) error {
	return s.write(ctx, "put", row, s.dialect.upsert(row.Relation()))
}

func (s *Store) Insert(ctx context.Context, row *formstore.Row) error {
	return s.write(ctx, "insert", row, s.dialect.insert(row.Relation()))
}

func (s *Store) write(ctx context.Context, op string, row *formstore.Row, query string) error {
	rel := row.Relation()
	if err := row.Validate(); err != nil {
		return s.fail(op, rel, row.URI(), err)
	}
	args := make([]any, 0, rel.FieldCount())
	for _, f := range rel.Fields() {
		args = append(args, sqlValue(row.Value(f)))
	}
	_, err := s.exec(ctx, op, rel, row.URI(), query, args...)
	return err
}

func (s *Store) Delete(ctx context.Context, key formstore.EntityKey) error {
	_, err := s.exec(ctx, "delete", key.Relation, key.URI, s.dialect.delete(key.Relation), key.URI)
	return err
}

func (s *Store) Query(ctx context.Context, q *formstore.Query) (formstore.Rows, error) {
	query, args := s.dialect.selectQuery(q)
	if s.verbose {
		s.logger.Debug("sqlstore: query", "query", q.String(), "sql", query)
	}
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query", q.Relation(), "", err)
	}
	return &sqlRows{store: s, rel: q.Relation(), rows: rows}, nil
}

// sqlValue converts a typed row value to a driver argument. Decimals keep
// their scale, which decimal.Decimal's own driver.Valuer would drop.
func sqlValue(v any) any {
	switch v := v.(type) {
	case time.Time:
		return v.UTC()
	case decimal.Decimal:
		return formstore.CanonicalDecimal(v)
	default:
		return v
	}
}

type sqlRows struct {
	store *Store
	rel   *formstore.Relation
	rows  *sqlx.Rows
	row   *formstore.Row
	err   error
}

func (r *sqlRows) Next() bool {
	r.row = nil
	if r.err != nil {
		return false
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			r.err = r.store.fail("query", r.rel, "", err)
		}
		return false
	}
	vals, err := r.rows.SliceScan()
	if err != nil {
		r.err = r.store.fail("query", r.rel, "", err)
		r.rows.Close()
		return false
	}
	row, err := formstore.MapRow(r.rel, formstore.RawSlice(vals))
	if err != nil {
		r.err = r.store.fail("query", r.rel, "", err)
		r.rows.Close()
		return false
	}
	r.row = row
	return true
}

func (r *sqlRows) Row() *formstore.Row { return r.row }
func (r *sqlRows) Err() error          { return r.err }
func (r *sqlRows) Close() error        { return r.rows.Close() }

// IsUndefinedTable reports a query against a relation that was never ensured.
func IsUndefinedTable(err error) bool {
	return errors.Is(err, errUndefinedTable)
}
