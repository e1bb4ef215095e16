// Package sqldb implements kv.Engine on a relational database. SQLite (embedded,
// via modernc.org/sqlite) and PostgreSQL (via lib/pq) are supported; the
// dialect is picked from the DSN.
//
// Every table is a two column SQL table (k, v) with k as primary key. A
// registry table keeps track of the tables created by the engine.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/backend/kv"
	"github.com/lib/pq"
	"github.com/puzpuzpuz/xsync/v3"
	_ "modernc.org/sqlite"
)

const (
	registryTable = "gstore_tables"
	batchSize     = 256
	// serialization failures of postgres are retried this many times
	maxTxRetries = 10
	// pq error code of a serialization failure
	pqSerializationFailure = "40001"
)

// Dialect identifies the SQL database.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// DetectDialect determines the dialect from the DSN. Everything not starting
// with postgres:// or postgresql:// is an SQLite path.
func DetectDialect(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Engine is a kv.Engine on SQLite or PostgreSQL.
type Engine struct {
	dsn     string
	dialect Dialect

	mu     sync.RWMutex // guards db
	db     *sql.DB
	tables *xsync.MapOf[string, struct{}]
}

// New creates an engine for dsn, see DetectDialect.
func New(dsn string) *Engine {
	return &Engine{
		dsn:     dsn,
		dialect: DetectDialect(dsn),
		tables:  xsync.NewMapOf[string, struct{}](),
	}
}

func (e *Engine) Name() string     { return e.dialect.String() }
func (e *Engine) Dialect() Dialect { return e.dialect }

// Features of SQLite are none (counters use the compare and swap loop).
// PostgreSQL runs updates serializable and can be shared by several servers.
func (e *Engine) Features() backend.Feature {
	if e.dialect == DialectPostgres {
		return backend.FeatureAtomicCounter | backend.FeatureSharedStorage
	}
	return 0
}

func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db != nil {
		return nil
	}

	db, err := sql.Open(e.dialect.String(), e.dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := e.initDB(db); err != nil {
		db.Close()
		return err
	}

	rows, err := db.Query(e.rebind("SELECT name FROM " + registryTable))
	if err != nil {
		db.Close()
		return fmt.Errorf("loading table registry: %w", err)
	}
	defer rows.Close()
	e.tables.Clear()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			db.Close()
			return err
		}
		e.tables.Store(name, struct{}{})
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return err
	}

	e.db = db
	return nil
}

func (e *Engine) initDB(db *sql.DB) error {
	if e.dialect == DialectSQLite {
		// a single connection serializes writers and keeps ":memory:" databases alive
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("enabling WAL: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			return fmt.Errorf("setting busy timeout: %w", err)
		}
	}
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS " + registryTable + " (name TEXT PRIMARY KEY)")
	if err != nil {
		return fmt.Errorf("creating table registry: %w", err)
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// --------------------------------------------------------------------------
// Tables
// --------------------------------------------------------------------------

func (e *Engine) CreateTable(name string) error {
	blob := "BLOB"
	if e.dialect == DialectPostgres {
		blob = "BYTEA"
	}
	err := e.update(func(tx *sql.Tx) error {
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (k %s PRIMARY KEY, v %s NOT NULL)", quoteIdent(name), blob, blob)
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
		_, err := tx.Exec(e.rebind("INSERT INTO "+registryTable+" (name) VALUES (?) ON CONFLICT (name) DO NOTHING"), name)
		return err
	})
	if err != nil {
		return fmt.Errorf("creating table %s: %w", name, err)
	}
	e.tables.Store(name, struct{}{})
	return nil
}

func (e *Engine) DropTable(name string) error {
	err := e.update(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + quoteIdent(name)); err != nil {
			return err
		}
		_, err := tx.Exec(e.rebind("DELETE FROM "+registryTable+" WHERE name = ?"), name)
		return err
	})
	if err != nil {
		return fmt.Errorf("dropping table %s: %w", name, err)
	}
	e.tables.Delete(name)
	return nil
}

func (e *Engine) TruncateTable(name string) error {
	if err := e.requireTable(name); err != nil {
		return err
	}
	stmt := "DELETE FROM " + quoteIdent(name)
	if e.dialect == DialectPostgres {
		stmt = "TRUNCATE TABLE " + quoteIdent(name)
	}
	return e.update(func(tx *sql.Tx) error {
		_, err := tx.Exec(stmt)
		return err
	})
}

// HasTable consults the registry cache first, then the registry table, which
// may have been changed by another server sharing the database.
func (e *Engine) HasTable(name string) (found bool, err error) {
	err = e.view(func(db *sql.DB) error {
		found, err = e.hasTable(db, name)
		return err
	})
	return found, err
}

func (e *Engine) hasTable(q queryRower, name string) (bool, error) {
	if _, ok := e.tables.Load(name); ok {
		return true, nil
	}
	var n int
	err := q.QueryRow(e.rebind("SELECT 1 FROM "+registryTable+" WHERE name = ?"), name).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.tables.Store(name, struct{}{})
	return true, nil
}

func (e *Engine) Tables() ([]string, error) {
	var names []string
	err := e.view(func(db *sql.DB) error {
		rows, err := db.Query("SELECT name FROM " + registryTable)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	return names, err
}

// --------------------------------------------------------------------------
// Reads and writes
// --------------------------------------------------------------------------

func (e *Engine) Get(name string, key []byte) (value []byte, found bool, err error) {
	if err := e.requireTable(name); err != nil {
		return nil, false, err
	}
	err = e.view(func(db *sql.DB) error {
		value, found, err = get(db, e.rebind, name, key)
		return err
	})
	return value, found, err
}

func (e *Engine) Scan(name string, r kv.Range) (kv.Cursor, error) {
	if err := e.requireTable(name); err != nil {
		return nil, err
	}
	return &cursor{engine: e, table: name, r: r, seek: r.SeekKey(), upper: r.UpperBound()}, nil
}

// Update runs fn in one SQL transaction. On PostgreSQL the transaction is
// serializable and retried on serialization failures.
func (e *Engine) Update(fn func(w kv.Writer) error) error {
	return e.update(func(tx *sql.Tx) error {
		return fn(&writer{engine: e, tx: tx})
	})
}

type writer struct {
	engine *Engine
	tx     *sql.Tx
}

func (w *writer) Get(name string, key []byte) ([]byte, bool, error) {
	if err := w.requireTable(name); err != nil {
		return nil, false, err
	}
	return get(w.tx, w.engine.rebind, name, key)
}

func (w *writer) Put(name string, key, value []byte) error {
	if err := w.requireTable(name); err != nil {
		return err
	}
	stmt := fmt.Sprintf("INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v", quoteIdent(name))
	_, err := w.tx.Exec(w.engine.rebind(stmt), key, value)
	return err
}

func (w *writer) Delete(name string, key []byte) error {
	if err := w.requireTable(name); err != nil {
		return err
	}
	_, err := w.tx.Exec(w.engine.rebind("DELETE FROM "+quoteIdent(name)+" WHERE k = ?"), key)
	return err
}

// requireTable looks up the registry inside the transaction, the engine
// connection may be the one held by the transaction.
func (w *writer) requireTable(name string) error {
	ok, err := w.engine.hasTable(w.tx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
	}
	return nil
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func get(q queryRower, rebind func(string) string, name string, key []byte) ([]byte, bool, error) {
	var v []byte
	err := q.QueryRow(rebind("SELECT v FROM "+quoteIdent(name)+" WHERE k = ?"), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

type pair struct {
	key, value []byte
}

// cursor reads batches with keyset pagination, no result set stays open
// between two calls of Next.
type cursor struct {
	engine *Engine
	table  string
	r      kv.Range
	seek   []byte
	upper  []byte
	batch  []pair
	pos    int
	done   bool
	err    error
}

func (c *cursor) Next() bool {
	if c.pos+1 < len(c.batch) {
		c.pos++
		return true
	}
	if c.done || c.err != nil {
		c.batch = nil
		return false
	}

	var (
		where []string
		args  []any
	)
	if c.seek != nil {
		where = append(where, "k >= ?")
		args = append(args, c.seek)
	}
	if c.upper != nil {
		where = append(where, "k < ?")
		args = append(args, c.upper)
	}
	stmt := "SELECT k, v FROM " + quoteIdent(c.table)
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += fmt.Sprintf(" ORDER BY k LIMIT %d", batchSize)

	c.batch = c.batch[:0]
	c.err = c.engine.view(func(db *sql.DB) error {
		rows, err := db.Query(c.engine.rebind(stmt), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p pair
			if err := rows.Scan(&p.key, &p.value); err != nil {
				return err
			}
			c.batch = append(c.batch, p)
		}
		return rows.Err()
	})
	if c.err != nil {
		c.done = true
		return false
	}
	if len(c.batch) < batchSize {
		c.done = true
	}
	// the prefix check of Done is redundant with upper, End is exact
	for i, p := range c.batch {
		if c.r.Done(p.key) {
			c.batch = c.batch[:i]
			c.done = true
			break
		}
	}
	if len(c.batch) == 0 {
		c.done = true
		return false
	}
	c.seek = kv.Successor(c.batch[len(c.batch)-1].key)
	c.pos = 0
	return true
}

func (c *cursor) Key() []byte   { return c.batch[c.pos].key }
func (c *cursor) Value() []byte { return c.batch[c.pos].value }
func (c *cursor) Err() error    { return c.err }

func (c *cursor) Close() error {
	c.batch = nil
	c.done = true
	return nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func (e *Engine) view(fn func(db *sql.DB) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return fmt.Errorf("%s engine is closed", e.Name())
	}
	return fn(e.db)
}

func (e *Engine) update(fn func(tx *sql.Tx) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return fmt.Errorf("%s engine is closed", e.Name())
	}

	var opts *sql.TxOptions
	if e.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		if err = e.runTx(opts, fn); !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (e *Engine) runTx(opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(context.Background(), opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (e *Engine) requireTable(name string) error {
	ok, err := e.HasTable(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func (e *Engine) rebind(query string) string {
	if e.dialect != DialectPostgres {
		return query
	}
	return convertPlaceholders(query)
}

var placeholderRegex = regexp.MustCompile(`\?`)

func convertPlaceholders(query string) string {
	counter := 0
	return placeholderRegex.ReplaceAllStringFunc(query, func(_ string) string {
		counter++
		return fmt.Sprintf("$%d", counter)
	})
}

// quoteIdent quotes a table name, table names may contain arbitrary id text.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqSerializationFailure
}
