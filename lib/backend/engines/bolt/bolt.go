package bolt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/backend/kv"
	bolt "go.etcd.io/bbolt"
)

const (
	batchSize   = 256
	openTimeout = 5 * time.Second
)

// Engine is a kv.Engine backed by a bbolt file. Every table is a top level
// bucket. bbolt allows a single writer, so Update is atomic and serialized.
//
// Cursors read in batches, each in its own short read transaction, so an open
// cursor never holds a transaction while the caller writes.
type Engine struct {
	path string
	mu   sync.RWMutex // guards db against Close and RestoreFrom
	db   *bolt.DB
}

// New creates an engine for the database file at path.
func New(path string) *Engine {
	return &Engine{path: path}
}

func (e *Engine) Name() string { return "bolt" }

func (e *Engine) Features() backend.Feature {
	return backend.FeatureAtomicCounter | backend.FeatureSnapshot
}

func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db != nil {
		return nil
	}
	return e.open()
}

func (e *Engine) open() error {
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := bolt.Open(e.path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to open bolt database %s: %w", e.path, err)
	}
	e.db = db
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
	return e.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

func (e *Engine) DropTable(name string) error {
	return e.update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func (e *Engine) TruncateTable(name string) error {
	return e.update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(name)); err != nil {
			if errors.Is(err, bolt.ErrBucketNotFound) {
				return fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
			}
			return err
		}
		_, err := tx.CreateBucket([]byte(name))
		return err
	})
}

func (e *Engine) HasTable(name string) (found bool, err error) {
	err = e.view(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return found, err
}

func (e *Engine) Tables() (names []string, err error) {
	err = e.view(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// --------------------------------------------------------------------------
// Reads and writes
// --------------------------------------------------------------------------

func (e *Engine) Get(name string, key []byte) (value []byte, found bool, err error) {
	err = e.view(func(tx *bolt.Tx) error {
		value, found, err = get(tx, name, key)
		return err
	})
	return value, found, err
}

func (e *Engine) Scan(name string, r kv.Range) (kv.Cursor, error) {
	ok, err := e.HasTable(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
	}
	return &cursor{engine: e, table: []byte(name), r: r, seek: r.SeekKey()}, nil
}

func (e *Engine) Update(fn func(w kv.Writer) error) error {
	return e.update(func(tx *bolt.Tx) error {
		return fn(writer{tx: tx})
	})
}

type writer struct {
	tx *bolt.Tx
}

func (w writer) Get(name string, key []byte) ([]byte, bool, error) {
	return get(w.tx, name, key)
}

func (w writer) Put(name string, key, value []byte) error {
	b := w.tx.Bucket([]byte(name))
	if b == nil {
		return fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
	}
	return b.Put(key, value)
}

func (w writer) Delete(name string, key []byte) error {
	b := w.tx.Bucket([]byte(name))
	if b == nil {
		return fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
	}
	return b.Delete(key)
}

// get copies the value out, bolt values are only valid inside the transaction.
func get(tx *bolt.Tx, name string, key []byte) ([]byte, bool, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, false, fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// SnapshotTo copies the database file to dir/bolt.snapshot in a read transaction.
func (e *Engine) SnapshotTo(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, e.Name()+".snapshot")
	err := e.view(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0o600)
	})
	return path, err
}

// RestoreFrom replaces the database file with the snapshot at path and reopens it.
// The snapshot is copied next to the database first, a failing copy leaves the
// engine untouched.
func (e *Engine) RestoreFrom(path string) error {
	tmp := e.path + ".restore"
	if err := copyFile(path, tmp); err != nil {
		return fmt.Errorf("failed to copy snapshot %s: %w", path, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wasOpen := e.db != nil
	if wasOpen {
		if err := e.db.Close(); err != nil {
			return err
		}
		e.db = nil
	}
	if err := os.Rename(tmp, e.path); err != nil {
		return err
	}
	if wasOpen {
		return e.open()
	}
	return nil
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

type pair struct {
	key, value []byte
}

type cursor struct {
	engine *Engine
	table  []byte
	r      kv.Range
	seek   []byte
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

	c.batch = c.batch[:0]
	c.err = c.engine.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.table)
		if b == nil {
			return fmt.Errorf("%w: %s", kv.ErrTableNotFound, c.table)
		}
		bc := b.Cursor()
		var k, v []byte
		if c.seek == nil {
			k, v = bc.First()
		} else {
			k, v = bc.Seek(c.seek)
		}
		for ; k != nil; k, v = bc.Next() {
			if c.r.Done(k) {
				c.done = true
				return nil
			}
			c.batch = append(c.batch, pair{append([]byte(nil), k...), append([]byte(nil), v...)})
			if len(c.batch) == batchSize {
				return nil
			}
		}
		c.done = true
		return nil
	})
	if c.err != nil || len(c.batch) == 0 {
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

func (e *Engine) view(fn func(tx *bolt.Tx) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return fmt.Errorf("bolt engine is closed")
	}
	return e.db.View(fn)
}

func (e *Engine) update(fn func(tx *bolt.Tx) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return fmt.Errorf("bolt engine is closed")
	}
	return e.db.Update(fn)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
