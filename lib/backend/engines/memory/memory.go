package memory

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/backend/kv"
	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	degree    = 32
	batchSize = 256
)

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type table = btree.BTreeG[item]

// Engine is an in-memory kv.Engine. Every table is a B-tree ordered by
// unsigned key bytes; cursors iterate over a copy-on-write clone, so scans see
// the state at the time Scan was called and never block writers.
//
// Data survives Close and Open of the same engine value but not the process.
type Engine struct {
	mu     sync.RWMutex
	tables *xsync.MapOf[string, *table]
	opened bool
}

// New creates an empty engine.
func New() *Engine {
	return &Engine{tables: xsync.NewMapOf[string, *table]()}
}

func (e *Engine) Name() string { return "memory" }

// Features reports the atomic counter: updates run under the engine lock.
func (e *Engine) Features() backend.Feature {
	return backend.FeatureAtomicCounter
}

func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = true
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = false
	return nil
}

// --------------------------------------------------------------------------
// Tables
// --------------------------------------------------------------------------

func (e *Engine) CreateTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpened(); err != nil {
		return err
	}
	e.tables.LoadOrStore(name, btree.NewG[item](degree, less))
	return nil
}

func (e *Engine) DropTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpened(); err != nil {
		return err
	}
	e.tables.Delete(name)
	return nil
}

func (e *Engine) TruncateTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpened(); err != nil {
		return err
	}
	if _, ok := e.tables.Load(name); !ok {
		return fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
	}
	// a fresh tree instead of Clear, clones held by cursors keep their data
	e.tables.Store(name, btree.NewG[item](degree, less))
	return nil
}

func (e *Engine) HasTable(name string) (bool, error) {
	_, ok := e.tables.Load(name)
	return ok, nil
}

func (e *Engine) Tables() ([]string, error) {
	names := make([]string, 0, e.tables.Size())
	e.tables.Range(func(name string, _ *table) bool {
		names = append(names, name)
		return true
	})
	return names, nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (e *Engine) Get(name string, key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpened(); err != nil {
		return nil, false, err
	}
	t, ok := e.tables.Load(name)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
	}
	found, ok := t.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), found.value...), true, nil
}

func (e *Engine) Scan(name string, r kv.Range) (kv.Cursor, error) {
	// Clone must not run concurrently with itself, so it takes the write lock
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpened(); err != nil {
		return nil, err
	}
	t, ok := e.tables.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
	}
	return &cursor{tree: t.Clone(), r: r, seek: r.SeekKey()}, nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Update runs fn with a buffering writer and applies the buffered writes only
// if fn succeeds.
func (e *Engine) Update(fn func(w kv.Writer) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpened(); err != nil {
		return err
	}

	w := &writer{engine: e, index: map[string]int{}}
	if err := fn(w); err != nil {
		return err
	}
	for _, o := range w.ops {
		t, _ := e.tables.Load(o.table)
		if o.deleted {
			t.Delete(item{key: o.key})
		} else {
			t.ReplaceOrInsert(item{key: o.key, value: o.value})
		}
	}
	return nil
}

type op struct {
	table   string
	key     []byte
	value   []byte
	deleted bool
}

// writer buffers writes; only the last write per key is kept.
type writer struct {
	engine *Engine
	ops    []op
	index  map[string]int
}

func (w *writer) lookup(name string) (*table, error) {
	t, ok := w.engine.tables.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", kv.ErrTableNotFound, name)
	}
	return t, nil
}

func (w *writer) record(o op) {
	k := o.table + "\x00" + string(o.key)
	if i, ok := w.index[k]; ok {
		w.ops[i] = o
		return
	}
	w.index[k] = len(w.ops)
	w.ops = append(w.ops, o)
}

func (w *writer) Get(name string, key []byte) ([]byte, bool, error) {
	t, err := w.lookup(name)
	if err != nil {
		return nil, false, err
	}
	if i, ok := w.index[name+"\x00"+string(key)]; ok {
		o := w.ops[i]
		if o.deleted {
			return nil, false, nil
		}
		return append([]byte(nil), o.value...), true, nil
	}
	found, ok := t.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), found.value...), true, nil
}

func (w *writer) Put(name string, key, value []byte) error {
	if _, err := w.lookup(name); err != nil {
		return err
	}
	w.record(op{table: name, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (w *writer) Delete(name string, key []byte) error {
	if _, err := w.lookup(name); err != nil {
		return err
	}
	w.record(op{table: name, key: append([]byte(nil), key...), deleted: true})
	return nil
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

// cursor walks a private clone of a table in batches.
type cursor struct {
	tree  *table
	r     kv.Range
	seek  []byte
	batch []item
	pos   int
	done  bool
}

func (c *cursor) Next() bool {
	if c.pos+1 < len(c.batch) {
		c.pos++
		return true
	}
	if c.done || c.tree == nil {
		c.batch = nil
		return false
	}

	c.batch = c.batch[:0]
	collect := func(i item) bool {
		if c.r.Done(i.key) {
			c.done = true
			return false
		}
		c.batch = append(c.batch, i)
		return len(c.batch) < batchSize
	}
	if c.seek == nil {
		c.tree.Ascend(collect)
	} else {
		c.tree.AscendGreaterOrEqual(item{key: c.seek}, collect)
	}
	if len(c.batch) < batchSize {
		c.done = true
	}
	if len(c.batch) == 0 {
		return false
	}
	c.seek = kv.Successor(c.batch[len(c.batch)-1].key)
	c.pos = 0
	return true
}

func (c *cursor) Key() []byte   { return c.batch[c.pos].key }
func (c *cursor) Value() []byte { return c.batch[c.pos].value }
func (c *cursor) Err() error    { return nil }

func (c *cursor) Close() error {
	c.tree = nil
	c.batch = nil
	c.done = true
	return nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func (e *Engine) checkOpened() error {
	if !e.opened {
		return fmt.Errorf("memory engine is closed")
	}
	return nil
}
