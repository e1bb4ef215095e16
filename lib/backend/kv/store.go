package kv

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/query"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("backend")

const (
	countersSuffix = "counters"
	metaSuffix     = "meta"
)

// baseFeatures are provided by every kv store regardless of the engine.
const baseFeatures = backend.FeatureScanKeyPrefix |
	backend.FeatureScanKeyRange |
	backend.FeatureTransaction |
	backend.FeatureStreamSnapshot |
	backend.FeatureOlapTables |
	backend.FeatureQueryByPage

// Store implements backend.BackendStore on top of an Engine.
//
// Every entity type gets its own table named "<store>_<type>", counters live
// in "<store>_counters" (one 8 byte big endian value per type) and the driver
// version in "<store>_meta". Keys are the canonical id bytes (id.AsBytes), so
// engine order is query order.
type Store struct {
	name          string
	database      string
	storeType     backend.StoreType
	driverVersion string

	engine   *sharedEngine
	opened   atomic.Bool
	openMu   sync.Mutex
	tx       *backend.Tx
	counters *backend.CounterAllocator
}

// NewStore creates a store of the given type for database on engine. The
// engine is opened by the first store that opens and closed by the last one
// that closes.
func NewStore(database string, storeType backend.StoreType, driverVersion string, engine Engine) *Store {
	return newStore(database, storeType, driverVersion, &sharedEngine{Engine: engine})
}

func newStore(database string, storeType backend.StoreType, driverVersion string, engine *sharedEngine) *Store {
	s := &Store{
		name:          strings.ToLower(database) + "_" + storeType.String(),
		database:      database,
		storeType:     storeType,
		driverVersion: driverVersion,
		engine:        engine,
		tx:            backend.NewTx(),
	}
	s.counters = backend.NewCounterAllocator(s.name, s)
	if !engine.Features().Has(backend.FeatureAtomicCounter) {
		s.counters.WithoutAtomic()
	}
	return s
}

// --------------------------------------------------------------------------
// Identity
// --------------------------------------------------------------------------

func (s *Store) Name() string                 { return s.name }
func (s *Store) Database() string             { return s.database }
func (s *Store) StoreType() backend.StoreType { return s.storeType }

func (s *Store) Features() backend.Feature {
	f := baseFeatures | s.engine.Features()
	if _, ok := s.engine.Engine.(FileSnapshotter); !ok {
		f &^= backend.FeatureSnapshot
	}
	if s.storeType != backend.StoreGraph {
		f &^= backend.FeatureOlapTables
	}
	return f
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Open acquires the engine and, if the store was initialized before, checks
// that the stored driver version is compatible.
func (s *Store) Open() error {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if s.opened.Load() {
		return nil
	}
	if err := s.engine.acquire(); err != nil {
		return backend.Wrap(err, s.name, "open")
	}

	stored, err := s.storedVersion()
	if err == nil && stored != "" && !compatibleVersion(stored, s.driverVersion) {
		err = backend.Errorf(backend.RetCConfigError,
			"stored driver version %s is incompatible with %s", stored, s.driverVersion)
	}
	if err != nil {
		_ = s.engine.release()
		return backend.Wrap(err, s.name, "open")
	}

	s.opened.Store(true)
	log.Infof("opened store '%s' on %s engine", s.name, s.engine.Name())
	return nil
}

// Close releases the engine. It is idempotent and always drops an open
// transaction scope.
func (s *Store) Close() error {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	_ = s.tx.Rollback(nil)
	if !s.opened.Swap(false) {
		return nil
	}
	log.Infof("closed store '%s'", s.name)
	return backend.Wrap(s.engine.release(), s.name, "close")
}

func (s *Store) Opened() bool {
	return s.opened.Load()
}

// Init creates the tables of every type this store accepts. It is idempotent.
func (s *Store) Init() error {
	if err := s.checkOpened("init"); err != nil {
		return err
	}
	tables := []string{s.metaTable(), s.countersTable()}
	for _, t := range s.types() {
		tables = append(tables, s.table(t))
	}
	for _, table := range tables {
		if err := s.engine.CreateTable(table); err != nil {
			return backend.Wrap(err, s.name, "init")
		}
	}
	err := s.engine.Update(func(w Writer) error {
		return w.Put(s.metaTable(), []byte(backend.MetaDriverVersion), []byte(s.driverVersion))
	})
	if err != nil {
		return backend.Wrap(err, s.name, "init")
	}
	log.Infof("store '%s' initialized with driver version %s", s.name, s.driverVersion)
	return nil
}

// Clear drops every table of the store, OLAP tables included. Engines have
// no separate space to drop, so clearSpace has no additional effect.
func (s *Store) Clear(clearSpace bool) error {
	if err := s.checkOpened("clear"); err != nil {
		return err
	}
	tables, err := s.ownTables()
	if err != nil {
		return backend.Wrap(err, s.name, "clear")
	}
	for _, table := range tables {
		if err := s.engine.DropTable(table); err != nil {
			return backend.Wrap(err, s.name, "clear")
		}
	}
	log.Infof("store '%s' cleared (%d tables, clear space %v)", s.name, len(tables), clearSpace)
	return nil
}

func (s *Store) Initialized() bool {
	if !s.opened.Load() {
		return false
	}
	v, err := s.storedVersion()
	return err == nil && v != ""
}

// Truncate empties every table except the metadata.
func (s *Store) Truncate() error {
	if err := s.checkOpened("truncate"); err != nil {
		return err
	}
	tables, err := s.ownTables()
	if err != nil {
		return backend.Wrap(err, s.name, "truncate")
	}
	for _, table := range tables {
		if table == s.metaTable() {
			continue
		}
		if err := s.engine.TruncateTable(table); err != nil {
			return backend.Wrap(err, s.name, "truncate")
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (s *Store) Mutate(m *backend.Mutation) error {
	if err := s.checkOpened("mutate"); err != nil {
		return err
	}
	return backend.Wrap(s.tx.Add(m, s.checkItem), s.name, "mutate")
}

func (s *Store) BeginTx() error {
	if err := s.checkOpened("begin tx"); err != nil {
		return err
	}
	return backend.Wrap(s.tx.Begin(), s.name, "begin tx")
}

func (s *Store) CommitTx() error {
	if err := s.checkOpened("commit tx"); err != nil {
		return err
	}
	return backend.Wrap(s.tx.Commit(s.Apply), s.name, "commit tx")
}

func (s *Store) RollbackTx() error {
	return backend.Wrap(s.tx.Rollback(nil), s.name, "rollback tx")
}

func (s *Store) TxState() backend.TxState {
	return s.tx.State()
}

// Apply writes items atomically, bypassing the transaction buffer. It is
// used by CommitTx and by replicas applying an already committed batch.
func (s *Store) Apply(items []backend.MutationItem) error {
	if len(items) == 0 {
		return nil
	}
	for _, item := range items {
		if err := s.checkItem(item); err != nil {
			return err
		}
	}
	return s.engine.Update(func(w Writer) error {
		for _, item := range items {
			if err := s.applyItem(w, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) applyItem(w Writer, item backend.MutationItem) error {
	table, err := s.entryTable(item.Entry)
	if err != nil {
		return err
	}
	key := item.Entry.ID.AsBytes()

	put := func(e *backend.Entry) error {
		raw, err := e.MarshalBinary()
		if err != nil {
			return err
		}
		return w.Put(table, key, raw)
	}
	stored := func() (*backend.Entry, error) {
		raw, found, err := w.Get(table, key)
		if err != nil || !found {
			return nil, err
		}
		return backend.DecodeEntry(raw)
	}

	switch item.Action {
	case backend.ActionInsert:
		return put(item.Entry)
	case backend.ActionDelete:
		return w.Delete(table, key)
	case backend.ActionAppend, backend.ActionEliminate:
		old, err := stored()
		if err != nil {
			return err
		}
		if old == nil {
			if item.Action == backend.ActionEliminate {
				return nil
			}
			return put(item.Entry)
		}
		if item.Action == backend.ActionAppend {
			old.Merge(item.Entry)
		} else {
			old.Eliminate(item.Entry)
		}
		return put(old)
	case backend.ActionUpdateIfPresent, backend.ActionUpdateIfAbsent:
		_, found, err := w.Get(table, key)
		if err != nil {
			return err
		}
		if found == (item.Action == backend.ActionUpdateIfPresent) {
			return put(item.Entry)
		}
		return nil
	default:
		return backend.Errorf(backend.RetCInvalidOperation, "unknown action %d", item.Action)
	}
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

func (s *Store) Query(q query.Query) (backend.EntryIterator, error) {
	if err := s.checkOpened("query"); err != nil {
		return nil, err
	}
	t := q.ResultType()
	if !s.storeType.Accepts(t) || t == types.TypeOlap {
		return nil, &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "query",
			Msg: fmt.Sprintf("store doesn't hold entries of type %s", t)}
	}
	return s.query(s.table(t), q)
}

func (s *Store) QueryNumber(q query.Query) (int64, error) {
	it, err := s.Query(q)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var n int64
	for it.Next() {
		n++
	}
	return n, it.Err()
}

func (s *Store) query(table string, q query.Query) (backend.EntryIterator, error) {
	if query.IsEmpty(q) {
		return backend.EmptyIterator(), nil
	}
	if q.Page() != "" && q.Offset() > 0 {
		return nil, &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "query",
			Msg: "offset can't be combined with a page"}
	}

	if iq, ok := q.(*query.IdQuery); ok {
		return s.queryIds(table, iq)
	}

	r, err := scanRange(q)
	if err != nil {
		return nil, &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "query", Msg: "invalid page", Cause: err}
	}
	cursor, err := s.engine.Scan(table, r)
	if err != nil {
		return nil, backend.Wrap(err, s.name, "query")
	}
	return newEntryIterator(s.name, cursor, q), nil
}

func (s *Store) queryIds(table string, q *query.IdQuery) (backend.EntryIterator, error) {
	if q.Page() != "" {
		return nil, &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "query",
			Msg: "paging is not supported for id queries"}
	}
	var entries []*backend.Entry
	skip, limit := q.Offset(), q.Limit()
	for _, x := range q.Ids() {
		if limit >= 0 && int64(len(entries)) >= limit {
			break
		}
		raw, found, err := s.engine.Get(table, x.AsBytes())
		if err != nil {
			return nil, backend.Wrap(err, s.name, "query")
		}
		if !found {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		e, err := backend.DecodeEntry(raw)
		if err != nil {
			return nil, backend.Wrap(err, s.name, "query")
		}
		entries = append(entries, e)
	}
	return backend.NewSliceIterator(entries, ""), nil
}

// scanRange translates a query into the narrowest engine range. The query
// itself still filters every entry, so the range only needs to be a superset.
func scanRange(q query.Query) (Range, error) {
	var r Range
	switch v := q.(type) {
	case *query.IdRangeQuery:
		r.Start = v.Start().AsBytes()
		if !v.InclusiveStart() {
			r.Start = Successor(r.Start)
		}
		if v.End() != nil {
			r.End = v.End().AsBytes()
			if v.InclusiveEnd() {
				r.End = Successor(r.End)
			}
		}
	case *query.IdPrefixQuery:
		r.Prefix = v.Prefix().AsBytes()
		r.Start = v.Start().AsBytes()
		if !v.InclusiveStart() {
			r.Start = Successor(r.Start)
		}
	}

	if page := q.Page(); page != "" {
		last, err := hex.DecodeString(page)
		if err != nil {
			return r, err
		}
		if resume := Successor(last); bytes.Compare(resume, r.Start) > 0 {
			r.Start = resume
		}
	}
	return r, nil
}

// --------------------------------------------------------------------------
// Counters
// --------------------------------------------------------------------------

func (s *Store) NextID(t types.Type) (id.Id, error) {
	if err := s.checkOpened("next id"); err != nil {
		return nil, err
	}
	return s.counters.NextID(t)
}

func (s *Store) SetCounterLowest(t types.Type, lowest int64) error {
	if err := s.checkOpened("set counter lowest"); err != nil {
		return err
	}
	return s.counters.SetCounterLowest(t, lowest)
}

func (s *Store) GetCounter(t types.Type) (int64, error) {
	raw, found, err := s.engine.Get(s.countersTable(), counterKey(t))
	if errors.Is(err, ErrTableNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, backend.Wrap(err, s.name, "get counter")
	}
	if !found {
		return 0, nil
	}
	return decodeCounter(raw)
}

func (s *Store) IncreaseCounter(t types.Type, increment int64) error {
	_, err := s.IncrementAndGet(t, increment)
	return err
}

// IncrementAndGet adds delta to the counter of t in a single engine update.
func (s *Store) IncrementAndGet(t types.Type, delta int64) (int64, error) {
	var next int64
	err := s.engine.Update(func(w Writer) error {
		raw, found, err := w.Get(s.countersTable(), counterKey(t))
		if err != nil {
			return err
		}
		var current int64
		if found {
			if current, err = decodeCounter(raw); err != nil {
				return err
			}
		}
		next = current + delta
		return w.Put(s.countersTable(), counterKey(t), encodeCounter(next))
	})
	if errors.Is(err, ErrTableNotFound) {
		return 0, &backend.Error{Code: backend.RetCNotInitialized, Store: s.name, Op: "increase counter",
			Msg: "counter table doesn't exist, please init the store"}
	}
	return next, backend.Wrap(err, s.name, "increase counter")
}

func counterKey(t types.Type) []byte {
	return []byte{byte(t)}
}

func encodeCounter(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

func decodeCounter(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("invalid counter value of %d bytes", len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

func (s *Store) Metadata(t types.Type, meta string) (any, error) {
	if err := s.checkOpened("metadata"); err != nil {
		return nil, err
	}
	switch meta {
	case backend.MetaDriverVersion:
		v, err := s.storedVersion()
		return v, backend.Wrap(err, s.name, "metadata")
	case backend.MetaCounters:
		counters := map[string]int64{}
		for _, ty := range types.All() {
			if t != types.TypeUnknown && ty != t {
				continue
			}
			v, err := s.GetCounter(ty)
			if err != nil {
				return nil, err
			}
			if v != 0 {
				counters[ty.String()] = v
			}
		}
		return counters, nil
	case backend.MetaTables:
		tables, err := s.ownTables()
		return tables, backend.Wrap(err, s.name, "metadata")
	default:
		return nil, backend.Unsupported(s.name, "metadata "+meta)
	}
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// CreateSnapshot copies the engine storage below dir. The engine is shared,
// so the copy holds all stores of the provider.
func (s *Store) CreateSnapshot(dir string) (string, error) {
	fs, ok := s.engine.Engine.(FileSnapshotter)
	if !ok {
		return "", backend.Unsupported(s.name, "create snapshot")
	}
	path, err := fs.SnapshotTo(dir)
	return path, backend.Wrap(err, s.name, "create snapshot")
}

// ResumeSnapshot restores the engine storage from a snapshot created by
// CreateSnapshot in dir.
func (s *Store) ResumeSnapshot(dir string, deleteSnapshot bool) error {
	fs, ok := s.engine.Engine.(FileSnapshotter)
	if !ok {
		return backend.Unsupported(s.name, "resume snapshot")
	}
	path := snapshotPath(dir, s.engine.Name())
	if err := fs.RestoreFrom(path); err != nil {
		return backend.Wrap(err, s.name, "resume snapshot")
	}
	if deleteSnapshot {
		return backend.Wrap(removeSnapshot(path), s.name, "resume snapshot")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func (s *Store) checkOpened(op string) error {
	if !s.opened.Load() {
		return &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: op, Msg: "store is not opened"}
	}
	return nil
}

func (s *Store) checkItem(item backend.MutationItem) error {
	e := item.Entry
	if !s.storeType.Accepts(e.Type) {
		return &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "mutate",
			Msg: fmt.Sprintf("store doesn't accept entries of type %s", e.Type)}
	}
	if e.Type == types.TypeOlap && e.SubID == nil {
		return &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "mutate",
			Msg: "olap entry without property key"}
	}
	return nil
}

// types returns every type with its own table in this store.
func (s *Store) types() []types.Type {
	var out []types.Type
	for _, t := range types.All() {
		if s.storeType.Accepts(t) && t != types.TypeOlap {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) table(t types.Type) string { return s.name + "_" + t.String() }
func (s *Store) countersTable() string     { return s.name + "_" + countersSuffix }
func (s *Store) metaTable() string         { return s.name + "_" + metaSuffix }

func (s *Store) entryTable(e *backend.Entry) (string, error) {
	if e.Type == types.TypeOlap {
		return backend.OlapTableNameByID(s.name, e.SubID), nil
	}
	return s.table(e.Type), nil
}

// ownTables returns every existing table of this store, sorted.
func (s *Store) ownTables() ([]string, error) {
	all, err := s.engine.Tables()
	if err != nil {
		return nil, err
	}
	prefix := s.name + "_"
	var own []string
	for _, table := range all {
		if strings.HasPrefix(table, prefix) {
			own = append(own, table)
		}
	}
	sort.Strings(own)
	return own, nil
}

func (s *Store) storedVersion() (string, error) {
	raw, found, err := s.engine.Get(s.metaTable(), []byte(backend.MetaDriverVersion))
	if errors.Is(err, ErrTableNotFound) || (err == nil && !found) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// compatibleVersion compares the major component of two versions ("1.11" -> "1").
func compatibleVersion(stored, current string) bool {
	major := func(v string) string {
		if i := strings.IndexByte(v, '.'); i >= 0 {
			return v[:i]
		}
		return v
	}
	return major(stored) == major(current)
}

// --------------------------------------------------------------------------
// Shared engine
// --------------------------------------------------------------------------

// sharedEngine reference counts Open and Close of an engine used by several stores.
type sharedEngine struct {
	Engine
	mu   sync.Mutex
	refs int
}

func (e *sharedEngine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs == 0 {
		if err := e.Engine.Open(); err != nil {
			return err
		}
	}
	e.refs++
	return nil
}

func (e *sharedEngine) release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs == 0 {
		return nil
	}
	e.refs--
	if e.refs == 0 {
		return e.Engine.Close()
	}
	return nil
}
