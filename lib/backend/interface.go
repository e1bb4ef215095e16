package backend

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/query"
	"github.com/ValentinKolb/gstore/lib/types"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// StoreType is one of the three logical partitions of a backend. The codes
// travel on the wire inside replicated commands.
type StoreType uint8

const (
	StoreSchema StoreType = 0
	StoreGraph  StoreType = 1
	StoreSystem StoreType = 2
	StoreAll    StoreType = 3 // only used to address all stores in a command
)

func (s StoreType) String() string {
	switch s {
	case StoreSchema:
		return "schema"
	case StoreGraph:
		return "graph"
	case StoreSystem:
		return "system"
	case StoreAll:
		return "all"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Accepts reports whether entries of type t belong to this store.
func (s StoreType) Accepts(t types.Type) bool {
	switch s {
	case StoreSchema:
		return t.IsSchema()
	case StoreGraph:
		return t.IsGraph()
	case StoreSystem:
		return t.IsSystem()
	default:
		return false
	}
}

// ParseStoreType resolves a store type name.
func ParseStoreType(name string) (StoreType, error) {
	for _, s := range []StoreType{StoreSchema, StoreGraph, StoreSystem, StoreAll} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown store type %q", name)
}

// Feature represents optional store capabilities as bit flags.
type Feature uint64

const (
	FeatureScanKeyPrefix  Feature = 1 << iota // Prefix queries are pushed down to a native scan
	FeatureScanKeyRange                       // Range queries are pushed down to a native scan
	FeatureTransaction                        // Mutations are buffered and committed atomically
	FeatureSnapshot                           // CreateSnapshot/ResumeSnapshot to and from a directory
	FeatureStreamSnapshot                     // Dump/Restore to and from a stream
	FeatureOlapTables                         // OLAP side tables
	FeatureAtomicCounter                      // IncrementAndGet without the CAS loop
	FeatureSharedStorage                      // Several processes may use the same physical storage
	FeatureQueryByPage                        // Queries return resumable page tokens
)

// Has reports whether all features in g are set in f.
func (f Feature) Has(g Feature) bool {
	return f&g == g
}

// List splits f into its single flags.
func (f Feature) List() []Feature {
	var out []Feature
	for bit := FeatureScanKeyPrefix; bit <= FeatureQueryByPage; bit <<= 1 {
		if f&bit != 0 {
			out = append(out, bit)
		}
	}
	return out
}

func (f Feature) String() string {
	switch f {
	case FeatureScanKeyPrefix:
		return "ScanKeyPrefix"
	case FeatureScanKeyRange:
		return "ScanKeyRange"
	case FeatureTransaction:
		return "Transaction"
	case FeatureSnapshot:
		return "Snapshot"
	case FeatureStreamSnapshot:
		return "StreamSnapshot"
	case FeatureOlapTables:
		return "OlapTables"
	case FeatureAtomicCounter:
		return "AtomicCounter"
	case FeatureSharedStorage:
		return "SharedStorage"
	case FeatureQueryByPage:
		return "QueryByPage"
	default:
		return "Unknown"
	}
}

// Metadata keys understood by BackendStore.Metadata.
const (
	MetaDriverVersion = "driver_version"
	MetaCounters      = "counters"
	MetaTables        = "tables"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// EntryIterator is the lazy result of a query. It may hold backend resources
// (cursors, connections) until Close is called, so callers must close it on
// every exit path:
//
//	it, err := store.Query(q)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() { use(it.Entry()) }
//	if err := it.Err(); err != nil { ... }
type EntryIterator interface {
	// Next advances to the next entry and reports whether there is one.
	Next() bool
	// Entry returns the current entry.
	Entry() *Entry
	// Err returns the first error encountered during iteration.
	Err() error
	// PageState returns the token to resume after the last returned entry,
	// or "" if the underlying data is exhausted.
	PageState() string
	// Close releases the resources. It is idempotent.
	Close() error
}

// BackendStore is the contract every physical backend implements uniformly.
//
// Write operations are buffered in the store's current transaction scope and
// applied by CommitTx. A store instance has one active transaction scope and
// must not be shared by several goroutines for transactional writes.
type BackendStore interface {
	// Name returns the store name, unique within its provider.
	Name() string
	// Database returns the graph (database) name the store belongs to.
	Database() string
	// StoreType returns the logical partition of the store.
	StoreType() StoreType
	// Features returns the optional capabilities of the store.
	Features() Feature

	// Open acquires the backend resources. Close is idempotent and releases
	// every native handle even if a prior operation failed.
	Open() error
	Close() error
	Opened() bool

	// Init creates the physical structures (idempotent), Clear drops them and
	// Truncate empties the data while keeping the structure.
	Init() error
	Clear(clearSpace bool) error
	Initialized() bool
	Truncate() error

	// Mutate buffers a batch in the current transaction scope (starting one
	// if needed). It does not commit.
	Mutate(m *Mutation) error
	// Query returns the matching entries in unsigned byte order of their ids.
	Query(q query.Query) (EntryIterator, error)
	// QueryNumber returns the number of entries Query would produce.
	QueryNumber(q query.Query) (int64, error)

	// BeginTx opens a transaction scope. CommitTx applies every buffered
	// mutation atomically, or none of them. RollbackTx discards the scope.
	BeginTx() error
	CommitTx() error
	RollbackTx() error
	// TxState returns the state of the current or last transaction scope.
	TxState() TxState

	// NextID allocates a fresh, previously unused numeric id for t.
	NextID(t types.Type) (id.Id, error)
	// SetCounterLowest fast forwards the counter of t to at least lowest.
	SetCounterLowest(t types.Type, lowest int64) error
	// GetCounter and IncreaseCounter are the primitives NextID is built on.
	GetCounter(t types.Type) (int64, error)
	IncreaseCounter(t types.Type, increment int64) error

	// Metadata returns backend information, see the Meta* keys.
	Metadata(t types.Type, meta string) (any, error)
}

// Snapshotter is implemented by stores with FeatureSnapshot.
type Snapshotter interface {
	// CreateSnapshot writes a snapshot below dir and returns its path.
	CreateSnapshot(dir string) (string, error)
	// ResumeSnapshot replaces the store content with the snapshot below dir.
	ResumeSnapshot(dir string, deleteSnapshot bool) error
}

// StreamSnapshotter is implemented by stores with FeatureStreamSnapshot.
type StreamSnapshotter interface {
	// Dump writes every table of the store (including counters) to w.
	Dump(w io.Writer) error
	// Restore replaces the store content with a dump.
	Restore(r io.Reader) error
}

// OlapStore is implemented by stores with FeatureOlapTables.
// Every OLAP table belongs to one property key.
type OlapStore interface {
	CreateOlapTable(pk id.Id) error
	CheckAndRegisterOlapTable(pk id.Id) error
	ClearOlapTable(pk id.Id) error
	RemoveOlapTable(pk id.Id) error
	QueryOlap(pk id.Id, q query.Query) (EntryIterator, error)
}

// AtomicCounter is implemented by stores with FeatureAtomicCounter.
type AtomicCounter interface {
	// IncrementAndGet adds delta to the counter of t and returns the new value.
	IncrementAndGet(t types.Type, delta int64) (int64, error)
}

// Provider wires a named backend into its three logical stores.
type Provider interface {
	// Type returns the backend name, e.g. "memory", "bolt", "sqlite", "raft(bolt)".
	Type() string
	// Graph returns the graph (database) name.
	Graph() string
	// DriverVersion is the on-disk format version this provider writes.
	DriverVersion() string
	// StoredVersion is the version found in the storage, "" if uninitialized.
	StoredVersion() (string, error)

	Open() error
	Close() error
	Init() error
	Clear() error
	Truncate() error
	Initialized() bool

	SchemaStore() BackendStore
	GraphStore() BackendStore
	SystemStore() BackendStore
}

// --------------------------------------------------------------------------
// Capability helpers
// --------------------------------------------------------------------------

// CreateSnapshot calls CreateSnapshot on s if it supports snapshots and
// returns a RetCUnsupportedOperation error otherwise.
func CreateSnapshot(s BackendStore, dir string) (string, error) {
	sn, ok := s.(Snapshotter)
	if !ok || !s.Features().Has(FeatureSnapshot) {
		return "", Unsupported(s.Name(), "create snapshot")
	}
	return sn.CreateSnapshot(dir)
}

// ResumeSnapshot is the counterpart of CreateSnapshot.
func ResumeSnapshot(s BackendStore, dir string, deleteSnapshot bool) error {
	sn, ok := s.(Snapshotter)
	if !ok || !s.Features().Has(FeatureSnapshot) {
		return Unsupported(s.Name(), "resume snapshot")
	}
	return sn.ResumeSnapshot(dir, deleteSnapshot)
}

// Dump writes a stream snapshot of s, if supported.
func Dump(s BackendStore, w io.Writer) error {
	sn, ok := s.(StreamSnapshotter)
	if !ok || !s.Features().Has(FeatureStreamSnapshot) {
		return Unsupported(s.Name(), "dump")
	}
	return sn.Dump(w)
}

// Restore reads a stream snapshot into s, if supported.
func Restore(s BackendStore, r io.Reader) error {
	sn, ok := s.(StreamSnapshotter)
	if !ok || !s.Features().Has(FeatureStreamSnapshot) {
		return Unsupported(s.Name(), "restore")
	}
	return sn.Restore(r)
}

// Olap returns the OLAP capability of s, or a RetCUnsupportedOperation error.
func Olap(s BackendStore) (OlapStore, error) {
	o, ok := s.(OlapStore)
	if !ok || !s.Features().Has(FeatureOlapTables) {
		return nil, Unsupported(s.Name(), "olap tables")
	}
	return o, nil
}

// Collect drains it into a slice and always closes it.
func Collect(it EntryIterator) (entries []*Entry, err error) {
	defer func() {
		if cerr := it.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	return entries, it.Err()
}
