package kv

import (
	"bytes"
	"errors"

	"github.com/ValentinKolb/gstore/lib/backend"
)

// ErrTableNotFound is returned by engines for operations on a missing table.
var ErrTableNotFound = errors.New("table not found")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Engine is an ordered, table aware key-value engine. Keys within a table are
// ordered by unsigned byte comparison. One engine is shared by the schema,
// graph and system store of a provider, each store using its own tables.
type Engine interface {
	// Name returns the engine name, e.g. "memory" or "bolt".
	Name() string
	// Features returns the capabilities the engine adds to a store, out of
	// FeatureAtomicCounter, FeatureSharedStorage and FeatureSnapshot.
	Features() backend.Feature

	Open() error
	Close() error

	// CreateTable and DropTable are idempotent.
	CreateTable(name string) error
	DropTable(name string) error
	// TruncateTable removes every key but keeps the table.
	TruncateTable(name string) error
	HasTable(name string) (bool, error)
	// Tables lists every table in no particular order.
	Tables() ([]string, error)

	// Get returns the value of key.
	Get(table string, key []byte) (value []byte, found bool, err error)
	// Scan returns a cursor over the keys in r, in ascending order.
	Scan(table string, r Range) (Cursor, error)
	// Update runs fn atomically: either every write of fn is applied or none.
	Update(fn func(w Writer) error) error
}

// Writer is the write view handed to Engine.Update. Reads see the writes
// already made in the same update.
type Writer interface {
	Get(table string, key []byte) (value []byte, found bool, err error)
	Put(table string, key, value []byte) error
	Delete(table string, key []byte) error
}

// Cursor iterates over key-value pairs. Key and Value are only valid until
// the next call to Next. Close is idempotent.
type Cursor interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// FileSnapshotter is implemented by engines that can copy their storage to a
// file (FeatureSnapshot).
type FileSnapshotter interface {
	// SnapshotTo writes a consistent copy below dir and returns its path.
	SnapshotTo(dir string) (string, error)
	// RestoreFrom replaces the storage with the copy at path.
	RestoreFrom(path string) error
}

// --------------------------------------------------------------------------
// Range
// --------------------------------------------------------------------------

// Range selects the keys k with Start <= k, k < End (if End is set) and
// k having Prefix (if Prefix is set). A zero Range selects every key.
type Range struct {
	Start  []byte
	End    []byte
	Prefix []byte
}

// SeekKey returns the first key the scan has to look at.
func (r Range) SeekKey() []byte {
	if r.Prefix != nil && bytes.Compare(r.Prefix, r.Start) > 0 {
		return r.Prefix
	}
	return r.Start
}

// Done reports whether k (visited in ascending order, k >= SeekKey) lies
// past the end of the range, i.e. the scan can stop.
func (r Range) Done(k []byte) bool {
	if r.End != nil && bytes.Compare(k, r.End) >= 0 {
		return true
	}
	return r.Prefix != nil && !bytes.HasPrefix(k, r.Prefix)
}

// UpperBound returns the exclusive upper bound of the range, combining End
// and the end of the prefix space, or nil if the range is unbounded above.
func (r Range) UpperBound() []byte {
	upper := r.End
	if r.Prefix != nil {
		if pe := PrefixEnd(r.Prefix); pe != nil && (upper == nil || bytes.Compare(pe, upper) < 0) {
			upper = pe
		}
	}
	return upper
}

// Successor returns the smallest key greater than k.
func Successor(k []byte) []byte {
	s := make([]byte, len(k)+1)
	copy(s, k)
	return s
}

// PrefixEnd returns the smallest key greater than every key with prefix p,
// or nil if there is none (p is empty or all 0xff).
func PrefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
