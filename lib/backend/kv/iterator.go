package kv

import (
	"encoding/hex"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/query"
)

// entryIterator turns an engine cursor into query results: it decodes
// entries, applies the query filter, the offset and the limit, and records
// the last key for paging.
type entryIterator struct {
	store     string
	cursor    Cursor
	q         query.Query
	skip      int64
	remaining int64 // < 0 means unbounded

	current   *backend.Entry
	lastKey   []byte
	exhausted bool
	closed    bool
	err       error
}

func newEntryIterator(store string, cursor Cursor, q query.Query) *entryIterator {
	return &entryIterator{
		store:     store,
		cursor:    cursor,
		q:         q,
		skip:      q.Offset(),
		remaining: q.Limit(),
	}
}

func (it *entryIterator) Next() bool {
	it.current = nil
	if it.closed || it.err != nil || it.exhausted || it.remaining == 0 {
		return false
	}

	for it.cursor.Next() {
		e, err := backend.DecodeEntry(it.cursor.Value())
		if err != nil {
			it.err = backend.Wrap(err, it.store, "query")
			return false
		}
		if !it.q.Test(e.ID) {
			continue
		}
		if it.skip > 0 {
			it.skip--
			continue
		}
		it.current = e
		it.lastKey = append(it.lastKey[:0], it.cursor.Key()...)
		if it.remaining > 0 {
			it.remaining--
		}
		return true
	}

	if err := it.cursor.Err(); err != nil {
		it.err = backend.Wrap(err, it.store, "query")
		return false
	}
	it.exhausted = true
	return false
}

func (it *entryIterator) Entry() *backend.Entry {
	return it.current
}

func (it *entryIterator) Err() error {
	return it.err
}

// PageState returns the hex encoded key of the last returned entry, or ""
// once the scan reached the end of the data.
func (it *entryIterator) PageState() string {
	if it.exhausted || it.lastKey == nil {
		return ""
	}
	return hex.EncodeToString(it.lastKey)
}

func (it *entryIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.cursor.Close()
}
