package backend

// SliceIterator iterates over entries that are already materialized.
type SliceIterator struct {
	entries []*Entry
	pos     int
	page    string
}

// NewSliceIterator returns an iterator over entries. page is reported by
// PageState once the slice is exhausted.
func NewSliceIterator(entries []*Entry, page string) *SliceIterator {
	return &SliceIterator{entries: entries, pos: -1, page: page}
}

// EmptyIterator returns an iterator without entries.
func EmptyIterator() *SliceIterator {
	return NewSliceIterator(nil, "")
}

func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.entries) {
		it.pos = len(it.entries)
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Entry() *Entry {
	if it.pos < 0 || it.pos >= len(it.entries) {
		return nil
	}
	return it.entries[it.pos]
}

func (it *SliceIterator) Err() error        { return nil }
func (it *SliceIterator) PageState() string { return it.page }
func (it *SliceIterator) Close() error      { return nil }
