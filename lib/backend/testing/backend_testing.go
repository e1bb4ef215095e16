package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/query"
	"github.com/ValentinKolb/gstore/lib/types"
)

// ProviderFactory creates a new, unopened provider. Every call must return a
// provider on fresh storage.
type ProviderFactory func(t testing.TB) backend.Provider

// RunBackendStoreTests runs a comprehensive test suite against the stores of
// a provider implementation.
func RunBackendStoreTests(t *testing.T, name string, factory ProviderFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Lifecycle", func(t *testing.T) {
			testLifecycle(t, factory(t))
		})

		t.Run("MutateAndQuery", func(t *testing.T) {
			testMutateAndQuery(t, open(t, factory))
		})

		t.Run("IdQuery", func(t *testing.T) {
			testIdQuery(t, open(t, factory))
		})

		t.Run("RangeQuery", func(t *testing.T) {
			testRangeQuery(t, open(t, factory))
		})

		t.Run("PrefixQuery", func(t *testing.T) {
			testPrefixQuery(t, open(t, factory))
		})

		t.Run("Paging", func(t *testing.T) {
			testPaging(t, open(t, factory))
		})

		t.Run("Actions", func(t *testing.T) {
			testActions(t, open(t, factory))
		})

		t.Run("Transaction", func(t *testing.T) {
			testTransaction(t, open(t, factory))
		})

		t.Run("StoreTypes", func(t *testing.T) {
			testStoreTypes(t, open(t, factory))
		})

		t.Run("Counters", func(t *testing.T) {
			testCounters(t, open(t, factory))
		})

		t.Run("ConcurrentNextID", func(t *testing.T) {
			testConcurrentNextID(t, open(t, factory))
		})

		t.Run("TruncateAndClear", func(t *testing.T) {
			testTruncateAndClear(t, open(t, factory))
		})

		t.Run("Olap", func(t *testing.T) {
			testOlap(t, open(t, factory))
		})

		t.Run("StreamSnapshot", func(t *testing.T) {
			testStreamSnapshot(t, factory)
		})

		t.Run("FileSnapshot", func(t *testing.T) {
			testFileSnapshot(t, open(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the store supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, store backend.BackendStore, feature backend.Feature) {
	if !store.Features().Has(feature) {
		t.Skipf("%s doesn't support %s", store.Name(), feature)
	}
}

// open creates, opens and initializes a provider that is closed after the test.
func open(t testing.TB, factory ProviderFactory) backend.Provider {
	p := factory(t)
	if err := p.Open(); err != nil {
		t.Fatalf("Unexpected error during Open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	if err := p.Init(); err != nil {
		t.Fatalf("Unexpected error during Init: %v", err)
	}
	return p
}

func insert(t testing.TB, store backend.BackendStore, entries ...*backend.Entry) {
	m := backend.NewMutation()
	for _, e := range entries {
		m.Add(backend.ActionInsert, e)
	}
	commit(t, store, m)
}

func commit(t testing.TB, store backend.BackendStore, m *backend.Mutation) {
	if err := store.Mutate(m); err != nil {
		t.Fatalf("Unexpected error during Mutate: %v", err)
	}
	if err := store.CommitTx(); err != nil {
		t.Fatalf("Unexpected error during CommitTx: %v", err)
	}
}

func vertices(from, to int64) []*backend.Entry {
	var out []*backend.Entry
	for i := from; i <= to; i++ {
		out = append(out, backend.NewEntry(types.TypeVertex, id.Of(i), backend.Col("name", fmt.Sprintf("v%d", i))))
	}
	return out
}

func run(t testing.TB, store backend.BackendStore, q query.Query) []*backend.Entry {
	it, err := store.Query(q)
	if err != nil {
		t.Fatalf("Unexpected error during Query(%s): %v", q, err)
	}
	entries, err := backend.Collect(it)
	if err != nil {
		t.Fatalf("Unexpected error iterating %s: %v", q, err)
	}
	return entries
}

func ids(entries []*backend.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID.String()
	}
	return out
}

func expectIds(t testing.TB, entries []*backend.Entry, expected ...string) {
	t.Helper()
	got := ids(entries)
	if fmt.Sprint(got) != fmt.Sprint(expected) {
		t.Errorf("Expected ids %v, got %v", expected, got)
	}
}

func expectCode(t testing.TB, err error, code backend.RetCode) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected error with code %s, got nil", code)
		return
	}
	if got := backend.CodeOf(err); got != code {
		t.Errorf("Expected error with code %s, got %s (%v)", code, got, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testLifecycle(t *testing.T, p backend.Provider) {
	defer p.Close()

	if p.SchemaStore().Opened() {
		t.Errorf("Expected store to be closed before Open")
	}
	if _, err := p.GraphStore().Query(query.NewBase(types.TypeVertex)); err == nil {
		t.Errorf("Expected Query on a closed store to fail")
	}

	if err := p.Open(); err != nil {
		t.Fatalf("Unexpected error during Open: %v", err)
	}
	if p.Initialized() {
		t.Errorf("Expected fresh provider to be uninitialized")
	}
	if err := p.Init(); err != nil {
		t.Fatalf("Unexpected error during Init: %v", err)
	}
	if err := p.Init(); err != nil {
		t.Errorf("Expected Init to be idempotent, got %v", err)
	}
	if !p.Initialized() {
		t.Errorf("Expected provider to be initialized after Init")
	}

	stored, err := p.StoredVersion()
	if err != nil {
		t.Fatalf("Unexpected error during StoredVersion: %v", err)
	}
	if stored != p.DriverVersion() {
		t.Errorf("Expected stored version %s, got %s", p.DriverVersion(), stored)
	}

	insert(t, p.GraphStore(), vertices(1, 3)...)

	// reopening keeps the data
	if err := p.Close(); err != nil {
		t.Fatalf("Unexpected error during Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Expected Close to be idempotent, got %v", err)
	}
	if err := p.Open(); err != nil {
		t.Fatalf("Unexpected error during reopen: %v", err)
	}
	n, err := p.GraphStore().QueryNumber(query.NewBase(types.TypeVertex))
	if err != nil {
		t.Fatalf("Unexpected error during QueryNumber: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 vertices after reopen, got %d", n)
	}
}

func testMutateAndQuery(t *testing.T, p backend.Provider) {
	store := p.GraphStore()
	insert(t, store, vertices(1, 10)...)

	entries := run(t, store, query.NewBase(types.TypeVertex))
	if len(entries) != 10 {
		t.Fatalf("Expected 10 vertices, got %d", len(entries))
	}
	for i, e := range entries {
		expected := fmt.Sprintf("v%d", i+1)
		if v, _ := e.Column([]byte("name")); string(v) != expected {
			t.Errorf("Expected column name=%s, got %s", expected, v)
		}
	}

	// other types are not affected
	n, err := store.QueryNumber(query.NewBase(types.TypeEdgeOut))
	if err != nil {
		t.Fatalf("Unexpected error during QueryNumber: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no edges, got %d", n)
	}

	limited := query.NewBase(types.TypeVertex)
	_ = limited.SetLimit(4)
	_ = limited.SetOffset(2)
	expectIds(t, run(t, store, limited), "3", "4", "5", "6")

	empty := query.NewBase(types.TypeVertex)
	_ = empty.SetLimit(0)
	if got := run(t, store, empty); len(got) != 0 {
		t.Errorf("Expected no results for limit 0, got %d", len(got))
	}
}

func testIdQuery(t *testing.T, p backend.Provider) {
	store := p.GraphStore()
	insert(t, store, vertices(1, 5)...)

	q, err := query.NewIdQuery(types.TypeVertex, nil, id.Of(4), id.Of(99), id.Of(2))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// input order, missing ids are skipped
	expectIds(t, run(t, store, q), "4", "2")

	_ = q.SetLimit(1)
	expectIds(t, run(t, store, q), "4")
}

func testRangeQuery(t *testing.T, p backend.Provider) {
	store := p.GraphStore()
	insert(t, store, vertices(1, 10)...)

	tests := []struct {
		name           string
		start          int64
		inclusiveStart bool
		end            int64
		inclusiveEnd   bool
		expected       []string
	}{
		{"closed", 4, true, 7, true, []string{"4", "5", "6", "7"}},
		{"half open", 4, true, 7, false, []string{"4", "5", "6"}},
		{"open", 4, false, 7, false, []string{"5", "6"}},
		{"left open", 4, false, 7, true, []string{"5", "6", "7"}},
		{"empty", 7, false, 7, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := query.NewIdRangeQuery(types.TypeVertex, nil, id.Of(tt.start), tt.inclusiveStart, id.Of(tt.end), tt.inclusiveEnd)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			expectIds(t, run(t, store, q), tt.expected...)
		})
	}

	unbounded, _ := query.NewIdRangeQuery(types.TypeVertex, nil, id.Of(8), true, nil, false)
	expectIds(t, run(t, store, unbounded), "8", "9", "10")
}

func testPrefixQuery(t *testing.T, p backend.Provider) {
	store := p.GraphStore()
	var entries []*backend.Entry
	for _, name := range []string{"admin", "user:1", "user:2", "user:3", "usr", "user"} {
		entries = append(entries, backend.NewEntry(types.TypeVertex, id.OfString(name)))
	}
	insert(t, store, entries...)

	q, _ := query.IdPrefix(types.TypeVertex, id.OfString("user:"))
	expectIds(t, run(t, store, q), "user:1", "user:2", "user:3")

	// resume after user:1
	resume, _ := query.NewIdPrefixQuery(types.TypeVertex, nil, id.OfString("user:1"), false, id.OfString("user:"))
	expectIds(t, run(t, store, resume), "user:2", "user:3")

	none, _ := query.IdPrefix(types.TypeVertex, id.OfString("nobody"))
	expectIds(t, run(t, store, none))

	// edges of one owner and label share a prefix
	edge := func(owner, label, other int64) *backend.Entry {
		e, err := id.NewEdge(id.Of(owner), id.DirOut, id.Of(label), "", id.Of(other))
		if err != nil {
			t.Fatalf("Unexpected error during NewEdge: %v", err)
		}
		return backend.NewEntry(types.TypeEdgeOut, e)
	}
	insert(t, store, edge(1, 7, 10), edge(1, 7, 11), edge(1, 7, 12), edge(1, 8, 10), edge(2, 7, 10))

	eq, _ := query.IdPrefix(types.TypeEdgeOut, id.EdgePrefix(id.Of(1), id.DirOut, id.Of(7)))
	if got := run(t, store, eq); len(got) != 3 {
		t.Errorf("Expected 3 edges with label 7 of vertex 1, got %d", len(got))
	}
}

func testPaging(t *testing.T, p backend.Provider) {
	store := p.GraphStore()
	requireFeature(t, store, backend.FeatureQueryByPage)
	insert(t, store, vertices(1, 25)...)

	seen := map[string]bool{}
	page := ""
	for round := 0; ; round++ {
		if round > 5 {
			t.Fatalf("Paging did not terminate")
		}
		q := query.NewBase(types.TypeVertex)
		_ = q.SetLimit(10)
		q.SetPage(page)

		it, err := store.Query(q)
		if err != nil {
			t.Fatalf("Unexpected error during Query: %v", err)
		}
		n := 0
		for it.Next() {
			key := it.Entry().ID.String()
			if seen[key] {
				t.Errorf("Entry %s returned twice", key)
			}
			seen[key] = true
			n++
		}
		if err := it.Err(); err != nil {
			t.Fatalf("Unexpected error iterating: %v", err)
		}
		page = it.PageState()
		_ = it.Close()
		if page == "" {
			break
		}
		if n != 10 {
			t.Errorf("Expected a full page before the last one, got %d", n)
		}
	}
	if len(seen) != 25 {
		t.Errorf("Expected 25 entries over all pages, got %d", len(seen))
	}

	q := query.NewBase(types.TypeVertex)
	_ = q.SetOffset(1)
	q.SetPage("00")
	_, err := store.Query(q)
	expectCode(t, err, backend.RetCInvalidOperation)
}

func testActions(t *testing.T, p backend.Provider) {
	store := p.GraphStore()
	v := id.Of(1)
	insert(t, store, backend.NewEntry(types.TypeVertex, v, backend.Col("a", "1"), backend.Col("b", "2")))

	get := func() *backend.Entry {
		q, _ := query.NewIdQuery(types.TypeVertex, nil, v)
		entries := run(t, store, q)
		if len(entries) == 0 {
			return nil
		}
		return entries[0]
	}
	column := func(e *backend.Entry, name string) string {
		val, _ := e.Column([]byte(name))
		return string(val)
	}

	commit(t, store, backend.NewMutation().Add(backend.ActionAppend, backend.NewEntry(types.TypeVertex, v, backend.Col("b", "3"), backend.Col("c", "4"))))
	e := get()
	if column(e, "a") != "1" || column(e, "b") != "3" || column(e, "c") != "4" {
		t.Errorf("Unexpected entry after Append: %s", e)
	}

	commit(t, store, backend.NewMutation().Add(backend.ActionEliminate, backend.NewEntry(types.TypeVertex, v, backend.Col("a", ""))))
	if _, ok := get().Column([]byte("a")); ok {
		t.Errorf("Expected column a to be eliminated")
	}

	commit(t, store, backend.NewMutation().Add(backend.ActionUpdateIfAbsent, backend.NewEntry(types.TypeVertex, v, backend.Col("x", "absent"))))
	if column(get(), "x") != "" {
		t.Errorf("Expected UpdateIfAbsent to skip an existing entry")
	}
	commit(t, store, backend.NewMutation().Add(backend.ActionUpdateIfPresent, backend.NewEntry(types.TypeVertex, v, backend.Col("x", "present"))))
	if column(get(), "x") != "present" {
		t.Errorf("Expected UpdateIfPresent to replace an existing entry")
	}

	w := id.Of(2)
	commit(t, store, backend.NewMutation().Add(backend.ActionUpdateIfPresent, backend.NewEntry(types.TypeVertex, w)))
	commit(t, store, backend.NewMutation().Add(backend.ActionUpdateIfAbsent, backend.NewEntry(types.TypeVertex, id.Of(3))))
	expectIds(t, run(t, store, query.NewBase(types.TypeVertex)), "1", "3")

	commit(t, store, backend.NewMutation().
		Add(backend.ActionDelete, backend.NewEntry(types.TypeVertex, v)).
		Add(backend.ActionDelete, backend.NewEntry(types.TypeVertex, w)))
	if get() != nil {
		t.Errorf("Expected entry to be deleted")
	}
}

func testTransaction(t *testing.T, p backend.Provider) {
	store := p.GraphStore()

	if err := store.BeginTx(); err != nil {
		t.Fatalf("Unexpected error during BeginTx: %v", err)
	}
	if store.TxState() != backend.TxBegin {
		t.Errorf("Expected state %s, got %s", backend.TxBegin, store.TxState())
	}
	expectCode(t, store.BeginTx(), backend.RetCInvalidOperation)

	m := backend.NewMutation()
	for _, e := range vertices(1, 3) {
		m.Add(backend.ActionInsert, e)
	}
	if err := store.Mutate(m); err != nil {
		t.Fatalf("Unexpected error during Mutate: %v", err)
	}

	// nothing is visible before the commit
	if n, _ := store.QueryNumber(query.NewBase(types.TypeVertex)); n != 0 {
		t.Errorf("Expected uncommitted writes to be invisible, got %d entries", n)
	}

	if err := store.RollbackTx(); err != nil {
		t.Fatalf("Unexpected error during RollbackTx: %v", err)
	}
	if store.TxState() != backend.TxClean {
		t.Errorf("Expected state %s after rollback, got %s", backend.TxClean, store.TxState())
	}
	if n, _ := store.QueryNumber(query.NewBase(types.TypeVertex)); n != 0 {
		t.Errorf("Expected rolled back writes to be discarded, got %d entries", n)
	}

	// commit without writes is a no-op
	if err := store.CommitTx(); err != nil {
		t.Errorf("Expected empty commit to succeed, got %v", err)
	}

	insert(t, store, vertices(1, 2)...)
	if store.TxState() != backend.TxClean {
		t.Errorf("Expected state %s after commit, got %s", backend.TxClean, store.TxState())
	}
	if n, _ := store.QueryNumber(query.NewBase(types.TypeVertex)); n != 2 {
		t.Errorf("Expected 2 committed entries, got %d", n)
	}
}

func testStoreTypes(t *testing.T, p backend.Provider) {
	tests := []struct {
		store    backend.BackendStore
		accepted types.Type
		rejected types.Type
	}{
		{p.SchemaStore(), types.TypeVertexLabel, types.TypeVertex},
		{p.GraphStore(), types.TypeEdgeIn, types.TypeTask},
		{p.SystemStore(), types.TypeTask, types.TypePropertyKey},
	}
	for _, tt := range tests {
		t.Run(tt.store.StoreType().String(), func(t *testing.T) {
			insert(t, tt.store, backend.NewEntry(tt.accepted, id.Of(1)))
			if n, _ := tt.store.QueryNumber(query.NewBase(tt.accepted)); n != 1 {
				t.Errorf("Expected 1 %s entry, got %d", tt.accepted, n)
			}

			err := tt.store.Mutate(backend.NewMutation().Add(backend.ActionInsert, backend.NewEntry(tt.rejected, id.Of(1))))
			expectCode(t, err, backend.RetCInvalidOperation)
			_ = tt.store.RollbackTx()

			_, err = tt.store.Query(query.NewBase(tt.rejected))
			expectCode(t, err, backend.RetCInvalidOperation)
		})
	}
}

func testCounters(t *testing.T, p backend.Provider) {
	store := p.SchemaStore()

	for want := int64(1); want <= 3; want++ {
		got, err := store.NextID(types.TypePropertyKey)
		if err != nil {
			t.Fatalf("Unexpected error during NextID: %v", err)
		}
		if got.(id.Number).Int64() != want {
			t.Errorf("Expected id %d, got %s", want, got)
		}
	}

	// counters of different types are independent
	other, err := store.NextID(types.TypeVertexLabel)
	if err != nil {
		t.Fatalf("Unexpected error during NextID: %v", err)
	}
	if other.String() != "1" {
		t.Errorf("Expected first vertex label id 1, got %s", other)
	}

	if err := store.SetCounterLowest(types.TypePropertyKey, 100); err != nil {
		t.Fatalf("Unexpected error during SetCounterLowest: %v", err)
	}
	if c, _ := store.GetCounter(types.TypePropertyKey); c != 100 {
		t.Errorf("Expected counter 100, got %d", c)
	}
	// never lowers a counter
	if err := store.SetCounterLowest(types.TypePropertyKey, 10); err != nil {
		t.Fatalf("Unexpected error during SetCounterLowest: %v", err)
	}
	next, _ := store.NextID(types.TypePropertyKey)
	if next.String() != "101" {
		t.Errorf("Expected id 101 after SetCounterLowest, got %s", next)
	}

	if err := store.IncreaseCounter(types.TypeIndexLabel, 5); err != nil {
		t.Fatalf("Unexpected error during IncreaseCounter: %v", err)
	}
	meta, err := store.Metadata(types.TypeUnknown, backend.MetaCounters)
	if err != nil {
		t.Fatalf("Unexpected error during Metadata: %v", err)
	}
	counters := meta.(map[string]int64)
	expected := map[string]int64{"property_key": 101, "vertex_label": 1, "index_label": 5}
	if fmt.Sprint(counters) != fmt.Sprint(expected) {
		t.Errorf("Expected counters %v, got %v", expected, counters)
	}

	_, err = store.Metadata(types.TypeUnknown, "no_such_meta")
	if !backend.IsUnsupported(err) {
		t.Errorf("Expected unsupported metadata to fail with %s, got %v", backend.RetCUnsupportedOperation, err)
	}
}

func testConcurrentNextID(t *testing.T, p backend.Provider) {
	store := p.SystemStore()

	const workers, perWorker = 8, 50
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
		errs = make(chan error, workers)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				x, err := store.NextID(types.TypeTask)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				if seen[x.String()] {
					errs <- fmt.Errorf("id %s allocated twice", x)
				}
				seen[x.String()] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Unexpected error: %v", err)
	}
	if len(seen) != workers*perWorker {
		t.Errorf("Expected %d distinct ids, got %d", workers*perWorker, len(seen))
	}
	if c, _ := store.GetCounter(types.TypeTask); c != workers*perWorker {
		t.Errorf("Expected counter %d, got %d", workers*perWorker, c)
	}
}

func testTruncateAndClear(t *testing.T, p backend.Provider) {
	insert(t, p.GraphStore(), vertices(1, 5)...)
	if _, err := p.GraphStore().NextID(types.TypeVertex); err != nil {
		t.Fatalf("Unexpected error during NextID: %v", err)
	}

	if err := p.Truncate(); err != nil {
		t.Fatalf("Unexpected error during Truncate: %v", err)
	}
	if !p.Initialized() {
		t.Errorf("Expected provider to stay initialized after Truncate")
	}
	if n, _ := p.GraphStore().QueryNumber(query.NewBase(types.TypeVertex)); n != 0 {
		t.Errorf("Expected no vertices after Truncate, got %d", n)
	}
	if c, _ := p.GraphStore().GetCounter(types.TypeVertex); c != 0 {
		t.Errorf("Expected counters to be reset by Truncate, got %d", c)
	}

	if err := p.Clear(); err != nil {
		t.Fatalf("Unexpected error during Clear: %v", err)
	}
	if p.Initialized() {
		t.Errorf("Expected provider to be uninitialized after Clear")
	}
	_, err := p.GraphStore().NextID(types.TypeVertex)
	expectCode(t, err, backend.RetCNotInitialized)

	if err := p.Init(); err != nil {
		t.Fatalf("Unexpected error during Init after Clear: %v", err)
	}
	insert(t, p.GraphStore(), vertices(1, 1)...)
}

func testOlap(t *testing.T, p backend.Provider) {
	if _, err := backend.Olap(p.SchemaStore()); !backend.IsUnsupported(err) {
		t.Errorf("Expected schema store without olap support, got %v", err)
	}

	store := p.GraphStore()
	requireFeature(t, store, backend.FeatureOlapTables)
	olap, err := backend.Olap(store)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	pk := id.Of(5)
	if err := olap.CheckAndRegisterOlapTable(pk); err == nil {
		t.Errorf("Expected missing olap table to be reported")
	}
	if err := olap.CreateOlapTable(pk); err != nil {
		t.Fatalf("Unexpected error during CreateOlapTable: %v", err)
	}
	if err := olap.CheckAndRegisterOlapTable(pk); err != nil {
		t.Errorf("Unexpected error during CheckAndRegisterOlapTable: %v", err)
	}

	m := backend.NewMutation()
	for i := int64(1); i <= 3; i++ {
		e := backend.NewEntry(types.TypeOlap, id.Of(i), backend.Col("rank", fmt.Sprint(i*10)))
		e.SubID = pk
		m.Add(backend.ActionInsert, e)
	}
	commit(t, store, m)

	// olap entries need the property key
	err = store.Mutate(backend.NewMutation().Add(backend.ActionInsert, backend.NewEntry(types.TypeOlap, id.Of(1))))
	expectCode(t, err, backend.RetCInvalidOperation)
	_ = store.RollbackTx()

	it, err := olap.QueryOlap(pk, query.NewBase(types.TypeOlap))
	if err != nil {
		t.Fatalf("Unexpected error during QueryOlap: %v", err)
	}
	entries, err := backend.Collect(it)
	if err != nil {
		t.Fatalf("Unexpected error iterating: %v", err)
	}
	expectIds(t, entries, "1", "2", "3")

	tables, err := store.Metadata(types.TypeUnknown, backend.MetaTables)
	if err != nil {
		t.Fatalf("Unexpected error during Metadata: %v", err)
	}
	olapTable := backend.OlapTableNameByID(store.Name(), pk)
	if !contains(tables.([]string), olapTable) {
		t.Errorf("Expected table %s in %v", olapTable, tables)
	}

	if err := olap.ClearOlapTable(pk); err != nil {
		t.Fatalf("Unexpected error during ClearOlapTable: %v", err)
	}
	it, _ = olap.QueryOlap(pk, query.NewBase(types.TypeOlap))
	if entries, _ := backend.Collect(it); len(entries) != 0 {
		t.Errorf("Expected empty olap table after clear, got %d", len(entries))
	}

	if err := olap.RemoveOlapTable(pk); err != nil {
		t.Fatalf("Unexpected error during RemoveOlapTable: %v", err)
	}
	if err := olap.CheckAndRegisterOlapTable(pk); err == nil {
		t.Errorf("Expected removed olap table to be reported")
	}
}

func testStreamSnapshot(t *testing.T, factory ProviderFactory) {
	source := open(t, factory)
	target := open(t, factory)
	requireFeature(t, source.GraphStore(), backend.FeatureStreamSnapshot)

	insert(t, source.GraphStore(), vertices(1, 100)...)
	if err := source.GraphStore().SetCounterLowest(types.TypeVertex, 100); err != nil {
		t.Fatalf("Unexpected error during SetCounterLowest: %v", err)
	}
	insert(t, target.GraphStore(), backend.NewEntry(types.TypeVertex, id.OfString("stale")))

	var buf bytes.Buffer
	if err := backend.Dump(source.GraphStore(), &buf); err != nil {
		t.Fatalf("Unexpected error during Dump: %v", err)
	}
	if err := backend.Restore(target.GraphStore(), &buf); err != nil {
		t.Fatalf("Unexpected error during Restore: %v", err)
	}

	got := run(t, target.GraphStore(), query.NewBase(types.TypeVertex))
	if len(got) != 100 {
		t.Fatalf("Expected 100 vertices after Restore, got %d", len(got))
	}
	if got[0].ID.String() != "1" || got[99].ID.String() != "100" {
		t.Errorf("Unexpected restored range %s..%s", got[0].ID, got[99].ID)
	}
	next, err := target.GraphStore().NextID(types.TypeVertex)
	if err != nil {
		t.Fatalf("Unexpected error during NextID: %v", err)
	}
	if next.String() != "101" {
		t.Errorf("Expected restored counter to continue at 101, got %s", next)
	}

	err = backend.Restore(target.GraphStore(), bytes.NewReader([]byte("garbage")))
	expectCode(t, err, backend.RetCInvalidOperation)
}

func testFileSnapshot(t *testing.T, p backend.Provider) {
	store := p.GraphStore()
	requireFeature(t, store, backend.FeatureSnapshot)

	insert(t, store, vertices(1, 10)...)
	dir := t.TempDir()
	path, err := backend.CreateSnapshot(store, dir)
	if err != nil {
		t.Fatalf("Unexpected error during CreateSnapshot: %v", err)
	}
	if path == "" {
		t.Errorf("Expected snapshot path")
	}

	insert(t, store, vertices(11, 20)...)
	if err := backend.ResumeSnapshot(store, dir, true); err != nil {
		t.Fatalf("Unexpected error during ResumeSnapshot: %v", err)
	}
	if n, _ := store.QueryNumber(query.NewBase(types.TypeVertex)); n != 10 {
		t.Errorf("Expected 10 vertices after ResumeSnapshot, got %d", n)
	}
	if err := backend.ResumeSnapshot(store, dir, false); err == nil {
		t.Errorf("Expected deleted snapshot to be gone")
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
