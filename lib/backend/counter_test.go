package backend

import (
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCounters is a non atomic counter store: Get and Increase are separate
// critical sections, like a backend without fetch-and-add.
type memCounters struct {
	mu       sync.Mutex
	counters map[types.Type]int64
	gets     int
	incs     int
	// step is added on every IncreaseCounter in addition to the increment
	// to simulate a competing writer.
	step int64
	err  error
}

func newMemCounters() *memCounters {
	return &memCounters{counters: map[types.Type]int64{}}
}

func (m *memCounters) GetCounter(t types.Type) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return 0, m.err
	}
	return m.counters[t], nil
}

func (m *memCounters) IncreaseCounter(t types.Type, increment int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incs++
	m.counters[t] += increment + m.step
	return nil
}

type atomicCounters struct {
	*memCounters
}

func (a atomicCounters) IncrementAndGet(t types.Type, delta int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters[t] += delta
	return a.counters[t], nil
}

func TestNextIDSequential(t *testing.T) {
	alloc := NewCounterAllocator("test", newMemCounters())

	for want := int64(1); want <= 5; want++ {
		x, err := alloc.NextID(types.TypeVertex)
		require.NoError(t, err)
		assert.Equal(t, id.Of(want), x)
	}

	// counters are per type
	x, err := alloc.NextID(types.TypeEdgeLabel)
	require.NoError(t, err)
	assert.Equal(t, id.Of(1), x)
}

func TestNextIDRetryBound(t *testing.T) {
	// every increment overshoots, so the observed counter never equals expect
	store := newMemCounters()
	store.step = 1
	alloc := NewCounterAllocator("busy-store", store)

	_, err := alloc.NextID(types.TypeVertex)
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.Contains(t, err.Error(), "'busy-store' is busy please try again")
	assert.Equal(t, MaxNextIDRetries, store.gets)
	assert.Equal(t, MaxNextIDRetries, store.incs)
}

// zeroCounters never moves, like a store whose counter table does not exist.
type zeroCounters struct{}

func (zeroCounters) GetCounter(types.Type) (int64, error)    { return 0, nil }
func (zeroCounters) IncreaseCounter(types.Type, int64) error { return nil }

func TestNextIDNotInitialized(t *testing.T) {
	alloc := NewCounterAllocator("fresh", zeroCounters{})
	_, err := alloc.NextID(types.TypeVertex)
	require.Error(t, err)
	assert.Equal(t, RetCNotInitialized, CodeOf(err))
	assert.False(t, IsBusy(err))
}

func TestNextIDWrapsBackendErrors(t *testing.T) {
	store := newMemCounters()
	store.err = errors.New("disk on fire")
	alloc := NewCounterAllocator("broken", store)

	_, err := alloc.NextID(types.TypeVertex)
	require.Error(t, err)
	assert.Equal(t, RetCInternalError, CodeOf(err))
	assert.ErrorIs(t, err, store.err)

	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "broken", be.Store)
	assert.Equal(t, "next id", be.Op)
}

func TestNextIDConcurrentDistinct(t *testing.T) {
	store := newMemCounters()
	alloc := NewCounterAllocator("test", store)

	const workers, perWorker = 8, 100
	var (
		mu   sync.Mutex
		seen = map[int64]bool{}
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				x, err := alloc.NextID(types.TypeVertex)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				n := x.(id.Number).Int64()
				assert.False(t, seen[n], "duplicate id %d", n)
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	counter, err := store.GetCounter(types.TypeVertex)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), counter)
}

func TestNextIDAtomicBypass(t *testing.T) {
	store := atomicCounters{newMemCounters()}
	alloc := NewCounterAllocator("atomic", store)

	x, err := alloc.NextID(types.TypeVertex)
	require.NoError(t, err)
	assert.Equal(t, id.Of(1), x)
	assert.Zero(t, store.gets, "atomic path must not read the counter")

	alloc = NewCounterAllocator("atomic", store).WithoutAtomic()
	x, err = alloc.NextID(types.TypeVertex)
	require.NoError(t, err)
	assert.Equal(t, id.Of(2), x)
	assert.NotZero(t, store.gets)
}

func TestSetCounterLowest(t *testing.T) {
	store := newMemCounters()
	alloc := NewCounterAllocator("test", store)

	require.NoError(t, alloc.SetCounterLowest(types.TypeVertex, 100))
	c, _ := store.GetCounter(types.TypeVertex)
	assert.Equal(t, int64(100), c)

	// no-op when already higher
	require.NoError(t, alloc.SetCounterLowest(types.TypeVertex, 50))
	c, _ = store.GetCounter(types.TypeVertex)
	assert.Equal(t, int64(100), c)

	x, err := alloc.NextID(types.TypeVertex)
	require.NoError(t, err)
	assert.Equal(t, id.Of(101), x)
}

func TestOlapTableName(t *testing.T) {
	assert.Equal(t, "g_graph_olap_vertex", OlapTableName("g_graph", types.TypeVertex))
	assert.Equal(t, "g_graph_olap_12", OlapTableNameByID("G_Graph", id.Of(12)))
	assert.Equal(t, "g_graph_olap_name", OlapTableNameByID("g_graph", id.OfString("Name")))
}
