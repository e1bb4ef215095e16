package snowflake

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable millisecond clock.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func TestNewValidatesIds(t *testing.T) {
	tests := []struct {
		name         string
		datacenterID int64
		workerID     int64
		wantErr      bool
	}{
		{"Zero ids", 0, 0, false},
		{"Max ids", MaxDatacenterID, MaxWorkerID, false},
		{"Worker too large", 0, 32, true},
		{"Worker negative", 0, -1, true},
		{"Datacenter too large", 32, 0, true},
		{"Datacenter negative", -1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.datacenterID, tt.workerID)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Nil(t, g)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, g)
		})
	}
}

func TestNextIDStrictlyIncreasing(t *testing.T) {
	g, err := New(1, 2)
	require.NoError(t, err)

	last := int64(-1)
	for i := 0; i < 5000; i++ {
		v, err := g.NextID()
		require.NoError(t, err)
		require.Greater(t, v, last, "id %d not greater than previous", i)
		last = v
	}
}

func TestNextIDLayout(t *testing.T) {
	clock := &fakeClock{now: 1000}
	g, err := New(3, 7, WithClock(clock.Now))
	require.NoError(t, err)

	first, err := g.NextID()
	require.NoError(t, err)
	second, err := g.NextID()
	require.NoError(t, err)

	assert.Equal(t, Parts{Timestamp: 1000, DatacenterID: 3, WorkerID: 7, Sequence: 0}, Decode(first))
	assert.Equal(t, Parts{Timestamp: 1000, DatacenterID: 3, WorkerID: 7, Sequence: 1}, Decode(second))
	assert.Equal(t, int64(1000)<<22|3<<17|7<<12, first)

	clock.Set(1001)
	third, err := g.NextID()
	require.NoError(t, err)
	assert.Equal(t, int64(0), Decode(third).Sequence, "sequence resets on a new millisecond")
}

func TestNextIDClockBackwards(t *testing.T) {
	clock := &fakeClock{now: 5000}
	g, err := New(0, 0, WithClock(clock.Now))
	require.NoError(t, err)

	_, err = g.NextID()
	require.NoError(t, err)

	clock.Set(4999)
	_, err = g.NextID()
	require.Error(t, err)

	var skew *ClockSkewError
	require.True(t, errors.As(err, &skew))
	assert.Equal(t, int64(1), skew.SkewMillis())
	assert.Contains(t, err.Error(), "refusing to generate id for 1 milliseconds")

	// recovers once the clock catches up
	clock.Set(5001)
	_, err = g.NextID()
	assert.NoError(t, err)
}

func TestNextIDSequenceWrapWaitsForNextMillis(t *testing.T) {
	clock := &fakeClock{now: 10}
	g, err := New(0, 0, WithClock(clock.Now), WithMaxStall(5*time.Second))
	require.NoError(t, err)

	for i := 0; i <= SequenceMask; i++ {
		_, err := g.NextID()
		require.NoError(t, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		clock.Set(11)
	}()

	v, err := g.NextID()
	require.NoError(t, err)
	assert.Equal(t, Parts{Timestamp: 11}, Decode(v))
}

func TestNextIDSequenceWrapStalls(t *testing.T) {
	clock := &fakeClock{now: 10}
	g, err := New(0, 0, WithClock(clock.Now), WithMaxStall(10*time.Millisecond))
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for i := 0; i <= SequenceMask; i++ {
		v, err := g.NextID()
		require.NoError(t, err)
		seen[v] = true
	}

	_, err = g.NextID()
	assert.ErrorIs(t, err, ErrClockStalled)

	// the millisecond stays exhausted after a failed wait
	_, err = g.NextID()
	assert.ErrorIs(t, err, ErrClockStalled)

	clock.Set(11)
	v, err := g.NextID()
	require.NoError(t, err)
	assert.False(t, seen[v], "id %d issued twice", v)
	assert.Equal(t, int64(11), Decode(v).Timestamp)
	assert.Equal(t, int64(0), Decode(v).Sequence)
}

func TestNextIDOverflowKeepsState(t *testing.T) {
	clock := &fakeClock{now: 10}
	g, err := New(0, 0, WithClock(clock.Now))
	require.NoError(t, err)

	first, err := g.NextID()
	require.NoError(t, err)

	clock.Set(maxTimestamp + 1)
	_, err = g.NextID()
	assert.ErrorIs(t, err, ErrTimestampOverflow)

	clock.Set(10)
	second, err := g.NextID()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, int64(1), Decode(second).Sequence)
}

func TestNextIDConcurrent(t *testing.T) {
	g, err := New(0, 1)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	results := make(chan int64, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v, err := g.NextID()
				if err != nil {
					t.Errorf("NextID failed: %v", err)
					return
				}
				results <- v
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]struct{}, workers*perWorker)
	for v := range results {
		_, dup := seen[v]
		require.False(t, dup, "duplicate id %d", v)
		seen[v] = struct{}{}
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestDistinctWorkersNeverCollide(t *testing.T) {
	clock := &fakeClock{now: 42}
	a, err := New(0, 1, WithClock(clock.Now))
	require.NoError(t, err)
	b, err := New(0, 2, WithClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		va, err := a.NextID()
		require.NoError(t, err)
		vb, err := b.NextID()
		require.NoError(t, err)
		assert.NotEqual(t, va, vb)
	}
}

func TestGenerateReturnsNumberId(t *testing.T) {
	clock := &fakeClock{now: 1}
	g, err := New(0, 0, WithClock(clock.Now))
	require.NoError(t, err)

	x, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, "4194304", x.String())
}
