package backend

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("backend")

// MaxNextIDRetries bounds the reconciliation loop of CounterAllocator.NextID.
const MaxNextIDRetries = 1000

var (
	nextIDRetries = metrics.NewHistogram(`gstore_next_id_retries`)
	nextIDBusy    = metrics.NewCounter(`gstore_next_id_busy_total`)
	nextIDAtomic  = metrics.NewCounter(`gstore_next_id_total{mode="atomic"}`)
	nextIDCAS     = metrics.NewCounter(`gstore_next_id_total{mode="cas"}`)
)

// CounterStore are the counter primitives a store offers. Increment is not
// required to be an atomic fetch-and-add.
type CounterStore interface {
	GetCounter(t types.Type) (int64, error)
	IncreaseCounter(t types.Type, increment int64) error
}

// CounterAllocator hands out numeric ids from the per type counters of one
// store. Calls are serialized per allocator, i.e. per store instance.
//
// If the counter store implements AtomicCounter the allocation is a single
// IncrementAndGet. Otherwise NextID runs the reconciliation loop:
//
//	expect := -1
//	repeat up to MaxNextIDRetries:
//	    counter := GetCounter(t)
//	    if counter == expect: reserved, stop
//	    expect = counter + 1
//	    IncreaseCounter(t, 1)
//
// Each failed round observes a strictly larger counter, so the loop converges
// under a bounded number of concurrent writers and fails closed otherwise.
type CounterAllocator struct {
	mu        sync.Mutex
	name      string
	store     CounterStore
	useAtomic bool
}

// NewCounterAllocator creates an allocator for the store called name.
func NewCounterAllocator(name string, store CounterStore) *CounterAllocator {
	_, atomic := store.(AtomicCounter)
	return &CounterAllocator{name: name, store: store, useAtomic: atomic}
}

// WithoutAtomic forces the reconciliation loop even if the store offers an
// atomic increment.
func (a *CounterAllocator) WithoutAtomic() *CounterAllocator {
	a.useAtomic = false
	return a
}

// NextID allocates a fresh id for t.
func (a *CounterAllocator) NextID(t types.Type) (id.Id, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.useAtomic {
		v, err := a.store.(AtomicCounter).IncrementAndGet(t, 1)
		if err != nil {
			return nil, Wrap(err, a.name, "next id")
		}
		if v <= 0 {
			return nil, &Error{Code: RetCNotInitialized, Store: a.name, Op: "next id",
				Msg: fmt.Sprintf("please check whether '%s' is ok, counter of %s is %d", a.name, t, v)}
		}
		nextIDAtomic.Inc()
		return id.Of(v), nil
	}

	var (
		counter int64
		expect  int64 = -1
		err     error
		rounds  int
	)
	for rounds = 0; rounds < MaxNextIDRetries; rounds++ {
		counter, err = a.store.GetCounter(t)
		if err != nil {
			return nil, Wrap(err, a.name, "next id")
		}
		if counter == expect {
			break
		}
		expect = counter + 1
		if err = a.store.IncreaseCounter(t, 1); err != nil {
			return nil, Wrap(err, a.name, "next id")
		}
	}
	nextIDRetries.Update(float64(rounds))

	if counter == 0 {
		return nil, &Error{Code: RetCNotInitialized, Store: a.name, Op: "next id",
			Msg: fmt.Sprintf("please check whether '%s' is ok, counter of %s is 0", a.name, t)}
	}
	if counter != expect {
		nextIDBusy.Inc()
		log.Warningf("next id for %s in '%s' gave up after %d rounds", t, a.name, rounds)
		return nil, &Error{Code: RetCBusy, Store: a.name, Op: "next id",
			Msg: fmt.Sprintf("'%s' is busy please try again", a.name)}
	}
	nextIDCAS.Inc()
	return id.Of(expect), nil
}

// SetCounterLowest raises the counter of t to lowest. It is a no-op if the
// counter is already at or above lowest.
func (a *CounterAllocator) SetCounterLowest(t types.Type, lowest int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.store.GetCounter(t)
	if err != nil {
		return Wrap(err, a.name, "set counter lowest")
	}
	if current >= lowest {
		return nil
	}
	return Wrap(a.store.IncreaseCounter(t, lowest-current), a.name, "set counter lowest")
}

// --------------------------------------------------------------------------
// OLAP table naming
// --------------------------------------------------------------------------

// OlapTableName returns the name of the OLAP table for type t of store.
func OlapTableName(store string, t types.Type) string {
	return strings.ToLower(store + "_" + types.TypeOlap.String() + "_" + t.String())
}

// OlapTableNameByID returns the name of the OLAP table of the property key pk.
// Numeric ids are rendered as decimal numbers, every other id by its string form.
func OlapTableNameByID(store string, pk id.Id) string {
	suffix := pk.String()
	if n, ok := pk.(id.Number); ok {
		suffix = strconv.FormatInt(n.Int64(), 10)
	}
	return strings.ToLower(store + "_" + types.TypeOlap.String() + "_" + suffix)
}
