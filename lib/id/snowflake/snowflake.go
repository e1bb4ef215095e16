package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("snowflake")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Bit layout (MSB first): timestamp | datacenter (5) | worker (5) | sequence (12)
const (
	WorkerBits     = 5
	DatacenterBits = 5
	SequenceBits   = 12

	MaxWorkerID     = -1 ^ (-1 << WorkerBits)     // 31
	MaxDatacenterID = -1 ^ (-1 << DatacenterBits) // 31
	SequenceMask    = -1 ^ (-1 << SequenceBits)   // 4095

	workerShift     = SequenceBits
	datacenterShift = workerShift + WorkerBits
	timestampShift  = datacenterShift + DatacenterBits

	// maxTimestamp keeps the composed value positive as an int64.
	maxTimestamp = -1 ^ (-1 << (63 - timestampShift))

	defaultMaxStall = time.Second
)

// DefaultEpoch is the instant timestamps are measured from (2017-01-01 UTC).
var DefaultEpoch = time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrInvalidConfig is returned by New for out of range datacenter or worker ids.
	ErrInvalidConfig = errors.New("invalid snowflake configuration")
	// ErrClockStalled is returned when the sequence wrapped and the clock did not
	// advance within the configured maximum stall time.
	ErrClockStalled = errors.New("clock did not advance, sequence exhausted")
	// ErrTimestampOverflow is returned once the timestamp no longer fits its bits.
	ErrTimestampOverflow = errors.New("timestamp exceeds snowflake range")
)

// ClockSkewError is returned when the clock reports a time before the last issued id.
type ClockSkewError struct {
	LastTimestamp int64
	Timestamp     int64
}

// SkewMillis is the observed backwards jump in milliseconds.
func (e *ClockSkewError) SkewMillis() int64 {
	return e.LastTimestamp - e.Timestamp
}

func (e *ClockSkewError) Error() string {
	return fmt.Sprintf("clock moved backwards, refusing to generate id for %d milliseconds", e.SkewMillis())
}

// --------------------------------------------------------------------------
// Generator
// --------------------------------------------------------------------------

// Clock returns the current time in milliseconds since the generator epoch.
type Clock func() int64

// Option configures a Generator.
type Option func(g *Generator)

// WithClock replaces the wall clock (used by tests and for custom time sources).
func WithClock(clock Clock) Option {
	return func(g *Generator) { g.clock = clock }
}

// WithEpoch sets the instant the wall clock counts from. Ignored if WithClock is used.
func WithEpoch(epoch time.Time) Option {
	return func(g *Generator) { g.epoch = epoch }
}

// WithMaxStall bounds how long NextID spins for the next millisecond after
// the sequence wrapped.
func WithMaxStall(d time.Duration) Option {
	return func(g *Generator) { g.maxStall = d }
}

// Generator mints 64-bit, roughly time ordered ids without any shared counter.
// Each instance owns its own lock; instances with distinct (datacenter, worker)
// pairs never contend.
type Generator struct {
	mu            sync.Mutex
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64

	clock    Clock
	epoch    time.Time
	maxStall time.Duration
}

// New creates a generator for the given datacenter and worker ids, both in [0, 31].
func New(datacenterID, workerID int64, opts ...Option) (*Generator, error) {
	if workerID > MaxWorkerID || workerID < 0 {
		return nil, fmt.Errorf("%w: worker id can't be > %d or < 0, got %d", ErrInvalidConfig, MaxWorkerID, workerID)
	}
	if datacenterID > MaxDatacenterID || datacenterID < 0 {
		return nil, fmt.Errorf("%w: datacenter id can't be > %d or < 0, got %d", ErrInvalidConfig, MaxDatacenterID, datacenterID)
	}

	g := &Generator{
		datacenterID:  datacenterID,
		workerID:      workerID,
		lastTimestamp: -1,
		epoch:         DefaultEpoch,
		maxStall:      defaultMaxStall,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.clock == nil {
		epochMillis := g.epoch.UnixMilli()
		g.clock = func() int64 { return time.Now().UnixMilli() - epochMillis }
	}

	log.Debugf("id worker starting, timestamp left shift %d, datacenter id bits %d, worker id bits %d, sequence bits %d",
		timestampShift, DatacenterBits, WorkerBits, SequenceBits)
	log.Infof("id worker starting, datacenter id %d, worker id %d", datacenterID, workerID)
	return g, nil
}

// NextID returns the next id.
//
// Thread-safety: This method is thread-safe, concurrent callers are serialized.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.clock()

	// state is only written back once every check passed, so a failed call
	// never makes a sequence of the current millisecond reusable
	var sequence int64
	switch {
	case timestamp > g.lastTimestamp:
		sequence = 0
	case timestamp == g.lastTimestamp:
		sequence = (g.sequence + 1) & SequenceMask
		if sequence == 0 {
			next, err := g.tillNextMillis(g.lastTimestamp)
			if err != nil {
				return 0, err
			}
			timestamp = next
		}
	default:
		log.Errorf("clock is moving backwards, rejecting requests until %d", g.lastTimestamp)
		return 0, &ClockSkewError{LastTimestamp: g.lastTimestamp, Timestamp: timestamp}
	}

	if timestamp > maxTimestamp || timestamp < 0 {
		return 0, fmt.Errorf("%w: %d", ErrTimestampOverflow, timestamp)
	}

	g.sequence = sequence
	g.lastTimestamp = timestamp

	return (timestamp << timestampShift) |
		(g.datacenterID << datacenterShift) |
		(g.workerID << workerShift) |
		sequence, nil
}

// Generate returns the next id as a numeric id.
func (g *Generator) Generate() (id.Id, error) {
	n, err := g.NextID()
	if err != nil {
		return nil, err
	}
	return id.Of(n), nil
}

// tillNextMillis spins until the clock passes last, bounded by maxStall.
// Must be called with g.mu held.
func (g *Generator) tillNextMillis(last int64) (int64, error) {
	deadline := time.Now().Add(g.maxStall)
	timestamp := g.clock()
	for timestamp <= last {
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: waited %s for timestamp > %d", ErrClockStalled, g.maxStall, last)
		}
		timestamp = g.clock()
	}
	return timestamp, nil
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Parts is the decoded form of a snowflake id.
type Parts struct {
	Timestamp    int64
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

// Decode splits an id into its parts.
func Decode(v int64) Parts {
	return Parts{
		Timestamp:    v >> timestampShift,
		DatacenterID: (v >> datacenterShift) & MaxDatacenterID,
		WorkerID:     (v >> workerShift) & MaxWorkerID,
		Sequence:     v & SequenceMask,
	}
}

// Time converts the timestamp part back to wall time, given the generator epoch.
func (p Parts) Time(epoch time.Time) time.Time {
	return epoch.Add(time.Duration(p.Timestamp) * time.Millisecond)
}
