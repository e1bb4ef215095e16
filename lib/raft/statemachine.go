package raft

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/query"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// DedupeWindow is the number of request ids a replica remembers.
	DedupeWindow = 4096

	snapshotMagic = "GSSM1"
)

var (
	appliedCommands   = metrics.NewCounter(`gstore_raft_commands_applied_total`)
	duplicateCommands = metrics.NewCounter(`gstore_raft_commands_duplicate_total`)
	failedCommands    = metrics.NewCounter(`gstore_raft_commands_failed_total`)
	applyDuration     = metrics.NewHistogram(`gstore_raft_apply_duration_seconds`)
)

// Applier is implemented by stores that can apply an already committed batch
// atomically without a transaction scope (kv.Store). Other stores get the
// batch through Mutate and CommitTx.
type Applier interface {
	Apply(items []backend.MutationItem) error
}

// ProviderFactory creates the local provider a replica applies commands to.
type ProviderFactory func(shardID, replicaID uint64) (backend.Provider, error)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// StateMachine applies StoreCommands to the three stores of a local provider.
//
// Every applied request id is remembered, with its result, in a window of
// the last DedupeWindow commands. The window is updated in log order and is
// part of the snapshot, so all replicas agree on which commands are
// duplicates.
type StateMachine struct {
	shardID   uint64
	replicaID uint64
	provider  backend.Provider

	mu      sync.RWMutex // Update and RecoverFromSnapshot exclude Lookup
	applied *xsync.MapOf[uuid.UUID, sm.Result]
	window  [DedupeWindow]uuid.UUID
	pos     int
	size    int
}

// NewStateMachine opens provider and returns a state machine applying to it.
func NewStateMachine(shardID, replicaID uint64, provider backend.Provider) (*StateMachine, error) {
	if err := provider.Open(); err != nil {
		return nil, err
	}
	return &StateMachine{
		shardID:   shardID,
		replicaID: replicaID,
		provider:  provider,
		applied:   xsync.NewMapOf[uuid.UUID, sm.Result](),
	}, nil
}

// CreateStateMachineFactory returns a function that can be used by dragonboat
// to create a new state machine for a node host.
func CreateStateMachineFactory(factory ProviderFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		provider, err := factory(shardID, replicaID)
		if err != nil {
			log.Panicf("failed to create provider for shard %d: %v", shardID, err)
		}
		fsm, err := NewStateMachine(shardID, replicaID, provider)
		if err != nil {
			log.Panicf("failed to open provider for shard %d: %v", shardID, err)
		}
		return fsm
	}
}

// Provider returns the local provider.
func (fsm *StateMachine) Provider() backend.Provider {
	return fsm.provider
}

// Update applies the commands of a batch of log entries in order.
func (fsm *StateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	start := time.Now()
	for idx, e := range entries {
		entries[idx].Result = fsm.updateOne(e.Cmd)
	}
	applyDuration.UpdateDuration(start)

	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		log.Infof("state machine of shard %d took long to update. Batch updated %d entries, took %.2fms",
			fsm.shardID, len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func (fsm *StateMachine) updateOne(raw []byte) sm.Result {
	if len(raw) == 0 {
		return errorResult(backend.RetCInvalidOperation, "empty command ignored")
	}
	var cmd StoreCommand
	if err := cmd.Deserialize(raw); err != nil {
		return errorResult(backend.RetCInternalError, fmt.Sprintf("failed to deserialize command: %v", err))
	}

	if cmd.RequestID != uuid.Nil {
		if res, ok := fsm.applied.Load(cmd.RequestID); ok {
			duplicateCommands.Inc()
			log.Debugf("duplicate command %s acknowledged without applying", &cmd)
			return res
		}
	}

	res := fsm.apply(&cmd)
	appliedCommands.Inc()
	if res.Value != uint64(backend.RetCSuccess) {
		failedCommands.Inc()
	}
	if cmd.RequestID != uuid.Nil {
		fsm.remember(cmd.RequestID, res)
	}
	return res
}

// apply runs one command. Panics of a store are turned into an internal
// error result; the stack is only logged locally.
func (fsm *StateMachine) apply(cmd *StoreCommand) (res sm.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while applying %s: %v\n%s", cmd, r, debug.Stack())
			res = errorResult(backend.RetCInternalError, fmt.Sprintf("internal error while applying %s", cmd.Action))
		}
	}()

	store, err := fsm.store(cmd.Type)
	if err != nil {
		return resultOf(err, nil)
	}

	switch cmd.Action {
	case ActionNone, ActionBeginTx, ActionRollbackTx:
		// transaction scopes only exist on the submitting node
		return sm.Result{Value: uint64(backend.RetCSuccess)}
	case ActionInit:
		return resultOf(store.Init(), nil)
	case ActionClear:
		return resultOf(store.Clear(DecodeClear(cmd.Data)), nil)
	case ActionTruncate:
		return resultOf(store.Truncate(), nil)
	case ActionCommitTx, ActionMutate:
		var m backend.Mutation
		if err := m.UnmarshalBinary(cmd.Data); err != nil {
			return errorResult(backend.RetCInvalidOperation, fmt.Sprintf("invalid mutation payload: %v", err))
		}
		return resultOf(applyMutation(store, &m), nil)
	case ActionIncrCounter:
		t, increment, err := DecodeCounterIncrement(cmd.Data)
		if err != nil {
			return errorResult(backend.RetCInvalidOperation, err.Error())
		}
		v, err := incrementCounter(store, t, increment)
		return resultOf(err, binary.BigEndian.AppendUint64(nil, uint64(v)))
	case ActionSnapshot:
		return errorResult(backend.RetCUnsupportedOperation, "snapshots are taken by the consensus log, not by command")
	default:
		return errorResult(backend.RetCInvalidOperation, fmt.Sprintf("unknown store action: %s", cmd.Action))
	}
}

func applyMutation(store backend.BackendStore, m *backend.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if a, ok := store.(Applier); ok {
		return a.Apply(m.Items())
	}
	if err := store.Mutate(m); err != nil {
		_ = store.RollbackTx()
		return err
	}
	return store.CommitTx()
}

func incrementCounter(store backend.BackendStore, t types.Type, increment int64) (int64, error) {
	if a, ok := store.(backend.AtomicCounter); ok {
		return a.IncrementAndGet(t, increment)
	}
	if err := store.IncreaseCounter(t, increment); err != nil {
		return 0, err
	}
	return store.GetCounter(t)
}

// Lookup answers a ReadRequest. Failures are part of the ReadResult.
func (fsm *StateMachine) Lookup(itf interface{}) (interface{}, error) {
	var req ReadRequest
	switch r := itf.(type) {
	case ReadRequest:
		req = r
	case *ReadRequest:
		req = *r
	default:
		return nil, backend.Errorf(backend.RetCInternalError, "invalid read request type: %T", itf)
	}

	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	return fsm.lookup(req), nil
}

func (fsm *StateMachine) lookup(req ReadRequest) ReadResult {
	if req.Op == ReadDriverVersion {
		v, err := fsm.provider.StoredVersion()
		if err != nil {
			return failed(err)
		}
		return ReadResult{Value: []byte(v)}
	}

	store, err := fsm.store(req.Store)
	if err != nil {
		return failed(err)
	}

	switch req.Op {
	case ReadQuery, ReadQueryNumber:
		q, err := query.Unmarshal(req.Query)
		if err != nil {
			return failed(backend.Errorf(backend.RetCInvalidOperation, "invalid query: %v", err))
		}
		if req.Op == ReadQueryNumber {
			n, err := store.QueryNumber(q)
			if err != nil {
				return failed(err)
			}
			return ReadResult{Number: n}
		}
		return collect(store, q)
	case ReadGetCounter:
		v, err := store.GetCounter(req.Type)
		if err != nil {
			return failed(err)
		}
		return ReadResult{Number: v}
	case ReadMetadata:
		v, err := store.Metadata(req.Type, req.Meta)
		if err != nil {
			return failed(err)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return failed(err)
		}
		return ReadResult{Value: raw}
	case ReadInitialized:
		return ReadResult{Flag: store.Initialized()}
	default:
		return ReadResult{Code: backend.RetCInvalidOperation, Msg: fmt.Sprintf("unknown read operation: %s", req.Op)}
	}
}

// collect materializes the result of q, the iterator is always closed.
func collect(store backend.BackendStore, q query.Query) ReadResult {
	it, err := store.Query(q)
	if err != nil {
		return failed(err)
	}
	defer it.Close()

	var res ReadResult
	for it.Next() {
		raw, err := it.Entry().MarshalBinary()
		if err != nil {
			return failed(err)
		}
		res.Entries = append(res.Entries, raw)
	}
	if err := it.Err(); err != nil {
		return failed(err)
	}
	res.Page = it.PageState()
	return res
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// PrepareSnapshot dumps the stores and the dedupe window. Dragonboat calls it
// between two Updates, so the dump is consistent with the log index.
func (fsm *StateMachine) PrepareSnapshot() (interface{}, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(enc)

	if err := fsm.writeSnapshot(bw); err != nil {
		enc.Close()
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (fsm *StateMachine) writeSnapshot(w *bufio.Writer) error {
	if _, err := w.WriteString(snapshotMagic); err != nil {
		return err
	}

	ids := fsm.windowIDs()
	if err := writeUvarint(w, uint64(len(ids))); err != nil {
		return err
	}
	for _, reqID := range ids {
		res, _ := fsm.applied.Load(reqID)
		if _, err := w.Write(reqID[:]); err != nil {
			return err
		}
		if err := writeUvarint(w, res.Value); err != nil {
			return err
		}
		if err := writeChunk(w, res.Data); err != nil {
			return err
		}
	}

	for _, store := range fsm.stores() {
		var dump bytes.Buffer
		if err := backend.Dump(store, &dump); err != nil {
			return err
		}
		if err := writeChunk(w, dump.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot writes the snapshot prepared by PrepareSnapshot.
func (fsm *StateMachine) SaveSnapshot(ctx interface{}, w io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	data, ok := ctx.([]byte)
	if !ok {
		return fmt.Errorf("invalid snapshot context type: %T", ctx)
	}
	_, err := w.Write(data)
	return err
}

// RecoverFromSnapshot replaces the stores and the dedupe window with the
// content of a snapshot.
func (fsm *StateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, done <-chan struct{}) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != snapshotMagic {
		return errors.New("not a state machine snapshot")
	}

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	n, err := binary.ReadUvarint(br)
	if err != nil {
		return err
	}
	if n > DedupeWindow {
		return fmt.Errorf("snapshot holds %d request ids, window is %d", n, DedupeWindow)
	}
	fsm.applied.Clear()
	fsm.pos, fsm.size = 0, 0
	for i := uint64(0); i < n; i++ {
		var reqID uuid.UUID
		if _, err := io.ReadFull(br, reqID[:]); err != nil {
			return err
		}
		value, err := binary.ReadUvarint(br)
		if err != nil {
			return err
		}
		data, err := readChunk(br)
		if err != nil {
			return err
		}
		fsm.remember(reqID, sm.Result{Value: value, Data: data})
	}

	for _, store := range fsm.stores() {
		select {
		case <-done:
			return sm.ErrSnapshotStopped
		default:
		}
		dump, err := readChunk(br)
		if err != nil {
			return err
		}
		if err := backend.Restore(store, bytes.NewReader(dump)); err != nil {
			return err
		}
	}
	log.Infof("shard %d replica %d recovered from snapshot (%d request ids)", fsm.shardID, fsm.replicaID, n)
	return nil
}

// Close closes the local provider.
func (fsm *StateMachine) Close() error {
	return fsm.provider.Close()
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func (fsm *StateMachine) store(t backend.StoreType) (backend.BackendStore, error) {
	switch t {
	case backend.StoreSchema:
		return fsm.provider.SchemaStore(), nil
	case backend.StoreGraph:
		return fsm.provider.GraphStore(), nil
	case backend.StoreSystem:
		return fsm.provider.SystemStore(), nil
	default:
		return nil, backend.Errorf(backend.RetCInvalidOperation, "invalid store type %s", t)
	}
}

func (fsm *StateMachine) stores() []backend.BackendStore {
	return []backend.BackendStore{fsm.provider.SchemaStore(), fsm.provider.GraphStore(), fsm.provider.SystemStore()}
}

// remember adds a request id to the window, evicting the oldest one.
func (fsm *StateMachine) remember(reqID uuid.UUID, res sm.Result) {
	if fsm.size == DedupeWindow {
		fsm.applied.Delete(fsm.window[fsm.pos])
	} else {
		fsm.size++
	}
	fsm.window[fsm.pos] = reqID
	fsm.pos = (fsm.pos + 1) % DedupeWindow
	fsm.applied.Store(reqID, res)
}

// windowIDs returns the remembered request ids, oldest first.
func (fsm *StateMachine) windowIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, fsm.size)
	start := (fsm.pos - fsm.size + DedupeWindow) % DedupeWindow
	for i := 0; i < fsm.size; i++ {
		ids = append(ids, fsm.window[(start+i)%DedupeWindow])
	}
	return ids
}

func resultOf(err error, data []byte) sm.Result {
	if err != nil {
		return errorResult(backend.CodeOf(err), sanitize(err))
	}
	return sm.Result{Value: uint64(backend.RetCSuccess), Data: data}
}

func errorResult(code backend.RetCode, msg string) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(msg)}
}

func writeUvarint(w *bufio.Writer, v uint64) error {
	_, err := w.Write(binary.AppendUvarint(nil, v))
	return err
}

func writeChunk(w *bufio.Writer, b []byte) error {
	if err := writeUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readChunk(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("truncated snapshot: %w", err)
	}
	return b, nil
}
