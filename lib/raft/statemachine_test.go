package raft

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/backend/engines/memory"
	"github.com/ValentinKolb/gstore/lib/backend/kv"
	backendtesting "github.com/ValentinKolb/gstore/lib/backend/testing"
	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/query"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/google/uuid"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryProvider(t testing.TB) backend.Provider {
	p, err := kv.NewProvider("memory", "test_graph", "1.0", memory.New())
	require.NoError(t, err)
	return p
}

func newLocalNode(t testing.TB, provider backend.Provider) *LocalNode {
	fsm, err := NewStateMachine(1, 1, provider)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsm.Close() })
	return NewLocalNode(fsm)
}

func TestReplicatedProvider(t *testing.T) {
	factory := func(t testing.TB) backend.Provider {
		return NewProvider("memory", "test_graph", "1.0", newLocalNode(t, newMemoryProvider(t)))
	}
	backendtesting.RunBackendStoreTests(t, "raft(memory)", factory)
}

func TestProviderType(t *testing.T) {
	p := NewProvider("bolt", "g", "1.0", newLocalNode(t, newMemoryProvider(t)))
	assert.Equal(t, "raft(bolt)", p.Type())
	assert.Equal(t, "g_graph", p.GraphStore().Name())
	assert.False(t, p.GraphStore().Features().Has(backend.FeatureAtomicCounter))
	assert.False(t, p.GraphStore().Features().Has(backend.FeatureStreamSnapshot))
}

func TestDuplicateCommandAppliedOnce(t *testing.T) {
	node := newLocalNode(t, newMemoryProvider(t))
	_, err := Execute(node, NewStoreCommand(backend.StoreSchema, ActionInit, nil))
	require.NoError(t, err)

	cmd := NewStoreCommand(backend.StoreSchema, ActionIncrCounter, EncodeCounterIncrement(types.TypePropertyKey, 1))
	first, err := Execute(node, cmd)
	require.NoError(t, err)
	second, err := Execute(node, cmd)
	require.NoError(t, err)
	assert.Equal(t, first, second, "a duplicate must be acknowledged with the first result")

	counter, err := node.StateMachine().Provider().SchemaStore().GetCounter(types.TypePropertyKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter)

	// a fresh request id is applied again
	_, err = Execute(node, NewStoreCommand(backend.StoreSchema, ActionIncrCounter, EncodeCounterIncrement(types.TypePropertyKey, 1)))
	require.NoError(t, err)
	counter, _ = node.StateMachine().Provider().SchemaStore().GetCounter(types.TypePropertyKey)
	assert.Equal(t, int64(2), counter)
}

func TestFailedCommandIsRemembered(t *testing.T) {
	node := newLocalNode(t, newMemoryProvider(t))

	// the store is not initialized, the increment fails
	cmd := NewStoreCommand(backend.StoreSchema, ActionIncrCounter, EncodeCounterIncrement(types.TypePropertyKey, 1))
	_, err := Execute(node, cmd)
	require.Error(t, err)
	assert.Equal(t, backend.RetCNotInitialized, backend.CodeOf(err))

	_, err = Execute(node, NewStoreCommand(backend.StoreSchema, ActionInit, nil))
	require.NoError(t, err)

	// the retry of the same request keeps its original outcome
	_, err = Execute(node, cmd)
	assert.Equal(t, backend.RetCNotInitialized, backend.CodeOf(err))
}

func TestApplyRejectsInvalidCommands(t *testing.T) {
	node := newLocalNode(t, newMemoryProvider(t))

	tests := []struct {
		name string
		cmd  *StoreCommand
		code backend.RetCode
	}{
		{"invalid store type", NewStoreCommand(backend.StoreAll, ActionInit, nil), backend.RetCInvalidOperation},
		{"unknown action", NewStoreCommand(backend.StoreGraph, StoreAction(42), nil), backend.RetCInvalidOperation},
		{"snapshot by command", NewStoreCommand(backend.StoreGraph, ActionSnapshot, nil), backend.RetCUnsupportedOperation},
		{"bad mutation payload", NewStoreCommand(backend.StoreGraph, ActionCommitTx, []byte{0xff, 0xff}), backend.RetCInvalidOperation},
		{"bad counter payload", NewStoreCommand(backend.StoreGraph, ActionIncrCounter, []byte{1}), backend.RetCInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewRaftStoreClosure(tt.cmd, nil)
			node.SubmitAndWait(tt.cmd, c)
			require.False(t, c.Status())
			assert.Equal(t, tt.code, backend.CodeOf(c.Err()))
			assert.NotEmpty(t, c.Message())
		})
	}

	// transaction scopes have no replica state
	for _, action := range []StoreAction{ActionNone, ActionBeginTx, ActionRollbackTx} {
		_, err := Execute(node, NewStoreCommand(backend.StoreGraph, action, nil))
		assert.NoError(t, err, action.String())
	}
}

func TestUpdateEmptyAndCorruptEntries(t *testing.T) {
	fsm := newLocalNode(t, newMemoryProvider(t)).StateMachine()
	entries, err := fsm.Update([]sm.Entry{{Index: 1, Cmd: nil}, {Index: 2, Cmd: []byte{1, 2}}})
	require.NoError(t, err)
	assert.Equal(t, uint64(backend.RetCInvalidOperation), entries[0].Result.Value)
	assert.Equal(t, uint64(backend.RetCInternalError), entries[1].Result.Value)
}

// --------------------------------------------------------------------------
// Response envelope
// --------------------------------------------------------------------------

// panicStore fails every batch applied to it
type panicStore struct {
	backend.BackendStore
}

func (panicStore) Apply([]backend.MutationItem) error {
	panic(errors.New("index out of range in *kv.Store.applyItem"))
}

type panicProvider struct {
	backend.Provider
}

func (p panicProvider) GraphStore() backend.BackendStore {
	return panicStore{p.Provider.GraphStore()}
}

func commitPayload(t *testing.T, entries ...*backend.Entry) []byte {
	m := backend.NewMutation()
	for _, e := range entries {
		m.Add(backend.ActionInsert, e)
	}
	raw, err := m.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func TestProcessorEnvelope(t *testing.T) {
	healthy := newLocalNode(t, newMemoryProvider(t))
	broken := newLocalNode(t, panicProvider{newMemoryProvider(t)})
	for _, n := range []*LocalNode{healthy, broken} {
		require.NoError(t, n.StateMachine().Provider().Init())
	}

	processor := NewStoreCommandProcessor(func(shardID uint64) (Node, bool) {
		switch shardID {
		case 1:
			return healthy, true
		case 2:
			return broken, true
		}
		return nil, false
	})

	vertex := backend.NewEntry(types.TypeVertex, id.Of(1), backend.Col("name", "marko"))

	t.Run("success", func(t *testing.T) {
		before := forwardedCommands.Get()
		resp := processor.Process(1, NewStoreCommand(backend.StoreGraph, ActionCommitTx, commitPayload(t, vertex)).Serialize())
		assert.True(t, resp.Status)
		assert.Empty(t, resp.Message)
		assert.Equal(t, before+1, forwardedCommands.Get())
	})

	t.Run("local submit is not counted as forwarded", func(t *testing.T) {
		before := forwardedCommands.Get()
		other := backend.NewEntry(types.TypeVertex, id.Of(2), backend.Col("name", "vadas"))
		_, err := Execute(healthy, NewStoreCommand(backend.StoreGraph, ActionCommitTx, commitPayload(t, other)))
		require.NoError(t, err)
		assert.Equal(t, before, forwardedCommands.Get())
	})

	t.Run("backend error", func(t *testing.T) {
		// vertices don't belong to the schema store
		resp := processor.Process(1, NewStoreCommand(backend.StoreSchema, ActionCommitTx, commitPayload(t, vertex)).Serialize())
		assert.False(t, resp.Status)
		assert.Equal(t, "store doesn't accept entries of type vertex", resp.Message)
		assert.Equal(t, backend.RetCInvalidOperation, resp.Code)

		// the envelope rebuilds the failure on the calling side
		c := NewRaftStoreClosure(NewStoreCommand(backend.StoreSchema, ActionCommitTx, nil), nil)
		resp.Run(c)
		assert.False(t, c.Status())
		assert.Equal(t, backend.RetCInvalidOperation, backend.CodeOf(c.Err()))
		assert.Equal(t, resp.Message, c.Message())
	})

	t.Run("panic", func(t *testing.T) {
		resp := processor.Process(2, NewStoreCommand(backend.StoreGraph, ActionCommitTx, commitPayload(t, vertex)).Serialize())
		assert.False(t, resp.Status)
		assert.NotEmpty(t, resp.Message)
		for _, leak := range []string{"kv.Store", "goroutine", ".go:", "panic"} {
			assert.NotContains(t, resp.Message, leak)
		}
	})

	t.Run("unknown shard", func(t *testing.T) {
		resp := processor.Process(3, NewStoreCommand(backend.StoreGraph, ActionNone, nil).Serialize())
		assert.False(t, resp.Status)
		assert.Contains(t, resp.Message, "shard 3")
	})

	t.Run("corrupt command", func(t *testing.T) {
		resp := processor.Process(1, []byte{1})
		assert.False(t, resp.Status)
		assert.NotEmpty(t, resp.Message)
	})
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func TestLookup(t *testing.T) {
	node := newLocalNode(t, newMemoryProvider(t))
	fsm := node.StateMachine()

	res, err := fsm.Lookup("not a request")
	assert.Error(t, err)
	assert.Nil(t, res)

	require.NoError(t, fsm.Provider().Init())
	_, err = Execute(node, NewStoreCommand(backend.StoreGraph, ActionMutate,
		commitPayload(t, backend.NewEntry(types.TypeVertex, id.Of(1)), backend.NewEntry(types.TypeVertex, id.Of(2)))))
	require.NoError(t, err)

	raw, err := query.Marshal(query.NewBase(types.TypeVertex))
	require.NoError(t, err)

	out, err := fsm.Lookup(&ReadRequest{Op: ReadQuery, Store: backend.StoreGraph, Query: raw})
	require.NoError(t, err)
	result := out.(ReadResult)
	require.Equal(t, backend.RetCSuccess, result.Code)
	assert.Len(t, result.Entries, 2)

	out, _ = fsm.Lookup(ReadRequest{Op: ReadQuery, Store: backend.StoreGraph, Query: []byte{0xff}})
	assert.Equal(t, backend.RetCInvalidOperation, out.(ReadResult).Code)

	out, _ = fsm.Lookup(ReadRequest{Op: ReadOp(99), Store: backend.StoreGraph})
	assert.Equal(t, backend.RetCInvalidOperation, out.(ReadResult).Code)

	out, _ = fsm.Lookup(ReadRequest{Op: ReadDriverVersion})
	assert.Equal(t, "1.0", string(out.(ReadResult).Value))
}

func TestReadResultWire(t *testing.T) {
	in := ReadResult{Code: backend.RetCBusy, Msg: "busy", Entries: [][]byte{{1, 2}}, Page: "00ff", Number: 7}
	raw, err := in.MarshalBinary()
	require.NoError(t, err)

	var out ReadResult
	require.NoError(t, out.UnmarshalBinary(raw))
	assert.Equal(t, in, out)

	err = out.Err("g_graph", "query")
	assert.True(t, backend.IsBusy(err))
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

func TestSnapshotRoundTrip(t *testing.T) {
	source := newLocalNode(t, newMemoryProvider(t))
	require.NoError(t, source.StateMachine().Provider().Init())

	_, err := Execute(source, NewStoreCommand(backend.StoreGraph, ActionCommitTx,
		commitPayload(t, backend.NewEntry(types.TypeVertex, id.Of(1)), backend.NewEntry(types.TypeVertex, id.Of(2)))))
	require.NoError(t, err)
	incr := NewStoreCommand(backend.StoreSchema, ActionIncrCounter, EncodeCounterIncrement(types.TypeVertexLabel, 5))
	_, err = Execute(source, incr)
	require.NoError(t, err)

	ctx, err := source.StateMachine().PrepareSnapshot()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, source.StateMachine().SaveSnapshot(ctx, &buf, nil, nil))

	target := newLocalNode(t, newMemoryProvider(t))
	require.NoError(t, target.StateMachine().RecoverFromSnapshot(&buf, nil, make(chan struct{})))

	n, err := target.StateMachine().Provider().GraphStore().QueryNumber(query.NewBase(types.TypeVertex))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// the dedupe window is part of the snapshot
	data, err := Execute(target, incr)
	require.NoError(t, err)
	assert.Equal(t, int64(5), int64(binary.BigEndian.Uint64(data)))
	counter, _ := target.StateMachine().Provider().SchemaStore().GetCounter(types.TypeVertexLabel)
	assert.Equal(t, int64(5), counter)
}

func TestRecoverRejectsForeignData(t *testing.T) {
	fsm := newLocalNode(t, newMemoryProvider(t)).StateMachine()
	err := fsm.RecoverFromSnapshot(strings.NewReader("definitely not zstd"), nil, make(chan struct{}))
	assert.Error(t, err)
}

func TestDedupeWindow(t *testing.T) {
	fsm := newLocalNode(t, newMemoryProvider(t)).StateMachine()

	var ids []uuid.UUID
	for i := 0; i < DedupeWindow+10; i++ {
		reqID := uuid.New()
		ids = append(ids, reqID)
		fsm.remember(reqID, sm.Result{Value: uint64(i)})
	}

	window := fsm.windowIDs()
	require.Len(t, window, DedupeWindow)
	assert.Equal(t, ids[10:], window, "window must hold the newest ids, oldest first")

	_, ok := fsm.applied.Load(ids[9])
	assert.False(t, ok, "evicted id must be forgotten")
	res, ok := fsm.applied.Load(ids[10])
	assert.True(t, ok)
	assert.Equal(t, uint64(10), res.Value)
	assert.Equal(t, DedupeWindow, fsm.applied.Size())
}
