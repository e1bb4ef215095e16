package server

import (
	"encoding/json"
	"testing"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/backend/providers"
	"github.com/ValentinKolb/gstore/lib/raft"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/ValentinKolb/gstore/rpc/common"
	"github.com/ValentinKolb/gstore/rpc/serializer"
	"github.com/ValentinKolb/gstore/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackTransport records the handler instead of listening
type loopbackTransport struct {
	handler transport.ServerHandleFunc
	closed  bool
}

func (l *loopbackTransport) RegisterHandler(handler transport.ServerHandleFunc) { l.handler = handler }
func (l *loopbackTransport) Listen(common.ServerConfig) error                  { return nil }
func (l *loopbackTransport) Close() error                                      { l.closed = true; return nil }

func newTestServer(t *testing.T, shards string) (*RPCServer, *loopbackTransport) {
	parsed, err := common.ParseServerShards(shards)
	require.NoError(t, err)

	lt := &loopbackTransport{}
	s := NewRPCServer(common.ServerConfig{
		Shards:        parsed,
		Graph:         "test_graph",
		DataDir:       t.TempDir(),
		DatacenterID:  1,
		WorkerID:      2,
		TimeoutSecond: 5,
		Transport:     common.ServerTransportConfig{Endpoint: "loopback"},
		LogLevel:      "error",
	}, lt, serializer.NewBinarySerializer())
	require.NoError(t, s.init())
	t.Cleanup(func() { _ = s.Close() })
	return s, lt
}

func call(t *testing.T, s *RPCServer, shardId uint64, req *common.Message) *common.Message {
	raw, err := s.serializer.Serialize(*req)
	require.NoError(t, err)
	var resp common.Message
	require.NoError(t, s.serializer.Deserialize(s.handle(shardId, raw), &resp))
	return &resp
}

func TestInitRegistersShards(t *testing.T) {
	s, lt := newTestServer(t, "1=memory,2=bolt")
	require.NotNil(t, lt.handler)

	for id, backendName := range map[uint64]string{1: "memory", 2: "bolt"} {
		shard, ok := s.Shard(id)
		require.True(t, ok)
		assert.Equal(t, backendName, shard.Provider.Type())
		assert.IsType(t, &raft.LocalNode{}, shard.Node)
	}

	_, ok := s.Shard(3)
	assert.False(t, ok)

	require.NoError(t, s.Close())
	assert.True(t, lt.closed)
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	s := NewRPCServer(common.ServerConfig{LogLevel: "error"}, &loopbackTransport{}, serializer.NewJSONSerializer())
	err := s.Serve()
	require.Error(t, err)
	assert.Equal(t, backend.RetCConfigError, backend.CodeOf(err))
}

func TestHandleCommand(t *testing.T) {
	s, _ := newTestServer(t, "1=memory")

	resp := call(t, s, 1, common.NewCommandRequest(raft.NewStoreCommand(backend.StoreSchema, raft.ActionInit, nil).Serialize()))
	assert.Equal(t, common.MsgTCommand, resp.MsgType)
	assert.True(t, resp.Ok, resp.Err)

	// the graph store was not initialized
	cmd := raft.NewStoreCommand(backend.StoreGraph, raft.ActionIncrCounter, raft.EncodeCounterIncrement(types.TypeVertex, 1))
	resp = call(t, s, 1, common.NewCommandRequest(cmd.Serialize()))
	assert.False(t, resp.Ok)
	assert.NotEmpty(t, resp.Err)
	assert.Equal(t, backend.RetCNotInitialized, resp.CommandResponse().Code)

	// garbage is rejected by the processor
	resp = call(t, s, 1, common.NewCommandRequest([]byte{1}))
	assert.False(t, resp.Ok)
	assert.Equal(t, backend.RetCInvalidOperation, resp.CommandResponse().Code)
}

func TestHandleRead(t *testing.T) {
	s, _ := newTestServer(t, "1=memory")
	call(t, s, 1, common.NewCommandRequest(raft.NewStoreCommand(backend.StoreSchema, raft.ActionInit, nil).Serialize()))

	req, err := raft.ReadRequest{Op: raft.ReadInitialized, Store: backend.StoreSchema}.MarshalBinary()
	require.NoError(t, err)
	resp := call(t, s, 1, common.NewReadRequest(req))
	require.Empty(t, resp.Err)

	var res raft.ReadResult
	require.NoError(t, res.UnmarshalBinary(resp.Value))
	assert.True(t, res.Flag)

	resp = call(t, s, 1, common.NewReadRequest([]byte("{")))
	assert.Contains(t, resp.Err, "invalid read request")
}

func TestHandleSnowflake(t *testing.T) {
	s, _ := newTestServer(t, "1=memory")

	resp := call(t, s, 1, common.NewSnowflakeRequest(3))
	ids, err := resp.SnowflakeIDs()
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	resp = call(t, s, 1, common.NewSnowflakeRequest(0))
	ids, _ = resp.SnowflakeIDs()
	assert.Len(t, ids, 1)

	resp = call(t, s, 1, common.NewSnowflakeRequest(MaxSnowflakeBatch+10))
	ids, _ = resp.SnowflakeIDs()
	assert.Len(t, ids, MaxSnowflakeBatch)
}

func TestHandleInfo(t *testing.T) {
	s, _ := newTestServer(t, "7=memory")

	resp := call(t, s, 7, common.NewInfoRequest())
	require.Empty(t, resp.Err)

	var info common.ShardInfo
	require.NoError(t, json.Unmarshal(resp.Meta, &info))
	assert.Equal(t, uint64(7), info.ShardID)
	assert.Equal(t, "memory", info.Backend)
	assert.Equal(t, "test_graph", info.Graph)
	assert.False(t, info.Initialized)
	assert.False(t, info.Replicated)
	assert.Contains(t, info.Features, backend.FeatureAtomicCounter.String())
}

func TestHandleErrors(t *testing.T) {
	s, _ := newTestServer(t, "1=memory")

	resp := call(t, s, 99, common.NewInfoRequest())
	assert.Equal(t, common.MsgTError, resp.MsgType)
	assert.Contains(t, resp.Err, "shard 99 not found")

	// only requests are accepted, a response type is rejected
	resp = call(t, s, 1, &common.Message{MsgType: common.MsgTSuccess})
	assert.Equal(t, common.MsgTError, resp.MsgType)
	assert.Contains(t, resp.Err, "success")

	var msg common.Message
	require.NoError(t, s.serializer.Deserialize(s.handle(1, []byte{}), &msg))
	assert.Contains(t, msg.Err, "failed to deserialize request")
}

func TestHandleInfoReplicatedShard(t *testing.T) {
	s, _ := newTestServer(t, "1=memory")

	// a replicated shard whose consensus log is an in-process state machine
	config := common.ServerShard{ShardID: 5, Type: common.ShardTypeReplicated, Backend: "memory"}
	local, err := providers.New(s.config.ProviderConfig(config))
	require.NoError(t, err)
	fsm, err := raft.NewStateMachine(config.ShardID, 1, local)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsm.Close() })

	node := raft.NewLocalNode(fsm)
	p, err := providers.NewReplicated(s.config.ProviderConfig(config), node)
	require.NoError(t, err)
	shard, err := newReplicatedShard(config, node, p)
	require.NoError(t, err)
	shard.Adapter = NewStoreServerAdapter(s.processor, s.generator)
	s.shards.Store(config.ShardID, shard)

	info := func() common.ShardInfo {
		resp := call(t, s, 5, common.NewInfoRequest())
		require.Empty(t, resp.Err)
		var info common.ShardInfo
		require.NoError(t, json.Unmarshal(resp.Meta, &info))
		return info
	}

	assert.True(t, info().Replicated)
	assert.False(t, info().Initialized)

	resp := call(t, s, 5, common.NewCommandRequest(raft.NewStoreCommand(backend.StoreSchema, raft.ActionInit, nil).Serialize()))
	require.True(t, resp.Ok, resp.Err)
	for _, st := range []backend.StoreType{backend.StoreGraph, backend.StoreSystem} {
		resp = call(t, s, 5, common.NewCommandRequest(raft.NewStoreCommand(st, raft.ActionInit, nil).Serialize()))
		require.True(t, resp.Ok, resp.Err)
	}
	assert.True(t, info().Initialized)

	require.NoError(t, shard.close())
	assert.False(t, p.GraphStore().Opened())
}
