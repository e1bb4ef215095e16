package client

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/raft"
	"github.com/ValentinKolb/gstore/rpc/common"
	"github.com/ValentinKolb/gstore/rpc/serializer"
	"github.com/ValentinKolb/gstore/rpc/transport"
)

// NewRPCNode creates a raft.Node that submits commands to a shard of a remote server
// The function takes a shard ID, a config, a transport and a serializer as parameters
// The transport is connected before the node is returned
func NewRPCNode(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCNode, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &RPCNode{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// RPCNode is a raft.Node whose state machine lives on a remote server
type RPCNode struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see raft.Node)
// --------------------------------------------------------------------------

func (n *RPCNode) SubmitAndWait(cmd *raft.StoreCommand, closure *raft.RaftStoreClosure) {
	resp, err := invokeRPCRequest(n.shardId, common.NewCommandRequest(cmd.Serialize()), n.transport, n.serializer)
	if err != nil {
		closure.Run(backend.RetCInternalError, nil,
			backend.Errorf(backend.RetCInternalError, "failed to submit %s to shard %d: %v", cmd.Action, n.shardId, err))
		return
	}
	resp.CommandResponse().Run(closure)
}

func (n *RPCNode) Read(req raft.ReadRequest) (raft.ReadResult, error) {
	raw, err := req.MarshalBinary()
	if err != nil {
		return raft.ReadResult{}, err
	}
	resp, err := invokeRPCRequest(n.shardId, common.NewReadRequest(raw), n.transport, n.serializer)
	if err != nil {
		return raft.ReadResult{}, err
	}
	var res raft.ReadResult
	if err := res.UnmarshalBinary(resp.Value); err != nil {
		return raft.ReadResult{}, fmt.Errorf("invalid read result: %v", err)
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Server Operations
// --------------------------------------------------------------------------

// NextSnowflakes returns n ids from the snowflake generator of the server.
// The server caps the number of ids per request
func (n *RPCNode) NextSnowflakes(count uint64) ([]int64, error) {
	resp, err := invokeRPCRequest(n.shardId, common.NewSnowflakeRequest(count), n.transport, n.serializer)
	if err != nil {
		return nil, err
	}
	return resp.SnowflakeIDs()
}

// Info describes the provider of the shard
func (n *RPCNode) Info() (common.ShardInfo, error) {
	var info common.ShardInfo
	resp, err := invokeRPCRequest(n.shardId, common.NewInfoRequest(), n.transport, n.serializer)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(resp.Meta, &info); err != nil {
		return info, fmt.Errorf("invalid shard info: %v", err)
	}
	return info, nil
}

// ShardID returns the shard the node talks to
func (n *RPCNode) ShardID() uint64 {
	return n.shardId
}

// Close closes the transport of the node
func (n *RPCNode) Close() error {
	return n.transport.Close()
}
