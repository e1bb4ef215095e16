package server

import (
	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/raft"
	"github.com/ValentinKolb/gstore/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// It takes a Message and the shard the message is addressed to as parameters.
	// It returns a Message as a response
	// If an error occurs, it should be set in the response
	Handle(req *common.Message, shard *ServerShard) (resp *common.Message)
}

// ServerShard is a shard hosted by the RPC server
type ServerShard struct {
	// Config is the configuration the shard was created from
	Config common.ServerShard
	// Node is the node commands and reads of the shard are submitted to
	Node raft.Node
	// Provider is the provider clients of the shard see: the local provider
	// for local shards and the replicated provider for raft shards
	Provider backend.Provider
	// Adapter handles the requests of the shard
	Adapter IRPCServerAdapter
	// close releases the resources of the shard, may be nil
	close func() error
}
