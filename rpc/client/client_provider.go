package client

import (
	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/raft"
)

// NewRPCProvider creates a backend.Provider for the graph served by the shard of node.
// The graph name, backend and driver version are taken from the server.
// Closing the provider keeps the transport of node open, so it can be reopened
func NewRPCProvider(node *RPCNode) (backend.Provider, error) {
	info, err := node.Info()
	if err != nil {
		return nil, err
	}
	Logger.Debugf("shard %d serves graph '%s' on %s", info.ShardID, info.Graph, info.Backend)
	return &rpcProvider{
		Provider: raft.NewProvider(info.Backend, info.Graph, info.DriverVersion, node),
		backend:  info.Backend,
	}, nil
}

// rpcProvider is the replicated provider of the raft package on top of an RPCNode
type rpcProvider struct {
	*raft.Provider
	backend string
}

func (p *rpcProvider) Type() string {
	return "rpc(" + p.backend + ")"
}
