// Package client implements the RPC client of a gstore server.
// It provides a raft.Node that submits store commands and reads to a shard of a
// remote server, and a backend.Provider on top of it.
//
// Key Components:
//
//   - NewRPCNode: Factory function that creates an RPCNode for one shard. Commands are
//     answered with the {status, message} envelope of the server and turned back into
//     *backend.Error values with their return code. The node also fetches snowflake ids
//     and the shard info from the server.
//
//   - NewRPCProvider: Factory function that creates a backend.Provider for the graph of
//     the shard. Its schema, graph and system stores behave like the replicated stores of
//     the raft package, every write is a command and every read a lookup on the server.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:8080"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	node, _ := client.NewRPCNode(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	defer node.Close()
//
//	provider, _ := client.NewRPCProvider(node)
//	_ = provider.Open()
//	_ = provider.Init()
//	next, _ := provider.GraphStore().NextID(types.TypeVertex)
//
// Thread Safety:
//
//	RPCNode and the provider are safe for concurrent use. Retried commands keep their
//	request id, so the server applies them at most once.
package client
