// Package server implements the RPC server of gstore.
// A server hosts any number of shards. Every shard serves the schema, graph and
// system store of one graph, either on a local backend or replicated through RAFT.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes incoming requests against a ServerShard.
//
//   - NewStoreServerAdapter: Factory function creating the adapter for store commands,
//     reads, snowflake ids and shard info. Commands are handed to a
//     raft.StoreCommandProcessor and answered with its {status, message} envelope.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	shards, _ := common.ParseServerShards("1=bolt,2=raft(sqlite)")
//	config := common.ServerConfig{
//	  Shards:        shards,
//	  Graph:         "social",
//	  DataDir:       "/var/lib/gstore",
//	  TimeoutSecond: 5,
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  LogLevel:      "info",
//	  // RAFT parameters for shard 2 ...
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// The server supports two types of shards, which can be mixed within a single server:
//
//   - ShardTypeLocal (ID=BACKEND): the commands of the shard are applied by a state
//     machine on this server only.
//
//   - ShardTypeReplicated (ID=raft(BACKEND)): the shard is a RAFT group. Every replica
//     applies the commands to its own BACKEND. RTTMillisecond, SnapshotEntries,
//     CompactionOverhead, DataDir, ReplicaID and ClusterMembers must be configured.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent requests
//	across multiple connections. Serve must be called only once.
package server
