// Package rpc makes the stores of a gstore server available over the network.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: A raft.Node forwarding commands and reads to a server, and the
//     backend.Provider built on it.
//
//   - server: The RPC server. It hosts one provider per shard, either local or
//     replicated through Dragonboat, and answers commands with the
//     StoreCommandProcessor of the raft package.
package rpc
