// Package common provides the data structures shared by the gstore rpc
// server, client and transports.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. A command
//     message carries a serialized raft.StoreCommand and is answered with the
//     {status, message} envelope (Ok, Err) plus the result payload in Value.
//     A read message carries an encoded raft.ReadRequest and is answered with
//     the encoded raft.ReadResult.
//
//   - MessageType: Enumeration of the supported operations: command, read,
//     snowflake, info and the control messages success and error.
//
//   - ServerConfig: Configuration of a server node, including the shards and
//     their backends, RAFT parameters, storage and transport settings.
//     Provides utilities for converting to Dragonboat-specific configurations.
//
//   - ClientConfig: Configuration for client components, controlling connection
//     parameters, timeouts, and retry behavior.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
