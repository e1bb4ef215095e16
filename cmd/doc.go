// Package cmd implements the command-line interface of gstore. It provides
// commands for running the server and for talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a server for one or more shards
//   - store: Graph store operations on a shard (init, mutate, query, counters, perf)
//   - ids: Local and remote snowflake id generation and decoding
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See gstore -help for a list of all commands.
package cmd
