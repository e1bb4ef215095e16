// Package raft replicates the stores of a backend.Provider through the
// Dragonboat RAFT consensus library.
//
// Architecture:
//
//   - Store and Provider: implement backend.BackendStore and backend.Provider.
//     Mutations are buffered in a local transaction scope; CommitTx turns the
//     batch into one StoreCommand. Reads are ReadRequests answered by the
//     state machine.
//
//   - Node: the consensus log a command is submitted to. RaftNode proposes to
//     a Dragonboat shard (SyncPropose / SyncRead), LocalNode applies to an
//     in-process state machine, the rpc client forwards to a remote server.
//
//   - StateMachine: a Dragonboat IConcurrentStateMachine holding the local
//     provider of a replica. Every replica applies the same commands in log
//     order to its own backend.
//
//   - RaftStoreClosure: carries the outcome of one command back to the
//     submitter. StoreCommandProcessor turns it into the {status, message}
//     reply sent to other nodes.
//
// Write Operations:
//
//	1. The store serializes the operation into a StoreCommand with a fresh request id
//	2. SubmitAndWait proposes the command and blocks until it is applied or failed
//	3. Each replica applies the command (StateMachine.Update) and records its request id
//	4. The result code and payload are returned through the closure
//
// A proposal that timed out may still be committed. It is retried with the
// same bytes; replicas acknowledge a request id they already applied with the
// remembered result instead of applying it again. The last DedupeWindow
// request ids are remembered and are part of every snapshot.
//
// Failures never carry more than a sanitized message across the wire: no Go
// type names and no stack traces.
//
// Snapshots:
//
//	PrepareSnapshot dumps the three stores (backend.Dump) and the dedupe window
//	into a zstd compressed buffer between two updates, SaveSnapshot writes it
//	and RecoverFromSnapshot restores it with backend.Restore. The local
//	backend must therefore support stream snapshots.
package raft
