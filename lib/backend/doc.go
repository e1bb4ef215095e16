// Package backend defines the storage contract every physical backend
// implements (BackendStore), the provider that wires a backend into its
// schema, graph and system stores, and the shared machinery built on top of
// the contract: the transaction state machine (Tx), counter based id
// allocation (CounterAllocator), the mutation and entry codecs and the error
// taxonomy.
//
// Optional capabilities are advertised as Feature flags. Callers either test
// the flags or use the helpers (CreateSnapshot, Dump, Olap, ...), which return
// a RetCUnsupportedOperation error instead of silently doing nothing:
//
//	if _, err := backend.CreateSnapshot(store, dir); backend.IsUnsupported(err) {
//	    // fall back to a stream dump
//	}
package backend
