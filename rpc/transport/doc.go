// Package transport defines how messages for a shard get from a client to a
// server. A request is a shard id plus the serialized message; the server
// side hands both to a ServerHandleFunc and returns its answer unchanged.
//
// Implementations live in the subpackages http, tcp and unix. tcp and unix
// share the framing and connection handling of base.
package transport
