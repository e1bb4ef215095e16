package transport

import (
	"github.com/ValentinKolb/gstore/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc answers one serialized request for a shard. Unknown shards
// are the handler's business, the transport passes every shard id through.
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport receives requests on config.Transport.Endpoint and
// passes them to the registered handler.
type IRPCServerTransport interface {
	// RegisterHandler must be called before Listen
	RegisterHandler(handler ServerHandleFunc)
	// Listen blocks until the transport is closed or fails
	Listen(config common.ServerConfig) error
	// Close stops listening. Listen returns nil afterwards
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport sends serialized requests to a shard on one of the
// configured endpoints.
type IRPCClientTransport interface {
	// Connect dials the endpoints of config
	Connect(config common.ClientConfig) error
	// Send blocks until the answer arrived, the request timed out or all
	// retries failed
	Send(shardId uint64, req []byte) (resp []byte, err error)
	Close() error
}
