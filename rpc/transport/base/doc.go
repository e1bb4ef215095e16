// Package base implements the framed transport shared by the tcp and unix
// transports. The protocol specific parts (dial, listen, socket options) are
// supplied by an IClientConnector or IServerConnector.
//
// Every frame carries the shard id, a request id and the payload length in
// front of the payload. The client keeps a pool of connections per endpoint,
// picks them round robin and matches responses to pending requests by request
// id, so many requests can be in flight on one connection. A failed request is
// sent again on the next connection with exponential backoff, RetryCount
// attempts in total.
//
// The server reads frames on one goroutine per connection and hands them to a
// bounded set of workers (WorkersPerConn). Read buffers are pooled.
//
// Request counts, latencies, retries and failures are recorded with
// VictoriaMetrics counters and histograms.
package base
