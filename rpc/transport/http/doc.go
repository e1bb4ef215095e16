// Package http carries gstore messages as HTTP POST bodies. The shard is the
// request path (POST /{shardId}), the response body is the serialized answer.
//
// The client spreads requests round robin over the configured endpoints and
// sends a failed request again to the next one, RetryCount attempts in total. The server additionally exposes
// the process metrics in Prometheus format on GET /metrics; with the debug log
// level every request is logged.
package http
