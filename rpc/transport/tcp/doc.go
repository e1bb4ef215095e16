// Package tcp plugs TCP sockets into the framed transport of package base.
// The connectors apply the socket options of the config (buffer sizes,
// TCP_NODELAY, keepalive and linger, where a negative linger keeps the system
// default). Server read buffers default to 512 KB.
package tcp
