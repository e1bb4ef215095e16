// Package unix plugs Unix domain sockets into the framed transport of package
// base, for clients on the same machine as the server. The endpoint is the
// socket path; a socket file left behind by a previous server is removed
// before listening. Server read buffers default to 64 KB.
package unix
