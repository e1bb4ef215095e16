package raft

import (
	"errors"
	"strings"
	"sync"

	"github.com/ValentinKolb/gstore/lib/backend"
)

// maxMessageLen caps the failure message sent back to a caller.
const maxMessageLen = 1024

// RaftStoreClosure carries the outcome of one submitted StoreCommand back to
// the caller. The node runs it exactly once, after the command was applied by
// the consensus log or failed to be submitted.
type RaftStoreClosure struct {
	Command *StoreCommand

	once   sync.Once
	done   chan struct{}
	code   backend.RetCode
	msg    string
	data   []byte
	onDone func(c *RaftStoreClosure)
}

// NewRaftStoreClosure creates the closure of cmd. onDone, if not nil, is
// called once the closure has run.
func NewRaftStoreClosure(cmd *StoreCommand, onDone func(c *RaftStoreClosure)) *RaftStoreClosure {
	return &RaftStoreClosure{Command: cmd, done: make(chan struct{}), onDone: onDone}
}

// Run records the outcome. A non nil err takes precedence over code and data.
// Only the first call has an effect.
func (c *RaftStoreClosure) Run(code backend.RetCode, data []byte, err error) {
	c.once.Do(func() {
		switch {
		case err != nil:
			c.code = backend.CodeOf(err)
			c.msg = sanitize(err)
		case code != backend.RetCSuccess:
			c.code = code
			c.msg = string(data)
		default:
			c.code = backend.RetCSuccess
			c.data = data
		}
		close(c.done)
		if c.onDone != nil {
			c.onDone(c)
		}
	})
}

// Done is closed once the closure has run.
func (c *RaftStoreClosure) Done() <-chan struct{} {
	return c.done
}

// Status reports whether the command succeeded.
func (c *RaftStoreClosure) Status() bool {
	return c.code == backend.RetCSuccess
}

// Code is the return code of the command.
func (c *RaftStoreClosure) Code() backend.RetCode {
	return c.code
}

// Message is the failure message, "" on success.
func (c *RaftStoreClosure) Message() string {
	return c.msg
}

// Data is the result payload of a successful command (e.g. the new counter value).
func (c *RaftStoreClosure) Data() []byte {
	return c.data
}

// Err returns the failure as *backend.Error, or nil.
func (c *RaftStoreClosure) Err() error {
	if c.Status() {
		return nil
	}
	return &backend.Error{Code: c.code, Op: strings.ToLower(c.Command.Action.String()), Msg: c.msg}
}

// sanitize returns the text of err that may cross a node boundary: the
// message of a backend error without the code prefix, a single line, capped.
func sanitize(err error) string {
	var msg string
	var be *backend.Error
	if errors.As(err, &be) {
		msg = be.Msg
		if be.Cause != nil {
			if msg != "" {
				msg += ": "
			}
			msg += be.Cause.Error()
		}
	} else {
		msg = err.Error()
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	if msg == "" {
		msg = backend.CodeOf(err).String()
	}
	return msg
}
