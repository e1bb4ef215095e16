package raft

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosureRunsOnce(t *testing.T) {
	var calls int
	c := NewRaftStoreClosure(NewStoreCommand(backend.StoreGraph, ActionMutate, nil), func(*RaftStoreClosure) { calls++ })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Run(backend.RetCSuccess, []byte{byte(i)}, nil)
		}(i)
	}
	wg.Wait()

	<-c.Done()
	assert.Equal(t, 1, calls)
	assert.True(t, c.Status())
	assert.Len(t, c.Data(), 1)
	assert.NoError(t, c.Err())

	c.Run(backend.RetCInternalError, nil, errors.New("late"))
	assert.True(t, c.Status(), "a closure must not change after it ran")
}

func TestClosureOutcome(t *testing.T) {
	tests := []struct {
		name    string
		code    backend.RetCode
		data    []byte
		err     error
		status  bool
		retCode backend.RetCode
		message string
	}{
		{"success", backend.RetCSuccess, []byte("ok"), nil, true, backend.RetCSuccess, ""},
		{"failed result", backend.RetCBusy, []byte("try again"), nil, false, backend.RetCBusy, "try again"},
		{"error wins", backend.RetCSuccess, []byte("ok"), backend.NewError(backend.RetCInvalidOperation, "bad"), false, backend.RetCInvalidOperation, "bad"},
		{"plain error", backend.RetCSuccess, nil, errors.New("connection reset"), false, backend.RetCInternalError, "connection reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewRaftStoreClosure(NewStoreCommand(backend.StoreGraph, ActionCommitTx, nil), nil)
			c.Run(tt.code, tt.data, tt.err)
			assert.Equal(t, tt.status, c.Status())
			assert.Equal(t, tt.message, c.Message())
			if tt.status {
				assert.Equal(t, tt.data, c.Data())
				return
			}
			var be *backend.Error
			require.ErrorAs(t, c.Err(), &be)
			assert.Equal(t, tt.retCode, be.Code)
			assert.Equal(t, "commit_tx", be.Op)
		})
	}
}

func TestSanitize(t *testing.T) {
	long := strings.Repeat("x", 2*maxMessageLen)

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"backend error without prefix", &backend.Error{Code: backend.RetCBusy, Store: "g_graph", Op: "next id", Msg: "busy"}, "busy"},
		{"backend error with cause", backend.Wrap(errors.New("disk full"), "g_graph", "commit tx"), "disk full"},
		{"message and cause", &backend.Error{Code: backend.RetCInternalError, Msg: "write", Cause: errors.New("eof")}, "write: eof"},
		{"multi line", fmt.Errorf("first line\ngoroutine 1 [running]:\nmain.go:12"), "first line"},
		{"empty message", &backend.Error{Code: backend.RetCNotInitialized}, "NotInitialized"},
		{"capped", errors.New(long), long[:maxMessageLen]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitize(tt.err))
		})
	}
}
