package backend

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vertexMutation(ids ...int64) *Mutation {
	m := NewMutation()
	for _, n := range ids {
		m.Add(ActionInsert, NewEntry(types.TypeVertex, id.Of(n), Col("name", "v")))
	}
	return m
}

func TestTxCommit(t *testing.T) {
	tx := NewTx()
	assert.Equal(t, TxClean, tx.State())

	require.NoError(t, tx.Begin())
	assert.Equal(t, TxBegin, tx.State())
	assert.Error(t, tx.Begin(), "nested begin")

	require.NoError(t, tx.Add(vertexMutation(1, 2), nil))
	require.NoError(t, tx.Add(vertexMutation(3), nil))
	assert.Equal(t, 3, tx.Pending())

	var applied []MutationItem
	require.NoError(t, tx.Commit(func(items []MutationItem) error {
		assert.Equal(t, TxCommitting, tx.state)
		applied = items
		return nil
	}))
	assert.Len(t, applied, 3)
	assert.Equal(t, TxClean, tx.State())
	assert.False(t, tx.Active())
}

func TestTxAddAutoBegins(t *testing.T) {
	tx := NewTx()
	require.NoError(t, tx.Add(vertexMutation(1), nil))
	assert.True(t, tx.Active())
	assert.Equal(t, TxBegin, tx.State())
}

func TestTxCommitFail(t *testing.T) {
	tx := NewTx()
	require.NoError(t, tx.Add(vertexMutation(1), nil))

	boom := errors.New("write failed")
	err := tx.Commit(func([]MutationItem) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, TxCommitFail, tx.State())
	assert.False(t, tx.Active())

	// a new scope can be opened after a failure
	require.NoError(t, tx.Begin())
	assert.Equal(t, TxBegin, tx.State())
}

func TestTxFailedMutationRollsBackOnCommit(t *testing.T) {
	tx := NewTx()
	require.NoError(t, tx.Add(vertexMutation(1), nil))

	reject := errors.New("foreign type")
	err := tx.Add(vertexMutation(2), func(MutationItem) error { return reject })
	require.ErrorIs(t, err, reject)
	assert.Equal(t, 1, tx.Pending(), "the rejected batch must not be buffered")

	called := false
	err = tx.Commit(func([]MutationItem) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, reject)
	assert.Equal(t, RetCInvalidOperation, CodeOf(err))
	assert.False(t, called, "a partial batch must never be applied")
	assert.Equal(t, TxClean, tx.State())
}

func TestTxInvalidMutation(t *testing.T) {
	tx := NewTx()
	m := NewMutation().Add(Action(42), NewEntry(types.TypeVertex, id.Of(1)))
	err := tx.Add(m, nil)
	assert.Equal(t, RetCInvalidOperation, CodeOf(err))

	m = NewMutation().Add(ActionInsert, &Entry{Type: types.TypeVertex})
	assert.Error(t, NewTx().Add(m, nil))
}

func TestTxRollback(t *testing.T) {
	tx := NewTx()
	require.NoError(t, tx.Add(vertexMutation(1), nil))
	require.NoError(t, tx.Rollback(nil))
	assert.Equal(t, TxClean, tx.State())
	assert.Zero(t, tx.Pending())

	require.NoError(t, tx.Add(vertexMutation(1), nil))
	boom := errors.New("rollback failed")
	assert.ErrorIs(t, tx.Rollback(func() error { return boom }), boom)
	assert.Equal(t, TxRollbackFail, tx.State())

	// no scope, nothing to do
	require.NoError(t, tx.Rollback(nil))
	require.NoError(t, tx.Commit(func([]MutationItem) error { return boom }))
}

func TestTxStateTerminal(t *testing.T) {
	for state, terminal := range map[TxState]bool{
		TxBegin: false, TxCommitting: false, TxRollbacking: false,
		TxClean: true, TxCommitFail: true, TxRollbackFail: true,
	} {
		assert.Equal(t, terminal, state.Terminal(), state.String())
	}
}
