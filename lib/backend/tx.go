package backend

import (
	"fmt"
	"sync"
)

// TxState is the lifecycle state of one transaction scope:
//
//	BEGIN -> COMMITTING -> CLEAN | COMMIT_FAIL
//	BEGIN -> ROLLBACKING -> CLEAN | ROLLBACK_FAIL
type TxState uint8

const (
	TxBegin        TxState = 1
	TxCommitting   TxState = 2
	TxCommitFail   TxState = 3
	TxRollbacking  TxState = 4
	TxRollbackFail TxState = 5
	TxClean        TxState = 6
)

func (s TxState) String() string {
	switch s {
	case TxBegin:
		return "BEGIN"
	case TxCommitting:
		return "COMMITTING"
	case TxCommitFail:
		return "COMMIT_FAIL"
	case TxRollbacking:
		return "ROLLBACKING"
	case TxRollbackFail:
		return "ROLLBACK_FAIL"
	case TxClean:
		return "CLEAN"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Terminal reports whether s ends a transaction scope.
func (s TxState) Terminal() bool {
	return s == TxClean || s == TxCommitFail || s == TxRollbackFail
}

// Tx buffers the mutations of one transaction scope and drives the TxState
// machine. Stores embed one Tx per instance. A failed Add poisons the scope:
// the following Commit rolls back instead of applying a partial batch.
type Tx struct {
	mu      sync.Mutex
	state   TxState
	active  bool
	items   []MutationItem
	failure error
}

// NewTx creates an idle transaction tracker.
func NewTx() *Tx {
	return &Tx{state: TxClean}
}

// Begin opens a scope. Opening a scope while one is active is invalid.
func (tx *Tx) Begin() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.active {
		return NewError(RetCInvalidOperation, "a transaction is already open")
	}
	tx.begin()
	return nil
}

// Add validates each item with check and buffers the batch, opening a scope
// if none is active. If any item fails the whole batch is dropped and the
// scope is marked failed.
func (tx *Tx) Add(m *Mutation, check func(MutationItem) error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.active {
		tx.begin()
	}

	err := m.Validate()
	if err == nil && check != nil {
		for _, item := range m.Items() {
			if err = check(item); err != nil {
				break
			}
		}
	}
	if err != nil {
		if tx.failure == nil {
			tx.failure = err
		}
		return err
	}

	tx.items = append(tx.items, m.Items()...)
	return nil
}

// Commit applies the buffered items with apply. Committing without an open
// scope is a no-op. A scope poisoned by a failed Add is rolled back and an
// error is returned; nothing is applied.
func (tx *Tx) Commit(apply func(items []MutationItem) error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.active {
		return nil
	}

	tx.state = TxCommitting
	if tx.failure != nil {
		cause := tx.failure
		tx.state = TxRollbacking
		tx.reset(TxClean)
		return &Error{Code: RetCInvalidOperation, Msg: "transaction rolled back because a mutation failed", Cause: cause}
	}

	if err := apply(tx.items); err != nil {
		tx.reset(TxCommitFail)
		return err
	}
	tx.reset(TxClean)
	return nil
}

// Rollback discards the buffered items. discard may release backend state
// and may be nil.
func (tx *Tx) Rollback(discard func() error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.active {
		return nil
	}

	tx.state = TxRollbacking
	if discard != nil {
		if err := discard(); err != nil {
			tx.reset(TxRollbackFail)
			return err
		}
	}
	tx.reset(TxClean)
	return nil
}

// State returns the current state.
func (tx *Tx) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Active reports whether a scope is open.
func (tx *Tx) Active() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.active
}

// Pending returns the number of buffered items.
func (tx *Tx) Pending() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.items)
}

func (tx *Tx) begin() {
	tx.state = TxBegin
	tx.active = true
	tx.items = nil
	tx.failure = nil
}

func (tx *Tx) reset(state TxState) {
	tx.state = state
	tx.active = false
	tx.items = nil
	tx.failure = nil
}
