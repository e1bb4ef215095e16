package raft

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/google/uuid"
)

// StoreAction is the operation a StoreCommand performs on a replica. The
// numeric codes are part of the wire format.
type StoreAction uint8

const (
	ActionNone        StoreAction = iota // No operation, acknowledged without effect.
	ActionInit                           // Create the physical structures of the store.
	ActionClear                          // Drop the store, payload is the clearSpace flag.
	ActionTruncate                       // Empty the store, keeping its structure.
	ActionSnapshot                       // Reserved, snapshots are taken by the consensus log.
	ActionBeginTx                        // Open a transaction scope (no replica state).
	ActionCommitTx                       // Apply the mutation in the payload atomically.
	ActionRollbackTx                     // Discard a transaction scope (no replica state).
	ActionMutate                         // Apply the mutation in the payload atomically.
	ActionIncrCounter                    // Increase a counter, payload is type and increment.
)

func (a StoreAction) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionInit:
		return "INIT"
	case ActionClear:
		return "CLEAR"
	case ActionTruncate:
		return "TRUNCATE"
	case ActionSnapshot:
		return "SNAPSHOT"
	case ActionBeginTx:
		return "BEGIN_TX"
	case ActionCommitTx:
		return "COMMIT_TX"
	case ActionRollbackTx:
		return "ROLLBACK_TX"
	case ActionMutate:
		return "MUTATE"
	case ActionIncrCounter:
		return "INCR_COUNTER"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(a))
	}
}

// ParseStoreAction resolves the name of an action, as returned by String.
func ParseStoreAction(name string) (StoreAction, error) {
	for a := ActionNone; a <= ActionIncrCounter; a++ {
		if a.String() == name {
			return a, nil
		}
	}
	return ActionNone, fmt.Errorf("unknown store action '%s'", name)
}

// StoreCommand describes one operation to replicate. The request id makes
// the application idempotent: a replica applies a request id at most once,
// so a command re-submitted after a timeout is acknowledged without
// applying it a second time.
//
// Forwarded marks a command received from another node. It is not part of
// the serialized form, nodes count forwarded submissions in
// gstore_raft_commands_forwarded_total.
type StoreCommand struct {
	RequestID uuid.UUID
	Type      backend.StoreType
	Action    StoreAction
	Data      []byte
	Forwarded bool
}

// headerSize is type + action + request id
const headerSize = 1 + 1 + 16

// NewStoreCommand creates a command with a fresh request id.
func NewStoreCommand(storeType backend.StoreType, action StoreAction, data []byte) *StoreCommand {
	return &StoreCommand{
		RequestID: uuid.New(),
		Type:      storeType,
		Action:    action,
		Data:      data,
	}
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (c *StoreCommand) SizeBytes() int {
	return headerSize + len(c.Data)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for the store type,
// 1 byte for the action,
// 16 bytes for the request id,
// N bytes for the payload (optional)
func (c *StoreCommand) Serialize() []byte {
	result := make([]byte, c.SizeBytes())
	result[0] = byte(c.Type)
	result[1] = byte(c.Action)
	copy(result[2:headerSize], c.RequestID[:])
	copy(result[headerSize:], c.Data)
	return result
}

// Deserialize extracts all StoreCommand fields from a byte array.
func (c *StoreCommand) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for store command: %d bytes", len(data))
	}
	c.Type = backend.StoreType(data[0])
	c.Action = StoreAction(data[1])
	copy(c.RequestID[:], data[2:headerSize])
	if len(data) > headerSize {
		c.Data = append(c.Data[:0], data[headerSize:]...)
	} else {
		c.Data = nil
	}
	return nil
}

func (c *StoreCommand) String() string {
	return fmt.Sprintf("%s %s (%s, %d bytes)", c.Type, c.Action, c.RequestID, len(c.Data))
}

// --------------------------------------------------------------------------
// Payloads
// --------------------------------------------------------------------------

// EncodeCounterIncrement is the payload of ActionIncrCounter.
func EncodeCounterIncrement(t types.Type, increment int64) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(t)
	binary.BigEndian.PutUint64(buf[1:], uint64(increment))
	return buf
}

// DecodeCounterIncrement is the counterpart of EncodeCounterIncrement.
func DecodeCounterIncrement(data []byte) (types.Type, int64, error) {
	if len(data) != 9 {
		return 0, 0, fmt.Errorf("invalid counter increment payload of %d bytes", len(data))
	}
	return types.Type(data[0]), int64(binary.BigEndian.Uint64(data[1:])), nil
}

// EncodeClear is the payload of ActionClear.
func EncodeClear(clearSpace bool) []byte {
	if clearSpace {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeClear is the counterpart of EncodeClear, an empty payload means false.
func DecodeClear(data []byte) bool {
	return len(data) > 0 && data[0] != 0
}
