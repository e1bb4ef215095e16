package backend

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Actions
// --------------------------------------------------------------------------

// Action is what a mutation does with its entry. The codes are persisted
// inside replicated commands and must not change.
type Action uint8

const (
	ActionInsert          Action = 1 // put the entry, replacing an existing one
	ActionAppend          Action = 2 // merge the columns into the stored entry
	ActionEliminate       Action = 3 // remove the named columns from the stored entry
	ActionDelete          Action = 4 // remove the entry
	ActionUpdateIfPresent Action = 5 // put the entry only if it already exists
	ActionUpdateIfAbsent  Action = 6 // put the entry only if it does not exist
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "INSERT"
	case ActionAppend:
		return "APPEND"
	case ActionEliminate:
		return "ELIMINATE"
	case ActionDelete:
		return "DELETE"
	case ActionUpdateIfPresent:
		return "UPDATE_IF_PRESENT"
	case ActionUpdateIfAbsent:
		return "UPDATE_IF_ABSENT"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(a))
	}
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a >= ActionInsert && a <= ActionUpdateIfAbsent
}

// --------------------------------------------------------------------------
// Mutation
// --------------------------------------------------------------------------

// MutationItem is one {action, entry} pair of a Mutation.
type MutationItem struct {
	Action Action
	Entry  *Entry
}

// Mutation is an ordered batch of actions. It is built by a caller, handed
// once to BackendStore.Mutate and then discarded.
type Mutation struct {
	items []MutationItem
}

// NewMutation creates an empty mutation.
func NewMutation() *Mutation {
	return &Mutation{}
}

// Add appends an action and returns m for chaining.
func (m *Mutation) Add(action Action, entry *Entry) *Mutation {
	m.items = append(m.items, MutationItem{Action: action, Entry: entry})
	return m
}

// Items returns the pairs in insertion order.
func (m *Mutation) Items() []MutationItem {
	return m.items
}

// Len returns the number of pairs.
func (m *Mutation) Len() int {
	return len(m.items)
}

// Validate checks every item for a known action and a usable entry.
func (m *Mutation) Validate() error {
	for i, item := range m.items {
		if !item.Action.Valid() {
			return Errorf(RetCInvalidOperation, "mutation item %d has unknown action %d", i, item.Action)
		}
		if item.Entry == nil || item.Entry.ID == nil {
			return Errorf(RetCInvalidOperation, "mutation item %d (%s) has no entry id", i, item.Action)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Binary encoding
// --------------------------------------------------------------------------

// MarshalBinary encodes the mutation as
//
//	count | (action(1) | len | entry)*
func (m *Mutation) MarshalBinary() ([]byte, error) {
	buf := binary.AppendUvarint(make([]byte, 0, 64), uint64(len(m.items)))
	for i, item := range m.items {
		if item.Entry == nil {
			return nil, fmt.Errorf("mutation item %d has no entry", i)
		}
		raw, err := item.Entry.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("mutation item %d: %w", i, err)
		}
		buf = append(buf, byte(item.Action))
		buf = appendBytes(buf, raw)
	}
	return buf, nil
}

// UnmarshalBinary decodes a mutation produced by MarshalBinary.
func (m *Mutation) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	n, err := r.readUvarint()
	if err != nil {
		return fmt.Errorf("invalid mutation size: %w", err)
	}
	if n > uint64(r.remaining()) {
		return fmt.Errorf("mutation size %d exceeds data", n)
	}

	items := make([]MutationItem, 0, n)
	for i := uint64(0); i < n; i++ {
		action, err := r.readByte()
		if err != nil {
			return fmt.Errorf("invalid mutation item %d: %w", i, err)
		}
		raw, err := r.readBytes()
		if err != nil {
			return fmt.Errorf("invalid mutation item %d: %w", i, err)
		}
		entry, err := DecodeEntry(raw)
		if err != nil {
			return fmt.Errorf("invalid mutation item %d: %w", i, err)
		}
		items = append(items, MutationItem{Action: Action(action), Entry: entry})
	}
	if r.remaining() != 0 {
		return fmt.Errorf("trailing %d bytes after mutation", r.remaining())
	}

	m.items = items
	return nil
}
