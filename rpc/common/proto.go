package common

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/raft"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Value  []byte `json:"value,omitempty"`  // Used for: Command and Read (request and response), Snowflake (response)
	Number uint64 `json:"number,omitempty"` // Used for: Snowflake (request, number of ids), Command (response, return code)

	// Response only fields
	Ok  bool   `json:"ok,omitempty"`  // Used for: Command responses (status of the envelope)
	Err string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: Info (response)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewCommandRequest creates a new request carrying a serialized raft.StoreCommand
func NewCommandRequest(cmd []byte) *Message {
	return &Message{
		MsgType: MsgTCommand,
		Value:   cmd,
	}
}

// NewCommandResponse creates a new response from the {status, message} envelope
func NewCommandResponse(resp raft.CommandResponse) *Message {
	return &Message{
		MsgType: MsgTCommand,
		Ok:      resp.Status,
		Err:     resp.Message,
		Number:  uint64(resp.Code),
		Value:   resp.Data,
	}
}

// CommandResponse returns the envelope carried by a command response
func (m *Message) CommandResponse() raft.CommandResponse {
	return raft.CommandResponse{
		Status:  m.Ok,
		Message: m.Err,
		Code:    backend.RetCode(m.Number),
		Data:    m.Value,
	}
}

// NewReadRequest creates a new request carrying an encoded raft.ReadRequest
func NewReadRequest(req []byte) *Message {
	return &Message{
		MsgType: MsgTRead,
		Value:   req,
	}
}

// NewReadResponse creates a new response carrying an encoded raft.ReadResult
func NewReadResponse(res []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTRead,
		Value:   res,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewSnowflakeRequest creates a new request for n snowflake ids
func NewSnowflakeRequest(n uint64) *Message {
	return &Message{
		MsgType: MsgTSnowflake,
		Number:  n,
	}
}

// NewSnowflakeResponse creates a new response with the generated ids, each
// encoded as 8 bytes big endian
func NewSnowflakeResponse(ids []int64, err error) *Message {
	msg := &Message{
		MsgType: MsgTSnowflake,
	}
	if err != nil {
		msg.Err = err.Error()
		return msg
	}
	msg.Value = make([]byte, 8*len(ids))
	for i, v := range ids {
		binary.BigEndian.PutUint64(msg.Value[8*i:], uint64(v))
	}
	return msg
}

// SnowflakeIDs decodes the ids of a snowflake response
func (m *Message) SnowflakeIDs() ([]int64, error) {
	if len(m.Value)%8 != 0 {
		return nil, fmt.Errorf("invalid snowflake response length %d", len(m.Value))
	}
	ids := make([]int64, len(m.Value)/8)
	for i := range ids {
		ids[i] = int64(binary.BigEndian.Uint64(m.Value[8*i:]))
	}
	return ids, nil
}

// NewInfoRequest creates a new request for the provider info of a shard
func NewInfoRequest() *Message {
	return &Message{
		MsgType: MsgTInfo,
	}
}

// NewInfoResponse creates a new Info response, meta is the JSON encoded ShardInfo
func NewInfoResponse(meta []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTInfo,
		Meta:    meta,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Shard Info
// --------------------------------------------------------------------------

// ShardInfo describes the provider served by a shard
type ShardInfo struct {
	ShardID       uint64   `json:"shard_id"`
	Backend       string   `json:"backend"`
	Graph         string   `json:"graph"`
	DriverVersion string   `json:"driver_version"`
	StoredVersion string   `json:"stored_version,omitempty"`
	Initialized   bool     `json:"initialized"`
	Replicated    bool     `json:"replicated"`
	Features      []string `json:"features,omitempty"`
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTCommand:
		return "command"
	case MsgTRead:
		return "read"
	case MsgTSnowflake:
		return "snowflake"
	case MsgTInfo:
		return "info"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "command":
		*t = MsgTCommand
	case "read":
		*t = MsgTRead
	case "snowflake":
		*t = MsgTSnowflake
	case "info":
		*t = MsgTInfo
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	case "unknown":
		*t = MsgTUnknown
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Store operations

	MsgTCommand // Submit a StoreCommand to the node of a shard
	MsgTRead    // Answer a ReadRequest from the state machine of a shard

	// Server operations

	MsgTSnowflake // Generate snowflake ids on the server
	MsgTInfo      // Describe the provider of a shard
)
