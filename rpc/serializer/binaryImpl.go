package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/gstore/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasValue  byte = 1 << 0
	hasNumber byte = 1 << 1
	hasOk     byte = 1 << 2
	hasErr    byte = 1 << 3
	hasMeta   byte = 1 << 4
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Name() string { return "binary" }

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, b.sizeBytes(msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags byte
	var flags byte = 0

	// Set position for writing
	pos := 2 // Start after MsgType and flags

	// Handle Value
	if msg.Value != nil {
		flags |= hasValue
		pos = putBytes(result, pos, msg.Value)
	}

	// Handle Number
	if msg.Number > 0 {
		flags |= hasNumber
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Number)
		pos += 8
	}

	// Handle Ok (the flag is the value)
	if msg.Ok {
		flags |= hasOk
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		pos = putBytes(result, pos, []byte(msg.Err))
	}

	// Handle Meta
	if msg.Meta != nil {
		flags |= hasMeta
		putBytes(result, pos, msg.Meta)
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type and flags
	msg.MsgType = common.MessageType(data[0])
	flags := data[1]

	// Initialize read position
	pos := 2
	var err error

	// Read Value if present
	msg.Value = nil
	if flags&hasValue != 0 {
		if msg.Value, pos, err = readBytes(data, pos, "value"); err != nil {
			return err
		}
	}

	// Read Number if present
	msg.Number = 0
	if flags&hasNumber != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for number")
		}
		msg.Number = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}

	msg.Ok = flags&hasOk != 0

	// Read Err if present
	msg.Err = ""
	if flags&hasErr != 0 {
		var errBytes []byte
		if errBytes, pos, err = readBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(errBytes)
	}

	// Read Meta if present
	msg.Meta = nil
	if flags&hasMeta != 0 {
		if msg.Meta, _, err = readBytes(data, pos, "meta"); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	// Add sizes for fields that require length encoding
	if msg.Value != nil {
		size += 4 + len(msg.Value) // 4 bytes for length + value bytes
	}
	if msg.Number > 0 {
		size += 8 // uint64
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err) // 4 bytes for length + error string
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta) // 4 bytes for length + meta bytes
	}

	return size
}

// putBytes writes the length prefixed b at pos and returns the next position
func putBytes(dst []byte, pos int, b []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(b)))
	pos += 4
	copy(dst[pos:pos+len(b)], b)
	return pos + len(b)
}

// readBytes reads a length prefixed field at pos. The result is a copy and
// never nil, so an empty field survives the round trip as an empty slice.
func readBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4

	if n < 0 || pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	out := make([]byte, n)
	copy(out, data[pos:pos+n])
	return out, pos + n, nil
}
