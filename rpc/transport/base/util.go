package base

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
)

const (
	// frameHeaderSize is shard id, request id and payload length
	frameHeaderSize = 8 + 8 + 4

	// DefaultMaxFrameSize bounds the payload of a single frame if the
	// transport config sets no limit
	DefaultMaxFrameSize = 64 << 20 // 64 MB
)

// ErrFrameTooLarge is returned for frames whose announced payload exceeds the
// limit of the reading side. The payload is not read, so the connection must
// be dropped afterwards.
var ErrFrameTooLarge = errors.New("frame too large")

// writeFrame sends data as one frame to shard shardID. All integers are big
// endian:
//
//	| shard id (8) | request id (8) | length (4) | payload (length) |
func writeFrame(conn net.Conn, shardID uint64, requestID uint64, data []byte) error {
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes do not fit into a frame", ErrFrameTooLarge, len(data))
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint64(header[:8], shardID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:], uint32(len(data)))

	b := net.Buffers{header[:], data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads the next frame into buf. A payload larger than buf gets its
// own allocation, one larger than maxSize is rejected before anything is
// allocated for it. maxSize <= 0 means DefaultMaxFrameSize.
func readFrame(conn net.Conn, buf []byte, maxSize int) (shardID uint64, requestID uint64, data []byte, err error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [frameHeaderSize]byte
	if _, err = io.ReadFull(conn, header[:]); err != nil {
		return 0, 0, nil, err
	}
	shardID = binary.BigEndian.Uint64(header[:8])
	requestID = binary.BigEndian.Uint64(header[8:16])
	length := uint64(binary.BigEndian.Uint32(header[16:]))

	if length == 0 {
		return shardID, requestID, []byte{}, nil
	}
	if length > uint64(maxSize) {
		return 0, 0, nil, fmt.Errorf("%w: request %d announces %d bytes, limit is %d",
			ErrFrameTooLarge, requestID, length, maxSize)
	}

	if uint64(len(buf)) < length {
		buf = make([]byte, length)
	}
	if _, err = io.ReadFull(conn, buf[:length]); err != nil {
		return 0, 0, nil, err
	}
	return shardID, requestID, buf[:length], nil
}
