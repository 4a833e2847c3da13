// Package wire implements the field-device event protocol: a stream of
// fixed-size binary frames over TCP, one frame per parking event. There is no
// length prefix, checksum, or delimiter; frame boundaries are implicit in the
// fixed size, so a desynchronized stream cannot be recovered and must tear
// down the connection. The server never writes anything back.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FrameSize is the exact byte length of every event frame:
// type u8 | license_id u32 | timestamp u32 | latitude f32 | longitude f32,
// all little-endian.
const FrameSize = 17

// MsgType identifies the kind of parking event a frame carries.
type MsgType uint8

const (
	// TypeIdle is a heartbeat-class report; it never mutates the ledger.
	TypeIdle MsgType = 0
	// TypeStart opens a parking session.
	TypeStart MsgType = 1
	// TypeStop closes a parking session.
	TypeStop MsgType = 2

	maxMsgType = TypeStop
)

// String returns the gateway's name for the message type.
func (t MsgType) String() string {
	switch t {
	case TypeIdle:
		return "IDLE"
	case TypeStart:
		return "START"
	case TypeStop:
		return "STOP"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

var (
	// ErrUnknownType is returned for a frame whose type byte is outside the
	// known enumeration. The surrounding frame is still well-formed, so the
	// connection can keep reading.
	ErrUnknownType = errors.New("wire: unknown message type")

	// ErrShortFrame is returned when fewer than FrameSize bytes are
	// available. The stream is desynchronized beyond recovery.
	ErrShortFrame = errors.New("wire: short frame")
)

// Request is one decoded parking event.
type Request struct {
	Type      MsgType
	LicenseID uint32
	Timestamp uint32
	Latitude  float32
	Longitude float32
}

// Decode parses a single frame. The type byte is validated against the known
// enumeration; all other fields are trusted, since the upstream gateway has
// already range-checked the telemetry.
func Decode(buf []byte) (Request, error) {
	if len(buf) < FrameSize {
		return Request{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, len(buf), FrameSize)
	}

	t := MsgType(buf[0])
	if t > maxMsgType {
		return Request{}, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}

	return Request{
		Type:      t,
		LicenseID: binary.LittleEndian.Uint32(buf[1:5]),
		Timestamp: binary.LittleEndian.Uint32(buf[5:9]),
		Latitude:  math.Float32frombits(binary.LittleEndian.Uint32(buf[9:13])),
		Longitude: math.Float32frombits(binary.LittleEndian.Uint32(buf[13:17])),
	}, nil
}

// Encode serializes a request into its frame form. The server itself never
// sends frames; this is the producer side of the codec, used by gateways and
// tests.
func Encode(req Request) [FrameSize]byte {
	var buf [FrameSize]byte
	buf[0] = uint8(req.Type)
	binary.LittleEndian.PutUint32(buf[1:5], req.LicenseID)
	binary.LittleEndian.PutUint32(buf[5:9], req.Timestamp)
	binary.LittleEndian.PutUint32(buf[9:13], math.Float32bits(req.Latitude))
	binary.LittleEndian.PutUint32(buf[13:17], math.Float32bits(req.Longitude))
	return buf
}
