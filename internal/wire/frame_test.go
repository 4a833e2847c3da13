package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		given    []byte
		expected Request
	}{
		{
			// START, license 1000, ts 1000000, at (32.5, 35.25)
			given: []byte{
				0x01,
				0xe8, 0x03, 0x00, 0x00,
				0x40, 0x42, 0x0f, 0x00,
				0x00, 0x00, 0x02, 0x42,
				0x00, 0x00, 0x0d, 0x42,
			},
			expected: Request{Type: TypeStart, LicenseID: 1000, Timestamp: 1000000, Latitude: 32.5, Longitude: 35.25},
		},
		{
			// STOP, license 1, ts 0, at origin
			given: []byte{
				0x02,
				0x01, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00,
			},
			expected: Request{Type: TypeStop, LicenseID: 1},
		},
		{
			// IDLE heartbeat
			given: []byte{
				0x00,
				0xff, 0xff, 0xff, 0xff,
				0x01, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00,
			},
			expected: Request{Type: TypeIdle, LicenseID: 4294967295, Timestamp: 1},
		},
	}

	for _, test := range tests {
		req, err := Decode(test.given)
		assert.NoError(t, err)
		assert.Equal(t, test.expected, req)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	frame := make([]byte, FrameSize)
	frame[0] = 7

	_, err := Decode(frame)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecode_ShortFrame(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	requests := []Request{
		{Type: TypeStart, LicenseID: 1000001, Timestamp: 1751371200, Latitude: 32.001, Longitude: 35.001},
		{Type: TypeStop, LicenseID: 99999999, Timestamp: 1751374800, Latitude: 29.5, Longitude: 34.2},
		{Type: TypeIdle},
	}

	for _, req := range requests {
		frame := Encode(req)
		decoded, err := Decode(frame[:])
		assert.NoError(t, err)
		assert.Equal(t, req, decoded)
	}
}

func TestMsgTypeString(t *testing.T) {
	assert.Equal(t, "IDLE", TypeIdle.String())
	assert.Equal(t, "START", TypeStart.String())
	assert.Equal(t, "STOP", TypeStop.String())
	assert.Equal(t, "UNKNOWN(7)", MsgType(7).String())
}
