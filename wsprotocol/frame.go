// Package wsprotocol implements the byte-level framing and the
// version-independent binary message bodies of the Foxglove
// "ws-protocol" WebSocket subprotocol (foxglove.sdk.v1), shared by the
// local WebSocket server and the remote relay sink. Per-version opcode
// tables live in the v1 and v2 subpackages; this package owns only
// what both versions agree on.
package wsprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload this protocol allows; a longer
// frame is a protocol violation and the peer must be disconnected.
const MaxFrameSize = 16 << 20

// StreamOpcode tags a frame at the byte-stream framing layer. Native
// WebSocket transports carry this distinction implicitly via the
// text/binary frame type instead.
type StreamOpcode byte

const (
	StreamOpText   StreamOpcode = 1
	StreamOpBinary StreamOpcode = 2
)

// ErrFrameTooLarge is returned by ReadFrame when a frame's declared
// length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("wsprotocol: frame exceeds 16 MiB maximum")

// EncodeFrame wraps payload in the 5-byte stream frame header used by
// byte-stream transports (the remote relay's control and data planes).
// Native WebSocket connections do not use this; they send payload
// directly as a text or binary frame.
func EncodeFrame(op StreamOpcode, payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	out[0] = byte(op)
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

// ReadFrame reads exactly one frame from r: a 5-byte header (opcode +
// little-endian u32 length) followed by exactly length payload bytes.
// An EOF encountered while reading the header is returned verbatim so
// callers can distinguish a clean stream close from a mid-frame error;
// any other error, or a declared length over MaxFrameSize, is wrapped.
func ReadFrame(r io.Reader) (StreamOpcode, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("wsprotocol: read frame header: %w", err)
	}
	length := binary.LittleEndian.Uint32(header[1:5])
	if length > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("wsprotocol: read frame payload: %w", err)
	}
	return StreamOpcode(header[0]), payload, nil
}
