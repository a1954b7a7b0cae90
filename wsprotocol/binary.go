package wsprotocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrEmptyBinaryMessage is returned when a zero-length payload reaches
// the binary message parser; there is no opcode byte to dispatch on.
type ErrEmptyBinaryMessage struct{}

func (ErrEmptyBinaryMessage) Error() string { return "wsprotocol: empty binary message" }

// InvalidOpcodeError is returned when a payload's leading byte does not
// match any opcode in the active protocol version's table. On reliable
// streams the caller must disconnect the peer after this error.
type InvalidOpcodeError struct{ Opcode byte }

func (e InvalidOpcodeError) Error() string {
	return fmt.Sprintf("wsprotocol: invalid binary opcode 0x%02x", e.Opcode)
}

// MessageData is the server → client binary message carrying one
// logged message: `channel_id(u64 LE) · log_time(u64 LE) · payload[rest]`.
type MessageData struct {
	ChannelID uint64
	LogTime   uint64
	Payload   []byte
}

// EncodeMessageDataBody serializes the body (excluding the leading
// opcode byte, which a version package prepends).
func EncodeMessageDataBody(m MessageData) []byte {
	out := make([]byte, 16+len(m.Payload))
	binary.LittleEndian.PutUint64(out[0:8], m.ChannelID)
	binary.LittleEndian.PutUint64(out[8:16], m.LogTime)
	copy(out[16:], m.Payload)
	return out
}

// DecodeMessageDataBody parses a MessageData body.
func DecodeMessageDataBody(body []byte) (MessageData, error) {
	if len(body) < 16 {
		return MessageData{}, fmt.Errorf("wsprotocol: MessageData body too short")
	}
	return MessageData{
		ChannelID: binary.LittleEndian.Uint64(body[0:8]),
		LogTime:   binary.LittleEndian.Uint64(body[8:16]),
		Payload:   append([]byte{}, body[16:]...),
	}, nil
}

// Time is the server → client binary message: `timestamp_ns(u64 LE)`.
type Time struct {
	TimestampNs uint64
}

func EncodeTimeBody(t Time) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, t.TimestampNs)
	return out
}

func DecodeTimeBody(body []byte) (Time, error) {
	if len(body) < 8 {
		return Time{}, fmt.Errorf("wsprotocol: Time body too short")
	}
	return Time{TimestampNs: binary.LittleEndian.Uint64(body[0:8])}, nil
}

// ServiceCall is the shared layout of ServiceCallRequest and
// ServiceCallResponse: `service_id(u32 LE) · call_id(u32 LE) ·
// encoding_len(u32 LE) · encoding[len] · payload[rest]`.
type ServiceCall struct {
	ServiceID uint32
	CallID    uint32
	Encoding  string
	Payload   []byte
}

func EncodeServiceCallBody(m ServiceCall) []byte {
	out := make([]byte, 12+len(m.Encoding)+len(m.Payload))
	binary.LittleEndian.PutUint32(out[0:4], m.ServiceID)
	binary.LittleEndian.PutUint32(out[4:8], m.CallID)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(m.Encoding)))
	n := 12
	n += copy(out[n:], m.Encoding)
	copy(out[n:], m.Payload)
	return out
}

func DecodeServiceCallBody(body []byte) (ServiceCall, error) {
	if len(body) < 12 {
		return ServiceCall{}, fmt.Errorf("wsprotocol: ServiceCall body too short")
	}
	serviceID := binary.LittleEndian.Uint32(body[0:4])
	callID := binary.LittleEndian.Uint32(body[4:8])
	encLen := binary.LittleEndian.Uint32(body[8:12])
	if uint32(len(body)-12) < encLen {
		return ServiceCall{}, fmt.Errorf("wsprotocol: ServiceCall encoding length exceeds body")
	}
	encoding := string(body[12 : 12+encLen])
	payload := append([]byte(nil), body[12+encLen:]...)
	return ServiceCall{ServiceID: serviceID, CallID: callID, Encoding: encoding, Payload: payload}, nil
}

// FetchAssetStatus reports whether an asset fetch succeeded.
type FetchAssetStatus uint8

const (
	FetchAssetStatusSuccess FetchAssetStatus = 0
	FetchAssetStatusError   FetchAssetStatus = 1
)

// FetchAssetResponse is the server → client binary message answering a
// client FetchAsset request: `request_id(u32 LE) · status(u8) ·
// error_len(u32 LE) · error[len] · data[rest]`. Its layout is not
// pinned by name in the wire-format section the way MessageData/Time/
// ServiceCall/PlaybackControlRequest/PlaybackState are; it follows the
// same length-prefixed-string convention those use.
type FetchAssetResponse struct {
	RequestID uint32
	Status    FetchAssetStatus
	Error     string
	Data      []byte
}

func EncodeFetchAssetResponseBody(r FetchAssetResponse) []byte {
	out := make([]byte, 9+len(r.Error)+len(r.Data))
	binary.LittleEndian.PutUint32(out[0:4], r.RequestID)
	out[4] = byte(r.Status)
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(r.Error)))
	n := 9
	n += copy(out[n:], r.Error)
	copy(out[n:], r.Data)
	return out
}

func DecodeFetchAssetResponseBody(body []byte) (FetchAssetResponse, error) {
	if len(body) < 9 {
		return FetchAssetResponse{}, fmt.Errorf("wsprotocol: FetchAssetResponse body too short")
	}
	r := FetchAssetResponse{
		RequestID: binary.LittleEndian.Uint32(body[0:4]),
		Status:    FetchAssetStatus(body[4]),
	}
	errLen := binary.LittleEndian.Uint32(body[5:9])
	if uint32(len(body)-9) < errLen {
		return FetchAssetResponse{}, fmt.Errorf("wsprotocol: FetchAssetResponse error length exceeds body")
	}
	r.Error = string(body[9 : 9+errLen])
	r.Data = append([]byte(nil), body[9+errLen:]...)
	return r, nil
}

// PlaybackCommand selects Play or Pause in a PlaybackControlRequest.
type PlaybackCommand uint8

const (
	PlaybackCommandPause PlaybackCommand = 0
	PlaybackCommandPlay  PlaybackCommand = 1
)

// PlaybackControlRequest is the client → server binary message:
// `command(u8) · playback_speed(f32 LE) · seek_present(u8) ·
// [seek_time(u64 LE)] · request_id_len(u32 LE) · request_id[len]`.
type PlaybackControlRequest struct {
	Command       PlaybackCommand
	PlaybackSpeed float32
	SeekTime      *uint64
	RequestID     string
}

func EncodePlaybackControlRequestBody(r PlaybackControlRequest) []byte {
	size := 1 + 4 + 1 + 4 + len(r.RequestID)
	if r.SeekTime != nil {
		size += 8
	}
	out := make([]byte, size)
	out[0] = byte(r.Command)
	binary.LittleEndian.PutUint32(out[1:5], math.Float32bits(r.PlaybackSpeed))
	n := 5
	if r.SeekTime != nil {
		out[n] = 1
		n++
		binary.LittleEndian.PutUint64(out[n:n+8], *r.SeekTime)
		n += 8
	} else {
		out[n] = 0
		n++
	}
	binary.LittleEndian.PutUint32(out[n:n+4], uint32(len(r.RequestID)))
	n += 4
	copy(out[n:], r.RequestID)
	return out
}

func DecodePlaybackControlRequestBody(body []byte) (PlaybackControlRequest, error) {
	if len(body) < 6 {
		return PlaybackControlRequest{}, fmt.Errorf("wsprotocol: PlaybackControlRequest body too short")
	}
	r := PlaybackControlRequest{Command: PlaybackCommand(body[0])}
	r.PlaybackSpeed = math.Float32frombits(binary.LittleEndian.Uint32(body[1:5]))
	n := 5
	seekPresent := body[n]
	n++
	if seekPresent != 0 {
		if len(body) < n+8 {
			return PlaybackControlRequest{}, fmt.Errorf("wsprotocol: PlaybackControlRequest missing seek_time")
		}
		t := binary.LittleEndian.Uint64(body[n : n+8])
		r.SeekTime = &t
		n += 8
	}
	if len(body) < n+4 {
		return PlaybackControlRequest{}, fmt.Errorf("wsprotocol: PlaybackControlRequest missing request_id length")
	}
	idLen := binary.LittleEndian.Uint32(body[n : n+4])
	n += 4
	if uint32(len(body)-n) < idLen {
		return PlaybackControlRequest{}, fmt.Errorf("wsprotocol: PlaybackControlRequest request_id length exceeds body")
	}
	r.RequestID = string(body[n : n+int(idLen)])
	return r, nil
}

// PlaybackStatus mirrors the controller's Playback state machine states.
type PlaybackStatus uint8

const (
	PlaybackStatusPaused PlaybackStatus = iota
	PlaybackStatusPlaying
	PlaybackStatusBuffering
	PlaybackStatusEnded
)

// PlaybackState is the server → client binary message:
// `status(u8) · playback_speed(f32 LE) · did_seek(u8) ·
// current_time(u64 LE) · request_id_present(u8) ·
// [request_id_len(u32) · request_id[len]]`.
type PlaybackState struct {
	Status        PlaybackStatus
	PlaybackSpeed float32
	DidSeek       bool
	CurrentTime   uint64
	RequestID     *string
}

func EncodePlaybackStateBody(s PlaybackState) []byte {
	size := 1 + 4 + 1 + 8 + 1
	if s.RequestID != nil {
		size += 4 + len(*s.RequestID)
	}
	out := make([]byte, size)
	out[0] = byte(s.Status)
	binary.LittleEndian.PutUint32(out[1:5], math.Float32bits(s.PlaybackSpeed))
	n := 5
	if s.DidSeek {
		out[n] = 1
	}
	n++
	binary.LittleEndian.PutUint64(out[n:n+8], s.CurrentTime)
	n += 8
	if s.RequestID != nil {
		out[n] = 1
		n++
		binary.LittleEndian.PutUint32(out[n:n+4], uint32(len(*s.RequestID)))
		n += 4
		copy(out[n:], *s.RequestID)
	} else {
		out[n] = 0
	}
	return out
}

func DecodePlaybackStateBody(body []byte) (PlaybackState, error) {
	if len(body) < 14 {
		return PlaybackState{}, fmt.Errorf("wsprotocol: PlaybackState body too short")
	}
	s := PlaybackState{Status: PlaybackStatus(body[0])}
	s.PlaybackSpeed = math.Float32frombits(binary.LittleEndian.Uint32(body[1:5]))
	n := 5
	s.DidSeek = body[n] != 0
	n++
	s.CurrentTime = binary.LittleEndian.Uint64(body[n : n+8])
	n += 8
	idPresent := body[n]
	n++
	if idPresent != 0 {
		if len(body) < n+4 {
			return PlaybackState{}, fmt.Errorf("wsprotocol: PlaybackState missing request_id length")
		}
		idLen := binary.LittleEndian.Uint32(body[n : n+4])
		n += 4
		if uint32(len(body)-n) < idLen {
			return PlaybackState{}, fmt.Errorf("wsprotocol: PlaybackState request_id length exceeds body")
		}
		id := string(body[n : n+int(idLen)])
		s.RequestID = &id
	}
	return s, nil
}
