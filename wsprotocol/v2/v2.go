// Package v2 is the current Foxglove ws-protocol binary opcode table.
// It shares every wire struct and JSON codec with v1
// (github.com/cobaltfleet/fgcore/wsprotocol); only the opcode-to-message
// assignment differs, confined here per the "two protocol versions
// coexist" design note.
package v2

import (
	"github.com/cobaltfleet/fgcore/wsprotocol"
)

// Client → server binary opcodes.
const (
	OpMessageData            byte = 1
	OpServiceCallRequest     byte = 2
	OpPlaybackControlRequest byte = 3
	OpSubscribe              byte = 4
	OpUnsubscribe            byte = 5
)

// Server → client binary opcodes.
const (
	OpServerMessageData        byte = 1
	OpTime                     byte = 2
	OpServiceCallResponse      byte = 3
	OpFetchAssetResponse       byte = 4
	OpPlaybackState            byte = 5
)

// DecodeClientBinary dispatches a client→server binary payload
// (opcode byte included) to its typed body.
func DecodeClientBinary(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, wsprotocol.ErrEmptyBinaryMessage{}
	}
	op, body := payload[0], payload[1:]
	switch op {
	case OpMessageData:
		return wsprotocol.DecodeMessageDataBody(body)
	case OpServiceCallRequest:
		return wsprotocol.DecodeServiceCallBody(body)
	case OpPlaybackControlRequest:
		return wsprotocol.DecodePlaybackControlRequestBody(body)
	case OpSubscribe, OpUnsubscribe:
		return nil, wsprotocol.InvalidOpcodeError{Opcode: op} // binary Subscribe/Unsubscribe bodies are not specified at the byte level; issue them as JSON instead
	default:
		return nil, wsprotocol.InvalidOpcodeError{Opcode: op}
	}
}

// DecodeServerBinary dispatches a server→client binary payload to its
// typed body.
func DecodeServerBinary(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, wsprotocol.ErrEmptyBinaryMessage{}
	}
	op, body := payload[0], payload[1:]
	switch op {
	case OpServerMessageData:
		return wsprotocol.DecodeMessageDataBody(body)
	case OpTime:
		return wsprotocol.DecodeTimeBody(body)
	case OpServiceCallResponse:
		return wsprotocol.DecodeServiceCallBody(body)
	case OpFetchAssetResponse:
		return wsprotocol.DecodeFetchAssetResponseBody(body)
	case OpPlaybackState:
		return wsprotocol.DecodePlaybackStateBody(body)
	default:
		return nil, wsprotocol.InvalidOpcodeError{Opcode: op}
	}
}

// EncodeMessageData prepends the server→client MessageData opcode.
func EncodeMessageData(m wsprotocol.MessageData) []byte {
	return append([]byte{OpServerMessageData}, wsprotocol.EncodeMessageDataBody(m)...)
}

// EncodeTime prepends the Time opcode.
func EncodeTime(t wsprotocol.Time) []byte {
	return append([]byte{OpTime}, wsprotocol.EncodeTimeBody(t)...)
}

// EncodeServiceCallRequest prepends the client→server ServiceCallRequest opcode.
func EncodeServiceCallRequest(m wsprotocol.ServiceCall) []byte {
	return append([]byte{OpServiceCallRequest}, wsprotocol.EncodeServiceCallBody(m)...)
}

// EncodeServiceCallResponse prepends the server→client ServiceCallResponse opcode.
func EncodeServiceCallResponse(m wsprotocol.ServiceCall) []byte {
	return append([]byte{OpServiceCallResponse}, wsprotocol.EncodeServiceCallBody(m)...)
}

// EncodeFetchAssetResponse prepends the FetchAssetResponse opcode.
func EncodeFetchAssetResponse(r wsprotocol.FetchAssetResponse) []byte {
	return append([]byte{OpFetchAssetResponse}, wsprotocol.EncodeFetchAssetResponseBody(r)...)
}

// EncodePlaybackControlRequest prepends the PlaybackControlRequest opcode.
func EncodePlaybackControlRequest(r wsprotocol.PlaybackControlRequest) []byte {
	return append([]byte{OpPlaybackControlRequest}, wsprotocol.EncodePlaybackControlRequestBody(r)...)
}

// EncodePlaybackState prepends the PlaybackState opcode.
func EncodePlaybackState(s wsprotocol.PlaybackState) []byte {
	return append([]byte{OpPlaybackState}, wsprotocol.EncodePlaybackStateBody(s)...)
}
