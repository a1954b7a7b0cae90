// Package v1 is the legacy Foxglove ws-protocol binary opcode table.
// It predates ranged playback and asset fetching, and never gained
// binary Subscribe/Unsubscribe messages (those remain JSON-only on
// this version); servers speaking v1 reject PlaybackControlRequest,
// PlaybackState and FetchAssetResponse as invalid opcodes rather than
// decoding them.
package v1

import (
	"github.com/cobaltfleet/fgcore/wsprotocol"
)

// Client → server binary opcodes.
const (
	OpMessageData        byte = 1
	OpServiceCallRequest byte = 2
)

// Server → client binary opcodes.
const (
	OpServerMessageData   byte = 1
	OpTime                byte = 2
	OpServiceCallResponse byte = 3
)

// DecodeClientBinary dispatches a client→server binary payload using
// the v1 opcode table.
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
	default:
		return nil, wsprotocol.InvalidOpcodeError{Opcode: op}
	}
}

// DecodeServerBinary dispatches a server→client binary payload using
// the v1 opcode table.
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
	default:
		return nil, wsprotocol.InvalidOpcodeError{Opcode: op}
	}
}

// EncodeMessageData prepends the v1 server→client MessageData opcode.
func EncodeMessageData(m wsprotocol.MessageData) []byte {
	return append([]byte{OpServerMessageData}, wsprotocol.EncodeMessageDataBody(m)...)
}

// EncodeTime prepends the v1 Time opcode.
func EncodeTime(t wsprotocol.Time) []byte {
	return append([]byte{OpTime}, wsprotocol.EncodeTimeBody(t)...)
}

// EncodeServiceCallRequest prepends the v1 client→server ServiceCallRequest opcode.
func EncodeServiceCallRequest(m wsprotocol.ServiceCall) []byte {
	return append([]byte{OpServiceCallRequest}, wsprotocol.EncodeServiceCallBody(m)...)
}

// EncodeServiceCallResponse prepends the v1 server→client ServiceCallResponse opcode.
func EncodeServiceCallResponse(m wsprotocol.ServiceCall) []byte {
	return append([]byte{OpServiceCallResponse}, wsprotocol.EncodeServiceCallBody(m)...)
}
