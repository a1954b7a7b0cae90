package wsserver

import (
	v2 "github.com/cobaltfleet/fgcore/wsprotocol/v2"

	"github.com/cobaltfleet/fgcore/wsprotocol"
)

// SendPlaybackState delivers a targeted PlaybackState reply to one
// client, the response half of §4.9's "PlaybackState responses
// (targeted by request_id)". It is a no-op if the client has since
// disconnected.
func (s *Server) SendPlaybackState(id ClientID, state wsprotocol.PlaybackState) {
	v, ok := s.clients.Load(id)
	if !ok {
		return
	}
	frame := v2.EncodePlaybackState(state)
	s.sendBinaryV2(v.(*client), frame, nil)
}

// BroadcastPlaybackState implements playback.Broadcaster: every
// connected client receives the new state, the periodic-broadcast half
// of §4.9's outputs.
func (s *Server) BroadcastPlaybackState(state wsprotocol.PlaybackState) {
	frame := v2.EncodePlaybackState(state)
	s.clients.Range(func(_, val any) bool {
		val.(*client).enqueueBinary(frame, nil)
		return true
	})
}
