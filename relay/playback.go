package relay

import (
	"github.com/cobaltfleet/fgcore/relay/sfu"
	"github.com/cobaltfleet/fgcore/wsprotocol"
	v2 "github.com/cobaltfleet/fgcore/wsprotocol/v2"
)

// SendPlaybackState delivers a targeted PlaybackState reply to one
// participant over the control plane, the response half of §4.9's
// "PlaybackState responses (targeted by request_id)". It is a no-op
// without a live session or once the participant has disconnected.
func (s *Sink) SendPlaybackState(participant sfu.ParticipantIdentity, state wsprotocol.PlaybackState) {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()
	if sess == nil {
		return
	}
	sess.muParticipants.Lock()
	cw, ok := sess.controlWriters[participant]
	sess.muParticipants.Unlock()
	if !ok {
		return
	}
	cw.queue <- wsprotocol.EncodeFrame(wsprotocol.StreamOpBinary, v2.EncodePlaybackState(state))
}

// BroadcastPlaybackState implements playback.Broadcaster: every
// connected participant's control stream receives the new state.
func (s *Sink) BroadcastPlaybackState(state wsprotocol.PlaybackState) {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()
	if sess == nil {
		return
	}
	frame := wsprotocol.EncodeFrame(wsprotocol.StreamOpBinary, v2.EncodePlaybackState(state))
	sess.broadcastControl(frame)
}
