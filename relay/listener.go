package relay

import (
	"github.com/cobaltfleet/fgcore/relay/sfu"
	"github.com/cobaltfleet/fgcore/wsprotocol"
)

// SessionListener receives playback control requests decoded from a
// participant's control-plane stream, the relay's counterpart to
// wsserver.ServerListener.
type SessionListener interface {
	OnPlaybackControlRequest(participant sfu.ParticipantIdentity, req wsprotocol.PlaybackControlRequest)
}

// NoopSessionListener implements SessionListener with no-op callbacks.
type NoopSessionListener struct{}

func (NoopSessionListener) OnPlaybackControlRequest(sfu.ParticipantIdentity, wsprotocol.PlaybackControlRequest) {
}
