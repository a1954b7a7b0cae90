package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cobaltfleet/fgcore/relay/sfu"
	"github.com/cobaltfleet/fgcore/wsprotocol"
)

func TestBroadcastPlaybackStateWithoutLiveSessionIsANoop(t *testing.T) {
	s := New(Config{})
	assert.NotPanics(t, func() {
		s.BroadcastPlaybackState(wsprotocol.PlaybackState{Status: wsprotocol.PlaybackStatusPlaying})
	})
}

func TestSendPlaybackStateWithoutLiveSessionIsANoop(t *testing.T) {
	s := New(Config{})
	assert.NotPanics(t, func() {
		s.SendPlaybackState(sfu.ParticipantIdentity("alice"), wsprotocol.PlaybackState{})
	})
}
