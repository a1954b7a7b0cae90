package wsserver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cobaltfleet/fgcore/wsprotocol"
)

func TestBroadcastPlaybackStateWithNoClientsIsANoop(t *testing.T) {
	s := newTestServer()
	assert.NotPanics(t, func() {
		s.BroadcastPlaybackState(wsprotocol.PlaybackState{Status: wsprotocol.PlaybackStatusPlaying})
	})
}

func TestSendPlaybackStateToUnknownClientIsANoop(t *testing.T) {
	s := newTestServer()
	assert.NotPanics(t, func() {
		s.SendPlaybackState(ClientID(9999), wsprotocol.PlaybackState{Status: wsprotocol.PlaybackStatusPaused})
	})
}
