package wsserver

import (
	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/wsprotocol"
)

// ClientID identifies one connected WebSocket peer for the lifetime of
// its connection.
type ClientID uint32

// ServerListener receives callbacks from the server's event loop.
// Implementations must not block: any long-running work must be
// spawned onto a worker and the callback must return synchronously,
// matching the contract called out for listener callbacks generally.
type ServerListener interface {
	// OnSubscribe fires once per (client, channel) pair, the first
	// time that pair is established — a resubscribe of an already
	// subscribed channel produces no additional call.
	OnSubscribe(client ClientID, channel fgcore.ChannelID)

	// OnUnsubscribe fires on explicit unsubscribe, client disconnect,
	// or removal of the channel, and only for pairs that were actually
	// active.
	OnUnsubscribe(client ClientID, channel fgcore.ChannelID)

	// OnPlaybackControlRequest routes a parsed playback request to the
	// application's playback controller. The listener is responsible
	// for calling Server.SendPlaybackState with the controller's reply.
	OnPlaybackControlRequest(client ClientID, req wsprotocol.PlaybackControlRequest)
}

// NoopListener implements ServerListener with no-op callbacks, for
// servers that don't need subscription or playback notifications.
type NoopListener struct{}

func (NoopListener) OnSubscribe(ClientID, fgcore.ChannelID)   {}
func (NoopListener) OnUnsubscribe(ClientID, fgcore.ChannelID) {}
func (NoopListener) OnPlaybackControlRequest(ClientID, wsprotocol.PlaybackControlRequest) {
}
