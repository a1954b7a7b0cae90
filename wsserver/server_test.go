package wsserver

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/wsprotocol"
)

func newTestServer() *Server {
	return NewServer(
		WithLogger(zerolog.Nop()),
		WithCapabilities(CapabilityTime, CapabilityParameters, CapabilityServices, CapabilityConnectionGraph),
	)
}

func TestAddChannelsAssignsWireIDsAndAdvertises(t *testing.T) {
	s := newTestServer()
	desc := fgcore.ChannelDescriptor{ID: 1, Topic: "/robot/pose", MessageEncoding: "json"}
	c := newClient(1, nil, s, 4)
	s.clients.Store(c.id, c)

	got := s.AddChannels([]fgcore.ChannelDescriptor{desc})
	assert.Nil(t, got, "wsserver never auto-subscribes on AddChannels")

	s.mu.Lock()
	ac, ok := s.channelsByID[desc.ID]
	s.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, uint32(1), ac.serverID)

	require.Len(t, c.send, 1)
	frame := <-c.send
	assert.True(t, frame.text)
	assert.Contains(t, string(frame.data), `"op":"advertise"`)
}

func TestAddChannelsIgnoresDuplicateDescriptor(t *testing.T) {
	s := newTestServer()
	desc := fgcore.ChannelDescriptor{ID: 7, Topic: "/dup", MessageEncoding: "json"}
	s.AddChannels([]fgcore.ChannelDescriptor{desc})
	s.AddChannels([]fgcore.ChannelDescriptor{desc})

	s.mu.Lock()
	n := len(s.channelsByID)
	s.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestLogWithNoSubscribersIsANoop(t *testing.T) {
	s := newTestServer()
	ctx := fgcore.NewContext(zerolog.Nop())
	ctx.AddSink(s)
	ch, err := fgcore.NewChannel(ctx, "/robot/pose").WithMessageEncoding("json").Build()
	require.NoError(t, err)

	err = s.Log(ch, []byte("payload"), fgcore.Metadata{LogTime: 1})
	assert.NoError(t, err)
}

func TestSubscriptionBookkeepingOnClient(t *testing.T) {
	c := &client{
		subscriptions: make(map[fgcore.ChannelID]uint32),
		subsByID:      make(map[uint32]fgcore.ChannelID),
	}

	assert.True(t, c.addSubscription(10, 1))
	assert.False(t, c.addSubscription(10, 2), "subscription id reuse must be rejected")
	assert.False(t, c.addSubscription(11, 1), "double subscribe to the same channel must be rejected")

	id, ok := c.subscriptionID(1)
	assert.True(t, ok)
	assert.Equal(t, uint32(10), id)

	ch, ok := c.removeSubscriptionByID(10)
	assert.True(t, ok)
	assert.Equal(t, fgcore.ChannelID(1), ch)
	assert.False(t, c.isSubscribed(1))
}

func TestRemoveChannelUnadvertisesAndDropsSubscriptions(t *testing.T) {
	s := newTestServer()
	desc := fgcore.ChannelDescriptor{ID: 3, Topic: "/t", MessageEncoding: "json"}
	s.AddChannels([]fgcore.ChannelDescriptor{desc})
	c := newClient(1, nil, s, 4)
	s.clients.Store(c.id, c)
	require.True(t, c.addSubscription(5, desc.ID))

	s.RemoveChannel(desc)

	s.mu.Lock()
	_, stillThere := s.channelsByID[desc.ID]
	s.mu.Unlock()
	assert.False(t, stillThere)
	assert.False(t, c.isSubscribed(desc.ID))

	require.Len(t, c.send, 1)
	frame := <-c.send
	assert.Contains(t, string(frame.data), `"op":"unadvertise"`)
}

func TestParameterStoreGetSetRoundTrip(t *testing.T) {
	ps := NewParameterStore()
	ps.Set([]wsprotocol.Parameter{{Name: "exposure", Value: 42.0, Type: "float64"}})

	got := ps.Get([]string{"exposure", "missing"})
	require.Len(t, got, 1)
	assert.Equal(t, "exposure", got[0].Name)
}
