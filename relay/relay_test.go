package relay

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/relay/sfu"
)

func TestAutoSubscribeIsFalse(t *testing.T) {
	s := New(Config{})
	assert.False(t, s.AutoSubscribe())
}

func TestLogWithoutLiveSessionIsANoop(t *testing.T) {
	s := New(Config{})
	err := s.Log(&fgcore.Channel{}, []byte("x"), fgcore.Metadata{})
	assert.NoError(t, err)
}

func TestAddChannelsFiltersViaSinkChannelFilter(t *testing.T) {
	var seen []fgcore.ChannelDescriptor
	filter := func(d fgcore.ChannelDescriptor) bool { return d.Topic == "/keep" }
	s := New(Config{Filter: filter})
	sess := &session{
		sink:           s,
		controlWriters: make(map[sfu.ParticipantIdentity]*controlWriter),
		channels:       make(map[fgcore.ChannelID]fgcore.ChannelDescriptor),
		wireIDs:        make(map[fgcore.ChannelID]uint32),
	}
	s.current = sess

	// The live session mirrors only the channels the filter accepts.
	got := s.AddChannels([]fgcore.ChannelDescriptor{
		{ID: 1, Topic: "/keep"},
		{ID: 2, Topic: "/drop"},
	})
	assert.Nil(t, got)
	assert.Contains(t, sess.channels, fgcore.ChannelID(1))
	assert.NotContains(t, sess.channels, fgcore.ChannelID(2))
	_ = seen
}

func TestSessionSubscribeTracksFirstAndLastParticipant(t *testing.T) {
	ctx := fgcore.NewContext(zerolog.Nop())
	s := New(Config{})
	s.registry = ctx
	ctx.AddSink(s)

	ch, err := fgcore.NewChannel(ctx, "/t").WithMessageEncoding("json").Build()
	require.NoError(t, err)

	sess := &session{
		sink:          s,
		subscriptions: make(map[fgcore.ChannelID]map[sfu.ParticipantIdentity]struct{}),
	}

	sess.subscribe("alice", ch.ID())
	sess.subscribe("bob", ch.ID())
	assert.Len(t, sess.subscriptions[ch.ID()], 2)

	sess.unsubscribe("alice", ch.ID())
	assert.Len(t, sess.subscriptions[ch.ID()], 1)

	sess.unsubscribe("bob", ch.ID())
	assert.Len(t, sess.subscriptions[ch.ID()], 0)
}
