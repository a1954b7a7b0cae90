package fgcore

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink is a minimal fgcore.Sink that records every message it
// receives and its own add/remove channel calls, for asserting fan-out
// and subscription behavior without needing a real wsserver or mcap sink.
type recordingSink struct {
	id     SinkID
	auto   bool
	wantID ChannelID
	want   bool

	mu       sync.Mutex
	messages []string
	added    []string
	removed  []string
}

func newRecordingSink(auto bool) *recordingSink {
	return &recordingSink{id: NewSinkID(), auto: auto}
}

func (s *recordingSink) ID() SinkID          { return s.id }
func (s *recordingSink) AutoSubscribe() bool { return s.auto }

func (s *recordingSink) Log(channel *Channel, payload []byte, md Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, channel.Topic())
	return nil
}

func (s *recordingSink) AddChannels(channels []ChannelDescriptor) []ChannelID {
	s.mu.Lock()
	for _, d := range channels {
		s.added = append(s.added, d.Topic)
	}
	s.mu.Unlock()
	if s.want {
		for _, d := range channels {
			if d.ID == s.wantID {
				return []ChannelID{d.ID}
			}
		}
	}
	return nil
}

func (s *recordingSink) RemoveChannel(d ChannelDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, d.Topic)
}

func (s *recordingSink) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func TestAddChannelRejectsDuplicateTopic(t *testing.T) {
	ctx := NewContext(zerolog.Nop())
	_, err := NewChannel(ctx, "/imu").WithMessageEncoding("json").Build()
	require.NoError(t, err)

	_, err = NewChannel(ctx, "/imu").WithMessageEncoding("json").Build()
	require.Error(t, err)
	var dup *DuplicateChannelError
	assert.ErrorAs(t, err, &dup)
}

func TestAutoSubscribeSinkReceivesExistingAndFutureChannels(t *testing.T) {
	ctx := NewContext(zerolog.Nop())
	sink := newRecordingSink(true)

	existing, err := NewChannel(ctx, "/existing").WithMessageEncoding("json").Build()
	require.NoError(t, err)

	ctx.AddSink(sink)
	assert.Contains(t, sink.added, "/existing")

	future, err := NewChannel(ctx, "/future").WithMessageEncoding("json").Build()
	require.NoError(t, err)

	existing.Log([]byte("a"), Metadata{})
	future.Log([]byte("b"), Metadata{})
	assert.Equal(t, 2, sink.messageCount())
}

func TestSinkWithoutAutoSubscribeReceivesNothingUntilExplicitlySubscribed(t *testing.T) {
	ctx := NewContext(zerolog.Nop())
	sink := newRecordingSink(false)
	ctx.AddSink(sink)

	ch, err := NewChannel(ctx, "/silent").WithMessageEncoding("json").Build()
	require.NoError(t, err)

	ch.Log([]byte("a"), Metadata{})
	assert.Zero(t, sink.messageCount())

	ctx.SubscribeChannels(sink.ID(), []ChannelID{ch.ID()})
	ch.Log([]byte("b"), Metadata{})
	assert.Equal(t, 1, sink.messageCount())

	ctx.UnsubscribeChannels(sink.ID(), []ChannelID{ch.ID()})
	ch.Log([]byte("c"), Metadata{})
	assert.Equal(t, 1, sink.messageCount())
}

func TestSinkAddChannelsReturnValueGrantsImmediateSubscription(t *testing.T) {
	ctx := NewContext(zerolog.Nop())
	sink := newRecordingSink(false)

	ch, err := NewChannel(ctx, "/wanted").WithMessageEncoding("json").Build()
	require.NoError(t, err)
	sink.want = true
	sink.wantID = ch.ID()

	// The sink is registered only after both channels exist, so AddSink
	// offers it both at once. AddChannels' return value alone subscribes
	// it to /wanted, with no explicit Context.SubscribeChannels call;
	// /wanted2 is not returned and stays unsubscribed.
	ch2, err := NewChannel(ctx, "/wanted2").WithMessageEncoding("json").Build()
	require.NoError(t, err)
	ctx.AddSink(sink)
	ch2.Log([]byte("x"), Metadata{})
	assert.Zero(t, sink.messageCount())

	ch.Log([]byte("y"), Metadata{})
	assert.Equal(t, 1, sink.messageCount())
}

func TestRemoveChannelNotifiesSubscribedSinks(t *testing.T) {
	ctx := NewContext(zerolog.Nop())
	sink := newRecordingSink(true)
	ctx.AddSink(sink)

	ch, err := NewChannel(ctx, "/gone").WithMessageEncoding("json").Build()
	require.NoError(t, err)

	ctx.RemoveChannel(ch.ID())
	assert.Contains(t, sink.removed, "/gone")

	_, ok := ctx.ChannelByTopic("/gone")
	assert.False(t, ok)
}

func TestRemoveSinkStopsFurtherDelivery(t *testing.T) {
	ctx := NewContext(zerolog.Nop())
	sink := newRecordingSink(true)
	ctx.AddSink(sink)

	ch, err := NewChannel(ctx, "/t").WithMessageEncoding("json").Build()
	require.NoError(t, err)
	ch.Log([]byte("a"), Metadata{})
	assert.Equal(t, 1, sink.messageCount())

	assert.True(t, ctx.RemoveSink(sink.ID()))
	ch.Log([]byte("b"), Metadata{})
	assert.Equal(t, 1, sink.messageCount())
}

func TestRemoveSinkUnknownIDReturnsFalse(t *testing.T) {
	ctx := NewContext(zerolog.Nop())
	assert.False(t, ctx.RemoveSink(NewSinkID()))
}

func TestRemoveChannelUnknownIDReturnsFalse(t *testing.T) {
	ctx := NewContext(zerolog.Nop())
	assert.False(t, ctx.RemoveChannel(ChannelID(999)))
}

func TestAddSinkRejectsDuplicateID(t *testing.T) {
	ctx := NewContext(zerolog.Nop())
	sink := newRecordingSink(true)
	assert.True(t, ctx.AddSink(sink))

	ch, err := NewChannel(ctx, "/once").WithMessageEncoding("json").Build()
	require.NoError(t, err)
	_ = ch

	// Re-adding the same sink ID must not re-invoke AddChannels or
	// disturb the existing subscription.
	addedBefore := len(sink.added)
	assert.False(t, ctx.AddSink(sink))
	assert.Equal(t, addedBefore, len(sink.added))
}

func TestChannelsReturnsAllRegisteredChannels(t *testing.T) {
	ctx := NewContext(zerolog.Nop())
	_, err := NewChannel(ctx, "/a").WithMessageEncoding("json").Build()
	require.NoError(t, err)
	_, err = NewChannel(ctx, "/b").WithMessageEncoding("json").Build()
	require.NoError(t, err)

	topics := make(map[string]bool)
	for _, ch := range ctx.Channels() {
		topics[ch.Topic()] = true
	}
	assert.True(t, topics["/a"])
	assert.True(t, topics["/b"])
}
