package fgcore

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cobaltfleet/fgcore/internal/throttle"
)

// ChannelID is a monotonic, process-wide identifier assigned when a
// channel is built. It is stable for the channel's lifetime.
type ChannelID uint64

var channelIDCounter uint64

func nextChannelID() ChannelID {
	return ChannelID(atomic.AddUint64(&channelIDCounter, 1))
}

// Channel is a typed topic bound to a Context. Application code logs
// to a Channel; the Channel fans each message out to the sinks
// currently subscribed to it.
//
// The sinks snapshot is a copy-on-write immutable slice behind an
// atomic.Value: Context mutations replace it wholesale under the
// context lock, while Log reads it with a single atomic load and no
// lock at all. This is the same pattern the teacher uses for its
// per-channel subscriber snapshots (internal/shared/connection.go,
// SubscriptionIndex) — a lock-free hot path paid for with
// copy-on-write writes that are rare relative to logs.
type Channel struct {
	id              ChannelID
	topic           string
	messageEncoding string
	schema          *Schema
	metadata        map[string]string

	sinksSnapshot atomic.Value // []Sink

	seq     uint32
	ctx     *Context
	closed  atomic.Bool
	logger  zerolog.Logger
	warnLog *throttle.Throttle
}

func newChannel(ctx *Context, topic, messageEncoding string, schema *Schema, metadata map[string]string, logger zerolog.Logger) *Channel {
	c := &Channel{
		id:              nextChannelID(),
		topic:           topic,
		messageEncoding: messageEncoding,
		schema:          schema,
		metadata:        metadata,
		ctx:             ctx,
		logger:          logger.With().Str("topic", topic).Logger(),
		warnLog:         throttle.New(throttle.DefaultWindow),
	}
	c.sinksSnapshot.Store([]Sink{})
	return c
}

// ID returns the channel's stable identifier.
func (c *Channel) ID() ChannelID { return c.id }

// Topic returns the channel's topic string.
func (c *Channel) Topic() string { return c.topic }

// MessageEncoding returns the channel's message encoding.
func (c *Channel) MessageEncoding() string { return c.messageEncoding }

// Schema returns the channel's schema, or nil for schemaless channels.
func (c *Channel) Schema() *Schema { return c.schema }

// Metadata returns the channel's static key/value metadata.
func (c *Channel) Metadata() map[string]string { return c.metadata }

// Descriptor returns the read-only view of this channel sinks consume.
func (c *Channel) Descriptor() ChannelDescriptor {
	return ChannelDescriptor{
		ID:              c.id,
		Topic:           c.topic,
		MessageEncoding: c.messageEncoding,
		Schema:          c.schema,
		Metadata:        c.metadata,
	}
}

func (c *Channel) nextSequence() uint32 {
	return atomic.AddUint32(&c.seq, 1)
}

func (c *Channel) sinks() []Sink {
	v := c.sinksSnapshot.Load()
	if v == nil {
		return nil
	}
	return v.([]Sink)
}

func (c *Channel) setSinks(sinks []Sink) {
	c.sinksSnapshot.Store(sinks)
}

// Log publishes one message to every sink currently subscribed to this
// channel. It is lock-free with respect to the owning context beyond
// the single atomic snapshot load, and safe for concurrent use by
// multiple goroutines: sequence generation is a single atomic
// fetch-add, so messages logged concurrently from different goroutines
// still receive distinct, monotonically increasing sequence numbers.
//
// A sink's error is logged through a throttled warning and never stops
// iteration over the remaining sinks — one misbehaving sink can never
// break delivery to the others.
func (c *Channel) Log(payload []byte, partial Metadata) {
	if c.closed.Load() {
		c.warnLog.Do(func() {
			c.logger.Warn().Msg("log called on closed channel; message dropped")
		})
		return
	}

	md := fill(partial, c.nextSequence)
	sinks := c.sinks()
	for _, s := range sinks {
		if err := s.Log(c, payload, Metadata{
			LogTime:     md.LogTime,
			PublishTime: &md.PublishTime,
			Sequence:    &md.Sequence,
		}); err != nil {
			c.warnLog.Do(func() {
				c.logger.Warn().Err(err).Uint64("sink_id", uint64(s.ID())).Msg("sink log failed")
			})
		}
	}
}

// Close removes the channel from its context. Subsequent Log calls
// succeed silently, emitting a throttled warning instead of delivering
// anywhere. Close is idempotent.
func (c *Channel) Close() {
	if c.ctx != nil {
		c.ctx.RemoveChannel(c.id)
	}
}

// markClosed is called by the context under its write lock; it clears
// the snapshot so in-flight Log calls racing the close observe no
// sinks, per spec §3's lifecycle note.
func (c *Channel) markClosed() {
	c.closed.Store(true)
	c.setSinks(nil)
}

// ChannelBuilder constructs a Channel bound to a Context.
type ChannelBuilder struct {
	ctx             *Context
	topic           string
	messageEncoding string
	schema          *Schema
	metadata        map[string]string
}

// NewChannel starts building a channel bound to ctx with the given topic.
func NewChannel(ctx *Context, topic string) *ChannelBuilder {
	return &ChannelBuilder{ctx: ctx, topic: topic, metadata: map[string]string{}}
}

// WithMessageEncoding sets the channel's message encoding (e.g. "protobuf", "json").
func (b *ChannelBuilder) WithMessageEncoding(encoding string) *ChannelBuilder {
	b.messageEncoding = encoding
	return b
}

// WithSchema attaches a schema to the channel being built.
func (b *ChannelBuilder) WithSchema(schema Schema) *ChannelBuilder {
	b.schema = &schema
	return b
}

// WithMetadata sets a metadata key/value pair on the channel being built.
func (b *ChannelBuilder) WithMetadata(key, value string) *ChannelBuilder {
	b.metadata[key] = value
	return b
}

// Build validates the builder's configuration and registers the new
// channel with its context. On success the channel is immediately live:
// every sink already registered has been notified via AddChannels.
func (b *ChannelBuilder) Build() (*Channel, error) {
	if b.messageEncoding == "" {
		return nil, &MessageEncodingRequiredError{Topic: b.topic}
	}
	ch := newChannel(b.ctx, b.topic, b.messageEncoding, b.schema, b.metadata, b.ctx.logger)
	if err := b.ctx.addChannel(ch); err != nil {
		return nil, err
	}
	return ch, nil
}
