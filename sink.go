package fgcore

import "sync/atomic"

// SinkID is a monotonic, process-wide identifier assigned to a sink
// when it is constructed. It never repeats within a process lifetime.
type SinkID uint64

var sinkIDCounter uint64

func nextSinkID() SinkID {
	return SinkID(atomic.AddUint64(&sinkIDCounter, 1))
}

// NewSinkID allocates the next process-wide sink identifier. External
// sink implementations (mcapsink, wsserver, relay) call this once at
// construction time rather than maintaining their own counter.
func NewSinkID() SinkID { return nextSinkID() }

// ChannelDescriptor is the read-only view of a Channel a Sink sees
// during AddChannels/RemoveChannel and SinkChannelFilter — everything
// needed to decide whether to accept it or advertise it, without a
// back-reference to the owning Context.
type ChannelDescriptor struct {
	ID             ChannelID
	Topic          string
	MessageEncoding string
	Schema         *Schema
	Metadata       map[string]string
}

// SinkChannelFilter decides whether a sink is interested in a channel.
// A sink applies its own filter inside its AddChannels implementation;
// the registry itself never filters on the sink's behalf.
type SinkChannelFilter func(ChannelDescriptor) bool

// Sink is a destination for logged messages: an MCAP file, a local
// WebSocket server, a remote relay, or a test double. Sinks never own
// channels; the Context owns the binding between the two.
type Sink interface {
	// ID returns this sink's identity, stable for its lifetime.
	ID() SinkID

	// Log delivers one message to the sink. Implementations must never
	// block the caller on network or disk I/O for longer than their own
	// documented backpressure policy (queue-and-return, or bounded
	// blocking write for the synchronous MCAP sink). Errors are
	// contained by the caller (Channel.Log) and never propagated back
	// through the registry.
	Log(channel *Channel, payload []byte, md Metadata) error

	// AddChannels is called once when the sink is registered with
	// existing channels, and again for every channel added afterward.
	// A nil return means "no opinion; rely on auto-subscribe or
	// explicit Context.SubscribeChannels calls". A non-nil (possibly
	// empty) slice is the set of channel IDs the sink wants the
	// registry to subscribe it to immediately.
	AddChannels(channels []ChannelDescriptor) []ChannelID

	// RemoveChannel notifies the sink that a channel it knew about has
	// been closed or removed from the context.
	RemoveChannel(channel ChannelDescriptor)

	// AutoSubscribe reports whether this sink should receive every
	// channel's messages without an explicit subscription call.
	AutoSubscribe() bool
}
