package fgcore

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Context is the registry binding channels to sinks. It is the single
// place mutations happen; every read Channel.Log performs is a
// lock-free atomic load against a snapshot this type maintains.
//
// All mutating operations (addChannel, RemoveChannel, AddSink,
// RemoveSink, SubscribeChannels, UnsubscribeChannels) take the same
// write mutex, mirroring the teacher's ConnectionPool
// (internal/shared/connection.go), which serializes all subscriber-set
// changes behind one lock and republishes an immutable snapshot for
// lock-free reads on the hot path.
type Context struct {
	mu sync.Mutex

	channels map[ChannelID]*Channel
	byTopic  map[string]*Channel
	sinks    map[SinkID]Sink

	// subs[channelID][sinkID] records an explicit or auto subscription.
	subs map[ChannelID]map[SinkID]struct{}

	logger zerolog.Logger
}

// NewContext creates an empty registry. Most applications use the
// process-wide DefaultContext instead of calling this directly; an
// explicit Context is for tests and for applications that need more
// than one independent namespace of channels and sinks.
func NewContext(logger zerolog.Logger) *Context {
	return &Context{
		channels: make(map[ChannelID]*Channel),
		byTopic:  make(map[string]*Channel),
		sinks:    make(map[SinkID]Sink),
		subs:     make(map[ChannelID]map[SinkID]struct{}),
		logger:   logger,
	}
}

// addChannel registers a newly built channel, rejecting duplicate
// topics, and offers it to every already-registered sink.
func (c *Context) addChannel(ch *Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byTopic[ch.topic]; exists {
		return &DuplicateChannelError{Topic: ch.topic}
	}

	c.channels[ch.id] = ch
	c.byTopic[ch.topic] = ch
	c.subs[ch.id] = make(map[SinkID]struct{})

	desc := ch.Descriptor()
	for sinkID, s := range c.sinks {
		if s.AutoSubscribe() {
			c.subs[ch.id][sinkID] = struct{}{}
		}
		wants := s.AddChannels([]ChannelDescriptor{desc})
		for _, id := range wants {
			if id == ch.id {
				c.subs[ch.id][sinkID] = struct{}{}
			}
		}
	}
	c.refreshChannelLocked(ch.id)
	return nil
}

// RemoveChannel closes and unregisters the channel with the given ID.
// It is idempotent: removing an unknown or already-removed ID is a
// no-op and returns false.
func (c *Context) RemoveChannel(id ChannelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeChannelLocked(id)
}

func (c *Context) removeChannelLocked(id ChannelID) bool {
	ch, ok := c.channels[id]
	if !ok {
		return false
	}
	desc := ch.Descriptor()
	for _, s := range c.sinks {
		s.RemoveChannel(desc)
	}
	delete(c.subs, id)
	delete(c.channels, id)
	delete(c.byTopic, ch.topic)
	ch.markClosed()
	return true
}

// AddSink registers a sink with the context. It is immediately offered
// every existing channel exactly as if those channels were being added
// one at a time; its AutoSubscribe() and AddChannels() return value
// together determine its initial subscription set.
//
// If a sink with the same ID is already registered, AddSink does
// nothing and returns false — a sink is offered the existing-channel
// set exactly once, on its first successful registration.
func (c *Context) AddSink(s Sink) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sinks[s.ID()]; exists {
		return false
	}
	c.sinks[s.ID()] = s

	descs := make([]ChannelDescriptor, 0, len(c.channels))
	ids := make([]ChannelID, 0, len(c.channels))
	for id, ch := range c.channels {
		descs = append(descs, ch.Descriptor())
		ids = append(ids, id)
	}
	sortChannelIDs(ids)

	var wanted map[ChannelID]struct{}
	if len(descs) > 0 {
		wantedIDs := s.AddChannels(descs)
		wanted = make(map[ChannelID]struct{}, len(wantedIDs))
		for _, id := range wantedIDs {
			wanted[id] = struct{}{}
		}
	}

	for _, id := range ids {
		_, explicit := wanted[id]
		if s.AutoSubscribe() || explicit {
			c.subs[id][s.ID()] = struct{}{}
		}
	}
	for _, id := range ids {
		c.refreshChannelLocked(id)
	}
	return true
}

// RemoveSink unregisters a sink and notifies it that every channel it
// was subscribed to is gone from its perspective. It is idempotent:
// removing an unknown ID is a no-op and returns false.
func (c *Context) RemoveSink(id SinkID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sinks[id]
	if !ok {
		return false
	}
	for chID, subscribers := range c.subs {
		if _, subscribed := subscribers[id]; !subscribed {
			continue
		}
		delete(subscribers, id)
		if ch, ok := c.channels[chID]; ok {
			s.RemoveChannel(ch.Descriptor())
		}
		c.refreshChannelLocked(chID)
	}
	delete(c.sinks, id)
	return true
}

// SubscribeChannels explicitly subscribes a sink to the given channels,
// in addition to whatever AutoSubscribe or a prior AddChannels call
// already granted it. Unknown channel IDs are ignored.
func (c *Context) SubscribeChannels(sinkID SinkID, channelIDs []ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sinks[sinkID]; !ok {
		return
	}
	for _, id := range channelIDs {
		if subs, ok := c.subs[id]; ok {
			subs[sinkID] = struct{}{}
			c.refreshChannelLocked(id)
		}
	}
}

// UnsubscribeChannels removes an explicit or auto subscription. A sink
// with AutoSubscribe() true that is unsubscribed this way stays
// unsubscribed until explicitly resubscribed; AutoSubscribe only
// governs newly added channels and newly added sinks, not a standing
// unsubscribe.
func (c *Context) UnsubscribeChannels(sinkID SinkID, channelIDs []ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range channelIDs {
		if subs, ok := c.subs[id]; ok {
			delete(subs, sinkID)
			c.refreshChannelLocked(id)
		}
	}
}

// refreshChannelLocked rebuilds the channel's immutable sink snapshot
// from the current subscription set. Callers must hold c.mu.
func (c *Context) refreshChannelLocked(id ChannelID) {
	ch, ok := c.channels[id]
	if !ok {
		return
	}
	subscribers := c.subs[id]
	sinkIDs := make([]SinkID, 0, len(subscribers))
	for sid := range subscribers {
		sinkIDs = append(sinkIDs, sid)
	}
	sort.Slice(sinkIDs, func(i, j int) bool { return sinkIDs[i] < sinkIDs[j] })

	snapshot := make([]Sink, 0, len(sinkIDs))
	for _, sid := range sinkIDs {
		if s, ok := c.sinks[sid]; ok {
			snapshot = append(snapshot, s)
		}
	}
	ch.setSinks(snapshot)
}

// Channels returns a snapshot of every channel currently registered,
// ordered by ID. It is intended for introspection (status pages, the
// connection-graph broadcast) and not for the hot log path.
func (c *Context) Channels() []*Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]ChannelID, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	sortChannelIDs(ids)

	out := make([]*Channel, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.channels[id])
	}
	return out
}

// ChannelByTopic returns the channel registered under topic, if any.
func (c *Context) ChannelByTopic(topic string) (*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.byTopic[topic]
	return ch, ok
}

// Sinks returns a snapshot of every sink currently registered.
func (c *Context) Sinks() []Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sink, 0, len(c.sinks))
	for _, s := range c.sinks {
		out = append(out, s)
	}
	return out
}

func sortChannelIDs(ids []ChannelID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
