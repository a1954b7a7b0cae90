package wsserver

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/internal/throttle"
)

// clientStatus mirrors the per-connection state machine from the
// connection state machine.
type clientStatus int32

const (
	statusConnected clientStatus = iota
	statusActive
	statusClosing
	statusClosed
)

// outboundFrame is one queued write: a JSON (text) control message or a
// binary protocol frame, already fully encoded.
type outboundFrame struct {
	text bool
	data []byte
}

// client is server-side per-connection state. It plays the role the
// teacher's Client struct plays in connection.go, generalized from a
// single implicit "market data" feed to the protocol's explicit
// per-channel subscribe/unsubscribe model.
type client struct {
	id     ClientID
	conn   net.Conn
	server *Server

	send      chan outboundFrame // bounded, lossy outbound queue
	closeOnce sync.Once
	status    atomic.Int32

	connectedAt time.Time

	mu            sync.Mutex
	subscriptions map[fgcore.ChannelID]uint32 // context channel id -> client-chosen subscription id
	subsByID      map[uint32]fgcore.ChannelID  // subscription id -> context channel id
	advertised    map[uint32]fgcore.ChannelID  // server channel id -> context channel id, for this connection's view

	dropWarn *throttle.Throttle
}

func newClient(id ClientID, conn net.Conn, server *Server, backlog int) *client {
	c := &client{
		id:            id,
		conn:          conn,
		server:        server,
		send:          make(chan outboundFrame, backlog),
		connectedAt:   time.Now(),
		subscriptions: make(map[fgcore.ChannelID]uint32),
		subsByID:      make(map[uint32]fgcore.ChannelID),
		advertised:    make(map[uint32]fgcore.ChannelID),
		dropWarn:      throttle.New(throttle.DefaultWindow),
	}
	c.status.Store(int32(statusConnected))
	return c
}

// enqueue pushes a frame onto the client's outbound queue. On overflow
// the oldest queued frame is dropped to make room, so a momentarily
// slow client loses stale data rather than the message it's about to
// receive, and onDrop is called (Log passes a throttled warning). If
// the queue is full again by the time of the retry, the new frame is
// dropped and onDrop is called once more.
func (c *client) enqueue(frame outboundFrame, onDrop func()) {
	select {
	case c.send <- frame:
		return
	default:
	}
	select {
	case <-c.send:
		if onDrop != nil {
			onDrop()
		}
	default:
	}
	select {
	case c.send <- frame:
	default:
		if onDrop != nil {
			onDrop()
		}
	}
}

func (c *client) enqueueText(data []byte, onDrop func())   { c.enqueue(outboundFrame{text: true, data: data}, onDrop) }
func (c *client) enqueueBinary(data []byte, onDrop func())  { c.enqueue(outboundFrame{data: data}, onDrop) }

// subscriptionID returns the client-chosen subscription id for ch, if
// the client is currently subscribed to it.
func (c *client) subscriptionID(ch fgcore.ChannelID) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.subscriptions[ch]
	return id, ok
}

func (c *client) isSubscribed(ch fgcore.ChannelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[ch]
	return ok
}

// addSubscription records a new (subscription id -> channel) pair.
// Returns false if the subscription id was already in use, or the
// channel was already subscribed under a different id.
func (c *client) addSubscription(subID uint32, ch fgcore.ChannelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.subsByID[subID]; exists {
		return false
	}
	if _, exists := c.subscriptions[ch]; exists {
		return false
	}
	c.subsByID[subID] = ch
	c.subscriptions[ch] = subID
	return true
}

// removeSubscriptionByID drops a subscription the client asked to end.
// Returns the channel it mapped to and whether it existed.
func (c *client) removeSubscriptionByID(subID uint32) (fgcore.ChannelID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.subsByID[subID]
	if !ok {
		return 0, false
	}
	delete(c.subsByID, subID)
	delete(c.subscriptions, ch)
	return ch, true
}

// removeSubscriptionByChannel drops a subscription by channel id, used
// when a channel is removed from the context out from under the client.
func (c *client) removeSubscriptionByChannel(ch fgcore.ChannelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	subID, ok := c.subscriptions[ch]
	if !ok {
		return false
	}
	delete(c.subscriptions, ch)
	delete(c.subsByID, subID)
	return true
}

// allSubscriptions returns a snapshot of currently subscribed channels,
// used to notify the listener on disconnect.
func (c *client) allSubscriptions() []fgcore.ChannelID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fgcore.ChannelID, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	return out
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.status.Store(int32(statusClosed))
		close(c.send)
		_ = c.conn.Close()
	})
}
