package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/internal/connlimit"
	"github.com/cobaltfleet/fgcore/internal/throttle"
	"github.com/cobaltfleet/fgcore/internal/workerpool"
	"github.com/cobaltfleet/fgcore/wsprotocol"
	v2 "github.com/cobaltfleet/fgcore/wsprotocol/v2"
)

const (
	pingPeriod       = 30 * time.Second
	pongWait         = 60 * time.Second
	writeWait        = 10 * time.Second
	shutdownDrainMax = 5 * time.Second
)

// advertisedChannel is the server's view of one context channel: the
// uint32 id it was assigned on the wire and the descriptor it was
// advertised with.
type advertisedChannel struct {
	serverID uint32
	desc     fgcore.ChannelDescriptor
}

// Server is the local WebSocket server sink (C8). It implements
// fgcore.Sink (see sink.go) and separately runs an HTTP server
// accepting foxglove.sdk.v1 connections.
//
// Its accept loop, graceful Shutdown, and per-client read/write pumps
// are grounded on the teacher's internal/shared/server.go (Start/
// Shutdown) and handlers_ws.go (the ws.UpgradeHTTP-based upgrade
// handler) — generalized from a single implicit Kafka-fed market-data
// feed to the protocol's explicit per-channel subscribe/advertise
// model.
type Server struct {
	id     fgcore.SinkID
	logger zerolog.Logger

	name      string
	sessionID string
	caps      capabilitySet
	backlog   int

	listenerCb ServerListener
	assets     AssetHandler
	services   *ServiceHandlerRegistry
	params     *ParameterStore
	graph      *graphSubscribers
	workers    *workerpool.Pool
	connLimit  *connlimit.Limiter

	httpServer *http.Server
	listener   net.Listener

	clients      sync.Map // ClientID -> *client
	nextClientID atomic.Uint32

	mu              sync.Mutex
	channelsByID    map[fgcore.ChannelID]*advertisedChannel
	channelsByWire  map[uint32]fgcore.ChannelID
	nextServerID    uint32
	subsSnapshot    map[fgcore.ChannelID]*atomic.Value // []*client currently subscribed

	shuttingDown atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	warnLog *throttle.Throttle
}

// Option configures a Server at construction time.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.logger = l } }
func WithName(name string) Option        { return func(s *Server) { s.name = name } }
func WithSessionID(id string) Option     { return func(s *Server) { s.sessionID = id } }
func WithCapabilities(caps ...Capability) Option {
	return func(s *Server) { s.caps = newCapabilitySet(caps) }
}
func WithBacklog(n int) Option            { return func(s *Server) { s.backlog = n } }
func WithListenerCallback(cb ServerListener) Option {
	return func(s *Server) { s.listenerCb = cb }
}
func WithAssetHandler(h AssetHandler) Option { return func(s *Server) { s.assets = h } }

// WithWorkerPool offloads service handler invocation onto pool instead
// of running it inline on the connection's read-pump goroutine.
func WithWorkerPool(pool *workerpool.Pool) Option {
	return func(s *Server) { s.workers = pool }
}

// WithConnectionRateLimiter rejects upgrade attempts that exceed the
// given per-IP/global connection rate, before a client struct or
// goroutines are ever allocated for them.
func WithConnectionRateLimiter(l *connlimit.Limiter) Option {
	return func(s *Server) { s.connLimit = l }
}

// NewServer constructs a Server. It does not listen until Start is called.
func NewServer(opts ...Option) *Server {
	s := &Server{
		id:             fgcore.NewSinkID(),
		logger:         zerolog.Nop(),
		name:           "fgcore-wsserver",
		caps:           newCapabilitySet(nil),
		backlog:        1024,
		listenerCb:     NoopListener{},
		services:       NewServiceHandlerRegistry(),
		params:         NewParameterStore(),
		graph:          newGraphSubscribers(),
		channelsByID:   make(map[fgcore.ChannelID]*advertisedChannel),
		channelsByWire: make(map[uint32]fgcore.ChannelID),
		subsSnapshot:   make(map[fgcore.ChannelID]*atomic.Value),
		warnLog:        throttle.New(throttle.DefaultWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start begins listening on addr and accepting foxglove.sdk.v1
// connections. It returns once the listener is bound; serving happens
// on a background goroutine, mirroring the teacher's Start() which
// returns after net.Listen and spawns http.Server.Serve separately.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wsserver: listen: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("wsserver: serve exited")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("wsserver: listening")
	return nil
}

// Addr returns the bound listener address; valid only after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// clientIP extracts the remote host from a request, stripping the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.connLimit != nil && !s.connLimit.Allow(clientIP(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	upgrader := ws.HTTPUpgrader{
		Protocol: func(proto string) bool { return proto == Subprotocol },
	}
	conn, _, _, err := upgrader.Upgrade(r, w)
	if err != nil {
		s.logger.Debug().Err(err).Msg("wsserver: upgrade failed")
		return
	}

	id := ClientID(s.nextClientID.Add(1))
	c := newClient(id, conn, s, s.backlog)
	s.clients.Store(id, c)

	info := wsprotocol.ServerInfo{
		Op:           "serverInfo",
		Name:         s.name,
		SessionID:    s.sessionID,
		Capabilities: s.caps.strings(),
	}
	if data, err := json.Marshal(info); err == nil {
		c.enqueueText(data, nil)
	}
	s.sendExistingAdvertisements(c)
	if s.caps.has(CapabilityServices) {
		if services := s.services.descriptors(); len(services) > 0 {
			s.sendJSON(c, wsprotocol.AdvertiseServices{Op: "advertiseServices", Services: services})
		}
	}

	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.writePump(c) }()
	go func() { defer s.wg.Done(); s.readPump(c) }()
}

// sendExistingAdvertisements replays Advertise for every channel
// already known to the server, so a client connecting after channels
// exist still learns about them.
func (s *Server) sendExistingAdvertisements(c *client) {
	s.mu.Lock()
	channels := make([]wsprotocol.AdvertiseChannel, 0, len(s.channelsByID))
	for _, ac := range s.channelsByID {
		channels = append(channels, advertiseChannelFor(ac))
	}
	s.mu.Unlock()
	if len(channels) == 0 {
		return
	}
	msg := wsprotocol.Advertise{Op: "advertise", Channels: channels}
	if data, err := json.Marshal(msg); err == nil {
		c.enqueueText(data, nil)
	}
}

func advertiseChannelFor(ac *advertisedChannel) wsprotocol.AdvertiseChannel {
	out := wsprotocol.AdvertiseChannel{
		ID:         ac.serverID,
		Topic:      ac.desc.Topic,
		Encoding:   ac.desc.MessageEncoding,
		SchemaName: "",
	}
	if ac.desc.Schema != nil {
		out.SchemaName = ac.desc.Schema.Name
		out.Schema = string(ac.desc.Schema.Data)
		enc := ac.desc.Schema.Encoding
		out.SchemaEncoding = &enc
	}
	return out
}

// readPump decodes incoming text (JSON) and binary (v2 opcode table)
// frames and dispatches them, mirroring the teacher's readPump shape
// (panic recovery first, a disconnect-reason defer, SetReadDeadline
// refreshed on every frame).
func (s *Server) readPump(c *client) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Uint32("client_id", uint32(c.id)).Msg("wsserver: readPump panic")
		}
	}()
	defer s.disconnectClient(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			s.handleJSON(c, msg)
		case ws.OpBinary:
			s.handleBinary(c, msg)
		case ws.OpClose:
			return
		}
	}
}

func (s *Server) handleJSON(c *client, data []byte) {
	parsed, err := wsprotocol.DecodeJSON(data)
	if err != nil {
		s.warnLog.Do(func() {
			s.logger.Warn().Err(err).Msg("wsserver: malformed json message")
		})
		return
	}
	switch m := parsed.(type) {
	case *wsprotocol.Subscribe:
		s.handleSubscribe(c, m)
	case *wsprotocol.Unsubscribe:
		s.handleUnsubscribe(c, m)
	case *wsprotocol.GetParameters:
		s.handleGetParameters(c, m)
	case *wsprotocol.SetParameters:
		s.handleSetParameters(c, m)
	case *wsprotocol.SubscribeParameterUpdates:
		if !s.caps.has(CapabilityParameters) {
			s.sendStatus(c, wsprotocol.StatusLevelError, "parameters capability not advertised", nil)
			return
		}
		s.params.Subscribe(c, m.ParameterNames)
	case *wsprotocol.UnsubscribeParameterUpdates:
		s.params.Unsubscribe(c, m.ParameterNames)
	case *wsprotocol.SubscribeConnectionGraph:
		s.graphSubscribe(c)
	case *wsprotocol.UnsubscribeConnectionGraph:
		s.graphUnsubscribe(c)
	case *wsprotocol.FetchAsset:
		s.handleFetchAsset(c, m)
	default:
		// Other JSON ops (ServerInfo, Status, Advertise, ...) are
		// server -> client only and are ignored if echoed back.
	}
}

func (s *Server) handleBinary(c *client, payload []byte) {
	parsed, err := v2.DecodeClientBinary(payload)
	if err != nil {
		s.warnLog.Do(func() {
			s.logger.Warn().Err(err).Msg("wsserver: malformed binary message")
		})
		return
	}
	switch m := parsed.(type) {
	case wsprotocol.MessageData:
		if !s.caps.has(CapabilityClientPublish) {
			s.sendStatus(c, wsprotocol.StatusLevelError, "clientPublish capability not advertised", nil)
			return
		}
		// Accepted but unrouted: no context channel identifies a
		// client-advertised topic on this path, matching
		// original_source's treatment of client publish as a
		// capability-gated accept with no SDK-side subscriber.
	case wsprotocol.ServiceCall:
		s.services.handleRequest(s, c, m)
	case wsprotocol.PlaybackControlRequest:
		if !s.caps.has(CapabilityPlaybackControl) {
			s.sendStatus(c, wsprotocol.StatusLevelError, "playbackControl capability not advertised", nil)
			return
		}
		s.listenerCb.OnPlaybackControlRequest(c.id, m)
	default:
	}
}

func (s *Server) handleSubscribe(c *client, m *wsprotocol.Subscribe) {
	for _, entry := range m.Subscriptions {
		s.mu.Lock()
		chID, ok := s.channelsByWire[entry.ChannelID]
		s.mu.Unlock()
		if !ok {
			s.sendStatus(c, wsprotocol.StatusLevelWarning, fmt.Sprintf("unknown channel id %d", entry.ChannelID), nil)
			continue
		}
		if c.addSubscription(entry.ID, chID) {
			s.refreshSubscribers(chID)
			s.listenerCb.OnSubscribe(c.id, chID)
		}
	}
}

func (s *Server) handleUnsubscribe(c *client, m *wsprotocol.Unsubscribe) {
	for _, subID := range m.SubscriptionIDs {
		if chID, ok := c.removeSubscriptionByID(subID); ok {
			s.refreshSubscribers(chID)
			s.listenerCb.OnUnsubscribe(c.id, chID)
		}
	}
}

func (s *Server) handleGetParameters(c *client, m *wsprotocol.GetParameters) {
	if !s.caps.has(CapabilityParameters) {
		s.sendStatus(c, wsprotocol.StatusLevelError, "parameters capability not advertised", m.ID)
		return
	}
	values := s.params.Get(m.ParameterNames)
	s.sendJSON(c, wsprotocol.ParameterValues{Op: "parameterValues", Parameters: values, ID: m.ID})
}

func (s *Server) handleSetParameters(c *client, m *wsprotocol.SetParameters) {
	if !s.caps.has(CapabilityParameters) {
		s.sendStatus(c, wsprotocol.StatusLevelError, "parameters capability not advertised", m.ID)
		return
	}
	updated := s.params.Set(m.Parameters)
	s.broadcastParameterValues(updated)
}

func (s *Server) handleFetchAsset(c *client, m *wsprotocol.FetchAsset) {
	if s.assets == nil {
		s.sendBinaryV2(c, v2.EncodeFetchAssetResponse(wsprotocol.FetchAssetResponse{
			RequestID: m.RequestID,
			Status:    wsprotocol.FetchAssetStatusError,
			Error:     "no asset handler configured",
		}), nil)
		return
	}
	data, err := s.assets(m.URI)
	resp := wsprotocol.FetchAssetResponse{RequestID: m.RequestID}
	if err != nil {
		resp.Status = wsprotocol.FetchAssetStatusError
		resp.Error = err.Error()
	} else {
		resp.Status = wsprotocol.FetchAssetStatusSuccess
		resp.Data = data
	}
	s.sendBinaryV2(c, v2.EncodeFetchAssetResponse(resp), nil)
}

// refreshSubscribers rebuilds the copy-on-write client snapshot for
// one channel, the same pattern fgcore.Context uses for sink snapshots.
func (s *Server) refreshSubscribers(ch fgcore.ChannelID) {
	var subscribed []*client
	s.clients.Range(func(_, v any) bool {
		cl := v.(*client)
		if cl.isSubscribed(ch) {
			subscribed = append(subscribed, cl)
		}
		return true
	})

	s.mu.Lock()
	slot, ok := s.subsSnapshot[ch]
	if !ok {
		slot = &atomic.Value{}
		s.subsSnapshot[ch] = slot
	}
	s.mu.Unlock()
	slot.Store(subscribed)
}

func (s *Server) subscribersOf(ch fgcore.ChannelID) []*client {
	s.mu.Lock()
	slot, ok := s.subsSnapshot[ch]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	v := slot.Load()
	if v == nil {
		return nil
	}
	return v.([]*client)
}

func (s *Server) sendJSON(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueueText(data, nil)
}

func (s *Server) sendBinaryV2(c *client, frame []byte, onDrop func()) {
	c.enqueueBinary(frame, onDrop)
}

func (s *Server) sendStatus(c *client, level wsprotocol.StatusLevel, msg string, id *string) {
	s.sendJSON(c, wsprotocol.Status{Op: "status", Level: level, Message: msg, ID: id})
}

func (s *Server) broadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.clients.Range(func(_, val any) bool {
		val.(*client).enqueueText(data, nil)
		return true
	})
}

func (s *Server) broadcastParameterValues(params []wsprotocol.Parameter) {
	names := make(map[string]struct{}, len(params))
	for _, p := range params {
		names[p.Name] = struct{}{}
	}
	s.clients.Range(func(_, val any) bool {
		cl := val.(*client)
		interested := s.params.Interested(cl, names)
		if len(interested) == 0 {
			return true
		}
		s.sendJSON(cl, wsprotocol.ParameterValues{Op: "parameterValues", Parameters: interested})
		return true
	})
}

// writePump drains a client's outbound queue, writing each text/binary
// frame as its own WebSocket message without batching, and sends a
// ping on every tick of a ping ticker.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.closeOnce.Do(func() { _ = c.conn.Close() })

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			op := ws.OpBinary
			if frame.text {
				op = ws.OpText
			}
			if err := wsutil.WriteServerMessage(c.conn, op, frame.data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

// disconnectClient tears down subscription bookkeeping and notifies
// the listener for every channel the client was still subscribed to.
func (s *Server) disconnectClient(c *client) {
	for _, ch := range c.allSubscriptions() {
		c.removeSubscriptionByChannel(ch)
		s.refreshSubscribers(ch)
		s.listenerCb.OnUnsubscribe(c.id, ch)
	}
	s.params.RemoveClient(c)
	s.clients.Delete(c.id)
	c.close()
}

// Shutdown drains connected clients with a grace period, then force
// closes whatever remains — the same shape as the teacher's Shutdown
// (shuttingDown flag, listener close, grace-period drain loop, force
// close, context cancel, wg.Wait).
func (s *Server) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}

	deadline := time.Now().Add(shutdownDrainMax)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		empty := true
		s.clients.Range(func(_, _ any) bool { empty = false; return false })
		if empty {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			break
		}
	}

	s.clients.Range(func(_, v any) bool {
		v.(*client).close()
		return true
	})

	s.cancel()
	s.wg.Wait()
	return nil
}
