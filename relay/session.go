package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/relay/sfu"
	"github.com/cobaltfleet/fgcore/wsprotocol"
	v2 "github.com/cobaltfleet/fgcore/wsprotocol/v2"
)

// dataMsg is one entry on the shared data-plane queue.
type dataMsg struct {
	channel fgcore.ChannelID
	frame   []byte
}

// session is one connected attempt of the relay sink's lifecycle: a
// joined room plus all per-attempt state. It is discarded on
// disconnect; the reconnect loop builds a fresh one for each attempt.
//
// Three locks guard disjoint state and must always be acquired in this
// order — participants, then subscriptions, then channels — matching
// §4.8 exactly; no lock is ever held across a blocking room operation.
type session struct {
	sink   *Sink
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	room   sfu.Room
	events <-chan sfu.Event

	muParticipants sync.Mutex
	controlWriters map[sfu.ParticipantIdentity]*controlWriter

	muSubscriptions sync.Mutex
	subscriptions   map[fgcore.ChannelID]map[sfu.ParticipantIdentity]struct{}

	muChannels sync.Mutex
	channels   map[fgcore.ChannelID]fgcore.ChannelDescriptor
	wireIDs    map[fgcore.ChannelID]uint32
	nextWireID uint32

	dataQueue chan dataMsg

	wg sync.WaitGroup
}

// controlWriter serializes writes to one participant's control-plane
// byte stream behind a blocking (never-lossy) queue, since §4.8 says
// the underlying writer is not concurrency-safe per instance.
type controlWriter struct {
	queue chan []byte
	done  chan struct{}
}

func newSession(ctx context.Context, s *Sink) (*session, error) {
	info, err := s.api.DeviceInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: device-info: %w", err)
	}
	creds, err := s.api.RemoteSession(ctx, info.ID)
	if err != nil {
		return nil, fmt.Errorf("relay: remote-sessions: %w", err)
	}

	room, events, err := s.cfg.SFU.Connect(ctx, creds.URL, creds.Token)
	if err != nil {
		return nil, fmt.Errorf("relay: sfu connect: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		sink:           s,
		logger:         s.cfg.Logger,
		ctx:            sessCtx,
		cancel:         cancel,
		room:           room,
		events:         events,
		controlWriters: make(map[sfu.ParticipantIdentity]*controlWriter),
		subscriptions:  make(map[fgcore.ChannelID]map[sfu.ParticipantIdentity]struct{}),
		channels:       make(map[fgcore.ChannelID]fgcore.ChannelDescriptor),
		wireIDs:        make(map[fgcore.ChannelID]uint32),
		dataQueue:      make(chan dataMsg, DataQueueCapacity),
	}

	// Registering with the context is synchronous: AddChannels fires
	// immediately for every channel that already exists, per §4.8
	// step 3 ("receives the initial add_channels call synchronously").
	// The session is made current first so that this call reaches it.
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	s.registry.AddSink(s)
	return sess, nil
}

// run drives the session's event loop and data-plane sender until
// disconnect or cancellation. It blocks the caller.
func (sess *session) run() {
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		sess.senderLoop()
	}()

	for {
		select {
		case <-sess.ctx.Done():
			sess.wg.Wait()
			return
		case ev, ok := <-sess.events:
			if !ok {
				sess.cancel()
				sess.wg.Wait()
				return
			}
			sess.handleEvent(ev)
			if ev.Kind == sfu.EventDisconnected {
				sess.cancel()
				sess.wg.Wait()
				return
			}
		}
	}
}

// teardown unregisters the sink from the context and closes the room.
// Called by the reconnect loop after run returns.
func (sess *session) teardown() {
	sess.sink.registry.RemoveSink(sess.sink.ID())
	_ = sess.room.Close()
}

func (sess *session) handleEvent(ev sfu.Event) {
	switch ev.Kind {
	case sfu.EventParticipantConnected:
		sess.onParticipantConnected(ev.Participant)
	case sfu.EventParticipantDisconnected:
		sess.onParticipantDisconnected(ev.Participant)
	case sfu.EventByteStreamOpened:
		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			sess.reassemblyLoop(ev.Participant, ev.Reader)
		}()
	case sfu.EventDisconnected:
		sess.logger.Info().Err(ev.Reason).Msg("relay: room disconnected")
	}
}

func (sess *session) onParticipantConnected(p sfu.ParticipantIdentity) {
	writer, err := sess.room.StreamBytes(ControlPlaneTopic, []sfu.ParticipantIdentity{p})
	if err != nil {
		sess.logger.Warn().Err(err).Str("participant", string(p)).Msg("relay: open control stream failed")
		return
	}
	cw := &controlWriter{queue: make(chan []byte, 64), done: make(chan struct{})}

	sess.muParticipants.Lock()
	sess.controlWriters[p] = cw
	sess.muParticipants.Unlock()

	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		sess.controlWriterLoop(cw, writer)
	}()

	sess.sendServerInfo(cw)
	sess.replayAdvertisements(cw)
}

func (sess *session) onParticipantDisconnected(p sfu.ParticipantIdentity) {
	sess.muParticipants.Lock()
	cw, ok := sess.controlWriters[p]
	delete(sess.controlWriters, p)
	sess.muParticipants.Unlock()
	if ok {
		close(cw.done)
	}

	sess.muSubscriptions.Lock()
	var affected []fgcore.ChannelID
	for ch, participants := range sess.subscriptions {
		if _, subscribed := participants[p]; subscribed {
			delete(participants, p)
			if len(participants) == 0 {
				affected = append(affected, ch)
			}
		}
	}
	sess.muSubscriptions.Unlock()

	if len(affected) > 0 {
		sess.sink.registry.UnsubscribeChannels(sess.sink.ID(), affected)
	}
}

// controlWriterLoop drains one participant's blocking control queue,
// serializing writes to its byte stream writer (never lossy).
func (sess *session) controlWriterLoop(cw *controlWriter, writer sfu.ByteStreamWriter) {
	defer writer.Close()
	for {
		select {
		case frame := <-cw.queue:
			if err := writer.Write(frame); err != nil {
				sess.logger.Debug().Err(err).Msg("relay: control write failed")
				return
			}
		case <-cw.done:
			return
		case <-sess.ctx.Done():
			return
		}
	}
}

func (sess *session) sendServerInfo(cw *controlWriter) {
	info := wsprotocol.ServerInfo{
		Op:           "serverInfo",
		Name:         sess.sink.cfg.Name,
		SessionID:    sess.sink.cfg.SessionID,
		Capabilities: nil,
	}
	data, err := jsonMarshal(info)
	if err != nil {
		return
	}
	cw.queue <- wsprotocol.EncodeFrame(wsprotocol.StreamOpText, data)
}

func (sess *session) replayAdvertisements(cw *controlWriter) {
	sess.muChannels.Lock()
	channels := make([]wsprotocol.AdvertiseChannel, 0, len(sess.channels))
	for id, desc := range sess.channels {
		channels = append(channels, wireAdvertiseChannel(sess.wireIDs[id], desc))
	}
	sess.muChannels.Unlock()
	if len(channels) == 0 {
		return
	}
	data, err := jsonMarshal(wsprotocol.Advertise{Op: "advertise", Channels: channels})
	if err != nil {
		return
	}
	cw.queue <- wsprotocol.EncodeFrame(wsprotocol.StreamOpText, data)
}

func wireAdvertiseChannel(wireID uint32, desc fgcore.ChannelDescriptor) wsprotocol.AdvertiseChannel {
	out := wsprotocol.AdvertiseChannel{ID: wireID, Topic: desc.Topic, Encoding: desc.MessageEncoding}
	if desc.Schema != nil {
		out.SchemaName = desc.Schema.Name
		out.Schema = string(desc.Schema.Data)
		enc := desc.Schema.Encoding
		out.SchemaEncoding = &enc
	}
	return out
}

func (sess *session) addChannels(channels []fgcore.ChannelDescriptor) {
	advertise := make([]wsprotocol.AdvertiseChannel, 0, len(channels))

	sess.muChannels.Lock()
	for _, desc := range channels {
		if _, exists := sess.channels[desc.ID]; exists {
			continue
		}
		sess.nextWireID++
		wireID := sess.nextWireID
		sess.channels[desc.ID] = desc
		sess.wireIDs[desc.ID] = wireID
		advertise = append(advertise, wireAdvertiseChannel(wireID, desc))
	}
	sess.muChannels.Unlock()

	if len(advertise) == 0 {
		return
	}
	data, err := jsonMarshal(wsprotocol.Advertise{Op: "advertise", Channels: advertise})
	if err != nil {
		return
	}
	frame := wsprotocol.EncodeFrame(wsprotocol.StreamOpText, data)
	sess.broadcastControl(frame)
}

func (sess *session) removeChannel(desc fgcore.ChannelDescriptor) {
	sess.muChannels.Lock()
	wireID, ok := sess.wireIDs[desc.ID]
	delete(sess.channels, desc.ID)
	delete(sess.wireIDs, desc.ID)
	sess.muChannels.Unlock()
	if !ok {
		return
	}

	sess.muSubscriptions.Lock()
	delete(sess.subscriptions, desc.ID)
	sess.muSubscriptions.Unlock()

	data, err := jsonMarshal(wsprotocol.Unadvertise{Op: "unadvertise", ChannelIDs: []uint32{wireID}})
	if err != nil {
		return
	}
	sess.broadcastControl(wsprotocol.EncodeFrame(wsprotocol.StreamOpText, data))
}

func (sess *session) broadcastControl(frame []byte) {
	sess.muParticipants.Lock()
	writers := make([]*controlWriter, 0, len(sess.controlWriters))
	for _, cw := range sess.controlWriters {
		writers = append(writers, cw)
	}
	sess.muParticipants.Unlock()
	for _, cw := range writers {
		cw.queue <- frame
	}
}

// enqueueData pushes one logged message onto the shared data-plane
// queue. Never blocks: on overflow it pops up to MaxSendRetries oldest
// entries to make room, and drops the newest message if still full.
func (sess *session) enqueueData(ch fgcore.ChannelID, payload []byte, logTime uint64) {
	sess.muChannels.Lock()
	wireID, ok := sess.wireIDs[ch]
	sess.muChannels.Unlock()
	if !ok {
		return
	}
	frame := wsprotocol.EncodeFrame(wsprotocol.StreamOpBinary, v2.EncodeMessageData(wsprotocol.MessageData{
		ChannelID: uint64(wireID),
		LogTime:   logTime,
		Payload:   payload,
	}))
	msg := dataMsg{channel: ch, frame: frame}

	select {
	case sess.dataQueue <- msg:
		return
	default:
	}
	for i := 0; i < MaxSendRetries; i++ {
		select {
		case <-sess.dataQueue:
		default:
		}
		select {
		case sess.dataQueue <- msg:
			return
		default:
		}
	}
	sess.sink.warnLog.Do(func() {
		sess.logger.Info().Msg("relay: data plane queue full after retries, dropping message")
	})
}

// senderLoop drains the data-plane queue and fans each message out to
// the participants currently subscribed to its channel.
func (sess *session) senderLoop() {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case msg := <-sess.dataQueue:
			sess.sendToSubscribers(msg)
		}
	}
}

func (sess *session) sendToSubscribers(msg dataMsg) {
	sess.muSubscriptions.Lock()
	participants := sess.subscriptions[msg.channel]
	destinations := make([]sfu.ParticipantIdentity, 0, len(participants))
	for p := range participants {
		destinations = append(destinations, p)
	}
	sess.muSubscriptions.Unlock()
	if len(destinations) == 0 {
		return
	}

	writer, err := sess.room.StreamBytes(DataPlaneTopic, destinations)
	if err != nil {
		sess.logger.Debug().Err(err).Msg("relay: open data stream failed")
		return
	}
	defer writer.Close()
	if err := writer.Write(msg.frame); err != nil {
		sess.logger.Debug().Err(err).Msg("relay: data write failed")
	}
}

// reassemblyLoop reads framed client binary messages from one
// participant's inbound byte stream: exactly the 5-byte frame header,
// then exactly length payload bytes, per §4.8's framing rule.
// An EOF on the header terminates cleanly; any other read error logs
// and terminates.
func (sess *session) reassemblyLoop(p sfu.ParticipantIdentity, r io.Reader) {
	for {
		op, payload, err := wsprotocol.ReadFrame(r)
		if err != nil {
			if err != io.EOF {
				sess.logger.Warn().Err(err).Str("participant", string(p)).Msg("relay: read frame failed")
			}
			return
		}
		if op == wsprotocol.StreamOpText {
			sess.handleParticipantJSON(p, payload)
			continue
		}

		parsed, err := v2.DecodeClientBinary(payload)
		if err != nil {
			sess.logger.Warn().Err(err).Str("participant", string(p)).Msg("relay: invalid client frame")
			return
		}
		switch m := parsed.(type) {
		case wsprotocol.PlaybackControlRequest:
			sess.sink.cfg.Listener.OnPlaybackControlRequest(p, m)
		default:
		}
	}
}

func (sess *session) handleParticipantJSON(p sfu.ParticipantIdentity, data []byte) {
	parsed, err := wsprotocol.DecodeJSON(data)
	if err != nil {
		sess.logger.Warn().Err(err).Str("participant", string(p)).Msg("relay: malformed json from participant")
		return
	}
	switch m := parsed.(type) {
	case *wsprotocol.Subscribe:
		for _, entry := range m.Subscriptions {
			sess.subscribe(p, fgcore.ChannelID(entry.ChannelID))
		}
	case *wsprotocol.Unsubscribe:
		// The relay addresses channels by context ChannelID directly
		// in SubscribeEntry.ChannelID rather than a per-server wire id
		// (unlike wsserver, there is exactly one addressing scheme
		// shared by every participant), so SubscriptionIDs here name
		// channels, not a separate subscription-id space.
		for _, id := range m.SubscriptionIDs {
			sess.unsubscribe(p, fgcore.ChannelID(id))
		}
	default:
	}
}

// subscribe records participant p's interest in ch. When this is the
// first participant subscribed to ch, the session asks the context to
// start delivering it — §4.8's "context-level snapshot includes the
// session sink only when someone actually wants its data" optimization.
func (sess *session) subscribe(p sfu.ParticipantIdentity, ch fgcore.ChannelID) {
	sess.muSubscriptions.Lock()
	set, ok := sess.subscriptions[ch]
	if !ok {
		set = make(map[sfu.ParticipantIdentity]struct{})
		sess.subscriptions[ch] = set
	}
	first := len(set) == 0
	set[p] = struct{}{}
	sess.muSubscriptions.Unlock()

	if first {
		sess.sink.registry.SubscribeChannels(sess.sink.ID(), []fgcore.ChannelID{ch})
	}
}

// unsubscribe removes participant p's interest in ch. When p was the
// last subscriber, the session tells the context to stop delivering it.
func (sess *session) unsubscribe(p sfu.ParticipantIdentity, ch fgcore.ChannelID) {
	sess.muSubscriptions.Lock()
	set, ok := sess.subscriptions[ch]
	last := false
	if ok {
		delete(set, p)
		last = len(set) == 0
	}
	sess.muSubscriptions.Unlock()

	if last {
		sess.sink.registry.UnsubscribeChannels(sess.sink.ID(), []fgcore.ChannelID{ch})
	}
}

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
