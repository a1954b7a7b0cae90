// Package relay is the remote relay sink (C9): conceptually identical
// to the local WebSocket server but transported over an SFU room with
// one local device participant and N remote viewers, per §4.8. Its
// reconnect-forever lifecycle, three-lock ordering discipline
// (participants → subscriptions → channels), and lossy data-plane /
// blocking control-plane split are all named explicitly in the design
// this module implements; the goroutine shape and panic-recovery
// convention are grounded on the teacher's worker_pool.go.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/internal/throttle"
	"github.com/cobaltfleet/fgcore/relay/platformapi"
	"github.com/cobaltfleet/fgcore/relay/sfu"
)

// MaxSendRetries bounds how many times the data-plane sender pops an
// oldest entry to make room before giving up and dropping the newest
// message, per §4.8's backpressure rule.
const MaxSendRetries = 3

// DataQueueCapacity is the default size of the shared data-plane queue.
const DataQueueCapacity = 2048

// ReconnectBackoff is the delay between reconnect attempts after a
// disconnect of any kind.
const ReconnectBackoff = 30 * time.Second

// ControlPlaneTopic is the reliable byte-stream topic carrying
// ServerInfo/Advertise/Unadvertise/PlaybackState to each participant.
const ControlPlaneTopic = "ws-protocol"

// DataPlaneTopic is the byte-stream topic the sender task uses to
// fan logged messages out to subscribed participants.
const DataPlaneTopic = "ws-protocol-data"

// Config configures a Sink.
type Config struct {
	DeviceToken string
	APIURL      string
	APITimeout  time.Duration

	SFU sfu.Client

	Name      string
	SessionID string
	Filter    fgcore.SinkChannelFilter
	Listener  SessionListener

	Logger zerolog.Logger
}

// Sink is the remote relay's fgcore.Sink implementation. One Sink
// holds at most one live session at a time; sessions come and go as
// the reconnect loop runs.
type Sink struct {
	id  fgcore.SinkID
	cfg Config

	api *platformapi.Client

	registry *fgcore.Context // set by Start; each session adds the sink to it

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	current *session // the live session, nil between reconnect attempts

	warnLog *throttle.Throttle
}

// New constructs a relay Sink. It does not connect until Start is called.
func New(cfg Config) *Sink {
	if cfg.Listener == nil {
		cfg.Listener = NoopSessionListener{}
	}
	return &Sink{
		id:      fgcore.NewSinkID(),
		cfg:     cfg,
		api:     platformapi.New(cfg.APIURL, cfg.DeviceToken, cfg.APITimeout, cfg.Logger),
		warnLog: throttle.New(throttle.DefaultWindow),
	}
}

// ID implements fgcore.Sink.
func (s *Sink) ID() fgcore.SinkID { return s.id }

// AutoSubscribe implements fgcore.Sink: false, since §4.8's
// optimization registers the session's interest in a channel with the
// context only once a remote participant actually subscribes to it.
func (s *Sink) AutoSubscribe() bool { return false }

// AddChannels implements fgcore.Sink. The session mirrors every
// channel it is offered so it can replay Advertise to participants
// that join later; it never requests eager subscription.
func (s *Sink) AddChannels(channels []fgcore.ChannelDescriptor) []fgcore.ChannelID {
	accepted := channels[:0:0]
	for _, desc := range channels {
		if s.cfg.Filter != nil && !s.cfg.Filter(desc) {
			continue
		}
		accepted = append(accepted, desc)
	}
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		cur.addChannels(accepted)
	}
	return nil
}

// RemoveChannel implements fgcore.Sink.
func (s *Sink) RemoveChannel(desc fgcore.ChannelDescriptor) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		cur.removeChannel(desc)
	}
}

// Log implements fgcore.Sink: it enqueues onto the data plane. Per
// §4.8 the queue is shared and lossy; Log never blocks on network I/O.
func (s *Sink) Log(channel *fgcore.Channel, payload []byte, md fgcore.Metadata) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return nil // no live session; message dropped, same as an unsubscribed channel
	}
	cur.enqueueData(channel.ID(), payload, md.LogTime)
	return nil
}

// Start records registry, with which each connected session registers
// the sink, and launches the reconnect-forever loop on a background
// goroutine. It returns immediately.
func (s *Sink) Start(registry *fgcore.Context) {
	s.registry = registry
	s.rootCtx, s.rootCancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.cfg.Logger.Error().Interface("panic", r).Msg("relay: reconnect loop panicked")
			}
		}()
		s.reconnectLoop()
	}()
}

// Stop trips the cancellation token and waits for the reconnect loop
// and its current session to finish, bounded by ctx's deadline.
func (s *Sink) Stop(ctx context.Context) error {
	if s.rootCancel == nil {
		return nil
	}
	s.rootCancel()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) reconnectLoop() {
	for {
		if s.rootCtx.Err() != nil {
			return
		}
		sess, err := newSession(s.rootCtx, s)
		if err != nil {
			s.warnLog.Do(func() {
				s.cfg.Logger.Warn().Err(err).Msg("relay: connection attempt failed, retrying")
			})
			if !s.sleepOrCancel(ReconnectBackoff) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.current = sess
		s.mu.Unlock()

		sess.run() // blocks until disconnect or cancellation

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		sess.teardown()

		if s.rootCtx.Err() != nil {
			return
		}
		if !s.sleepOrCancel(ReconnectBackoff) {
			return
		}
	}
}

func (s *Sink) sleepOrCancel(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.rootCtx.Done():
		return false
	}
}
