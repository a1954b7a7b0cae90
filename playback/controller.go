// Package playback implements the ranged playback controller (C10): a
// state machine embedded in an application that exposes replayable
// data, driven by PlaybackControlRequest messages routed to it by the
// listener callbacks of wsserver and relay (§4.9). Its single-lock
// transition discipline and "state before data" broadcast ordering
// follow the teacher's WorkerPool/Context conventions of never holding
// a lock across a blocking call while still serializing every mutation
// through one mutex.
package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/wsprotocol"
)

// ClampMinSpeed is the minimum playback_speed the controller will ever
// accept; requests below it are clamped up rather than rejected.
const ClampMinSpeed = 0.01

// Message is one unit of replayable data the play loop hands to an
// Emitter: a logged payload on some channel, timestamped in the same
// log-time domain as current_time.
type Message struct {
	Channel fgcore.ChannelID
	Payload []byte
	LogTime uint64
}

// Source supplies the play loop with replayable data. Next returns the
// first message at or after minTime, and how long (in wall time,
// already un-scaled by playback_speed) the loop should wait before
// looking for the following one. ok is false once the source is
// exhausted before end_time, in which case the loop idles until the
// next request or until end_time is reached by the clock alone.
type Source interface {
	Next(minTime uint64) (msg Message, interval time.Duration, ok bool)
}

// Emitter delivers a Message the play loop has decided to emit. It
// must not block past the time budget implied by the requested
// playback_speed; callers that need fan-out should do it the way
// wsserver.Server and relay.Sink's Log methods do, through a bounded
// queue.
type Emitter interface {
	EmitData(msg Message)
}

// Broadcaster delivers a PlaybackState to every interested live
// consumer. Implementations (wsserver.Server, relay.Sink) must enqueue
// onto their control plane, never the data plane, so the "state before
// data" ordering guarantee holds.
type Broadcaster interface {
	BroadcastPlaybackState(state wsprotocol.PlaybackState)
}

// Controller is the ranged playback state machine of §4.9. The time
// range [StartTime, EndTime] is fixed for the controller's lifetime.
type Controller struct {
	StartTime uint64
	EndTime   uint64

	broadcaster Broadcaster
	source      Source
	emitter     Emitter
	logger      zerolog.Logger

	mu            sync.Mutex
	status        wsprotocol.PlaybackStatus
	currentTime   uint64
	playbackSpeed float32
	didSeek       bool

	runCancel context.CancelFunc
	runDone   chan struct{}
}

// New constructs a Controller in the initial Paused state at
// startTime, 1.0x speed.
func New(startTime, endTime uint64, source Source, emitter Emitter, broadcaster Broadcaster, logger zerolog.Logger) *Controller {
	return &Controller{
		StartTime:     startTime,
		EndTime:       endTime,
		source:        source,
		emitter:       emitter,
		broadcaster:   broadcaster,
		logger:        logger,
		status:        wsprotocol.PlaybackStatusPaused,
		currentTime:   startTime,
		playbackSpeed: 1.0,
	}
}

// Status returns the controller's current state snapshot.
func (c *Controller) Status() wsprotocol.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(nil)
}

// HandleRequest applies one PlaybackControlRequest under the
// controller's single lock, per §4.9's four numbered steps, and
// returns the PlaybackState reply the caller must send back to the
// requesting client only (it is not a broadcast). The broadcaster is
// invoked from inside the lock so that any goroutine that next
// observes the new status — in particular the play loop — does so
// only after the state announcement has already been enqueued.
func (c *Controller) HandleRequest(req wsprotocol.PlaybackControlRequest) wsprotocol.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Step 1: seek is applied before play/pause, unconditionally of command.
	if req.SeekTime != nil {
		seek := clampTime(*req.SeekTime, c.StartTime, c.EndTime)
		c.currentTime = seek
		c.didSeek = true
		if c.status == wsprotocol.PlaybackStatusEnded {
			c.status = wsprotocol.PlaybackStatusPaused
		}
	}

	// Step 2: clamp playback_speed, rejecting non-finite values by
	// falling back to the current speed rather than propagating NaN.
	speed := req.PlaybackSpeed
	if !isFinite32(speed) {
		speed = c.playbackSpeed
	}
	if speed < ClampMinSpeed {
		speed = ClampMinSpeed
	}
	c.playbackSpeed = speed

	// Step 3: apply command.
	switch req.Command {
	case wsprotocol.PlaybackCommandPlay:
		if c.status != wsprotocol.PlaybackStatusEnded {
			c.status = wsprotocol.PlaybackStatusPlaying
		}
	case wsprotocol.PlaybackCommandPause:
		c.status = wsprotocol.PlaybackStatusPaused
	}

	requestID := req.RequestID
	state := c.snapshotLocked(&requestID)
	c.broadcaster.BroadcastPlaybackState(state)
	c.didSeek = false
	return state
}

func (c *Controller) snapshotLocked(requestID *string) wsprotocol.PlaybackState {
	return wsprotocol.PlaybackState{
		Status:        c.status,
		PlaybackSpeed: c.playbackSpeed,
		DidSeek:       c.didSeek,
		CurrentTime:   c.currentTime,
		RequestID:     requestID,
	}
}

func clampTime(t, lo, hi uint64) uint64 {
	if t < lo {
		return lo
	}
	if t > hi {
		return hi
	}
	return t
}

func isFinite32(f float32) bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
