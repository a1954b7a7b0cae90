package playback

import (
	"context"
	"time"

	"github.com/cobaltfleet/fgcore/wsprotocol"
)

// Start launches the cooperative play loop on a background goroutine.
// Each call launches a new loop; Stop cancels and waits for only the
// loop launched by the most recent Start.
func (c *Controller) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.runDone = make(chan struct{})
	go func() {
		defer close(c.runDone)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Msg("playback: play loop panicked")
			}
		}()
		c.runLoop(runCtx)
	}()
}

// Stop cancels the play loop and waits for it to exit.
func (c *Controller) Stop() {
	if c.runCancel == nil {
		return
	}
	c.runCancel()
	<-c.runDone
}

// runLoop is the single-threaded cooperative emitter of §4.9's "Play
// loop": while Playing, it fetches the next message at or after
// current_time, hands it to the Emitter, and advances current_time by
// interval/playback_speed in wall time before looking for the next
// one. Reaching end_time transitions to Ended and broadcasts the new
// state before the loop goes idle.
func (c *Controller) runLoop(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		c.mu.Lock()
		playing := c.status == wsprotocol.PlaybackStatusPlaying
		at := c.currentTime
		speed := c.playbackSpeed
		c.mu.Unlock()

		if !playing {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		if at >= c.EndTime {
			c.transitionToEndedLocked()
			continue
		}

		msg, interval, ok := c.source.Next(at)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		c.emitter.EmitData(msg)

		wait := interval
		if speed > 0 {
			wait = time.Duration(float64(interval) / float64(speed))
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		c.mu.Lock()
		c.currentTime += uint64(interval.Nanoseconds())
		if c.currentTime > c.EndTime {
			c.currentTime = c.EndTime
		}
		c.mu.Unlock()
	}
}

func (c *Controller) transitionToEndedLocked() {
	c.mu.Lock()
	c.status = wsprotocol.PlaybackStatusEnded
	c.currentTime = c.EndTime
	state := c.snapshotLocked(nil)
	c.broadcaster.BroadcastPlaybackState(state)
	c.mu.Unlock()
}
