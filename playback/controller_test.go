package playback

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltfleet/fgcore/wsprotocol"
)

type recordingBroadcaster struct {
	states []wsprotocol.PlaybackState
}

func (b *recordingBroadcaster) BroadcastPlaybackState(s wsprotocol.PlaybackState) {
	b.states = append(b.states, s)
}

type staticSource struct{}

func (staticSource) Next(minTime uint64) (Message, time.Duration, bool) {
	return Message{LogTime: minTime}, time.Millisecond, true
}

type noopEmitter struct{}

func (noopEmitter) EmitData(Message) {}

func newTestController() (*Controller, *recordingBroadcaster) {
	b := &recordingBroadcaster{}
	c := New(0, 1_000_000_000, staticSource{}, noopEmitter{}, b, zerolog.Nop())
	return c, b
}

func TestInitialStateIsPaused(t *testing.T) {
	c, _ := newTestController()
	state := c.Status()
	assert.Equal(t, wsprotocol.PlaybackStatusPaused, state.Status)
	assert.Equal(t, float32(1.0), state.PlaybackSpeed)
	assert.Equal(t, uint64(0), state.CurrentTime)
}

func TestPlayTransitionsToPlayingAndRepliesWithRequestID(t *testing.T) {
	c, b := newTestController()
	req := wsprotocol.PlaybackControlRequest{
		Command:       wsprotocol.PlaybackCommandPlay,
		PlaybackSpeed: 2.0,
		RequestID:     "r1",
	}
	reply := c.HandleRequest(req)
	require.NotNil(t, reply.RequestID)
	assert.Equal(t, "r1", *reply.RequestID)
	assert.Equal(t, wsprotocol.PlaybackStatusPlaying, reply.Status)
	assert.Equal(t, float32(2.0), reply.PlaybackSpeed)
	require.Len(t, b.states, 1)
	assert.Equal(t, wsprotocol.PlaybackStatusPlaying, b.states[0].Status)
}

func TestSeekIsAppliedBeforePlayPause(t *testing.T) {
	c, _ := newTestController()
	seek := uint64(500)
	reply := c.HandleRequest(wsprotocol.PlaybackControlRequest{
		Command:       wsprotocol.PlaybackCommandPause,
		PlaybackSpeed: 1.0,
		SeekTime:      &seek,
	})
	assert.Equal(t, uint64(500), reply.CurrentTime)
	assert.True(t, reply.DidSeek)
	assert.Equal(t, wsprotocol.PlaybackStatusPaused, reply.Status)
}

func TestSeekTimeIsClampedToRange(t *testing.T) {
	c, _ := newTestController()
	over := uint64(5_000_000_000)
	reply := c.HandleRequest(wsprotocol.PlaybackControlRequest{
		Command:       wsprotocol.PlaybackCommandPause,
		PlaybackSpeed: 1.0,
		SeekTime:      &over,
	})
	assert.Equal(t, c.EndTime, reply.CurrentTime)
}

func TestSpeedIsClampedToMinimum(t *testing.T) {
	c, _ := newTestController()
	reply := c.HandleRequest(wsprotocol.PlaybackControlRequest{
		Command:       wsprotocol.PlaybackCommandPause,
		PlaybackSpeed: 0,
	})
	assert.Equal(t, float32(ClampMinSpeed), reply.PlaybackSpeed)
}

func TestPlayFromEndedIsANoopWithoutASeek(t *testing.T) {
	c, _ := newTestController()
	c.mu.Lock()
	c.status = wsprotocol.PlaybackStatusEnded
	c.currentTime = c.EndTime
	c.mu.Unlock()

	reply := c.HandleRequest(wsprotocol.PlaybackControlRequest{
		Command:       wsprotocol.PlaybackCommandPlay,
		PlaybackSpeed: 1.0,
	})
	assert.Equal(t, wsprotocol.PlaybackStatusEnded, reply.Status)
}

// TestSeekBeforePlayExitsEndedLoopFromStart is seed scenario S4: a
// PlaybackControlRequest{command=Play, speed=1.0, seek=0, request_id="R"}
// received while Ended must exit Ended, enter Playing, and reply with
// current_time=0, did_seek=true.
func TestSeekBeforePlayExitsEndedLoopFromStart(t *testing.T) {
	c, b := newTestController()
	c.mu.Lock()
	c.status = wsprotocol.PlaybackStatusEnded
	c.currentTime = c.EndTime
	c.mu.Unlock()

	zero := uint64(0)
	reply := c.HandleRequest(wsprotocol.PlaybackControlRequest{
		Command:       wsprotocol.PlaybackCommandPlay,
		PlaybackSpeed: 1.0,
		SeekTime:      &zero,
		RequestID:     "R",
	})

	assert.Equal(t, wsprotocol.PlaybackStatusPlaying, reply.Status)
	assert.Equal(t, uint64(0), reply.CurrentTime)
	assert.True(t, reply.DidSeek)
	require.NotNil(t, reply.RequestID)
	assert.Equal(t, "R", *reply.RequestID)
	require.Len(t, b.states, 1)
	assert.Equal(t, wsprotocol.PlaybackStatusPlaying, b.states[0].Status)
}

func TestDidSeekIsClearedAfterTheNextRequest(t *testing.T) {
	c, _ := newTestController()
	seek := uint64(10)
	first := c.HandleRequest(wsprotocol.PlaybackControlRequest{
		Command:       wsprotocol.PlaybackCommandPause,
		PlaybackSpeed: 1.0,
		SeekTime:      &seek,
	})
	assert.True(t, first.DidSeek)

	second := c.HandleRequest(wsprotocol.PlaybackControlRequest{
		Command:       wsprotocol.PlaybackCommandPause,
		PlaybackSpeed: 1.0,
	})
	assert.False(t, second.DidSeek)
}

func TestNonFiniteSpeedFallsBackToCurrentSpeed(t *testing.T) {
	c, _ := newTestController()
	c.HandleRequest(wsprotocol.PlaybackControlRequest{
		Command:       wsprotocol.PlaybackCommandPause,
		PlaybackSpeed: 3.0,
	})
	reply := c.HandleRequest(wsprotocol.PlaybackControlRequest{
		Command:       wsprotocol.PlaybackCommandPause,
		PlaybackSpeed: float32(nan()),
	})
	assert.Equal(t, float32(3.0), reply.PlaybackSpeed)
}

func nan() float64 {
	var zero float64
	return zero / zero
}
