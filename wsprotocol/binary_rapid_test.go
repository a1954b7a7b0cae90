package wsprotocol

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestMessageDataRoundTripsForAnyPayload checks Encode/Decode agree for
// arbitrary channel ids, log times, and payload bytes, including the
// zero-length payload edge case.
func TestMessageDataRoundTripsForAnyPayload(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := MessageData{
			ChannelID: rapid.Uint64().Draw(rt, "channel_id"),
			LogTime:   rapid.Uint64().Draw(rt, "log_time"),
			Payload:   rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(rt, "payload"),
		}
		if m.Payload == nil {
			m.Payload = []byte{}
		}
		body := EncodeMessageDataBody(m)
		got, err := DecodeMessageDataBody(body)
		require.NoError(rt, err)
		require.Equal(rt, m.ChannelID, got.ChannelID)
		require.Equal(rt, m.LogTime, got.LogTime)
		require.Equal(rt, m.Payload, got.Payload)
	})
}

// TestPlaybackStateRoundTripsWithAndWithoutRequestID exercises both the
// server-initiated-broadcast path (RequestID nil) and the
// reply-to-request path (RequestID set), across the full status range.
func TestPlaybackStateRoundTripsWithAndWithoutRequestID(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := PlaybackState{
			Status:        PlaybackStatus(rapid.IntRange(0, 3).Draw(rt, "status")),
			PlaybackSpeed: float32(rapid.Float64Range(-1000, 1000).Draw(rt, "speed")),
			DidSeek:       rapid.Bool().Draw(rt, "did_seek"),
			CurrentTime:   rapid.Uint64().Draw(rt, "current_time"),
		}
		if rapid.Bool().Draw(rt, "has_request_id") {
			id := rapid.StringN(0, 32, -1).Draw(rt, "request_id")
			s.RequestID = &id
		}

		body := EncodePlaybackStateBody(s)
		got, err := DecodePlaybackStateBody(body)
		require.NoError(rt, err)
		require.Equal(rt, s.Status, got.Status)
		require.Equal(rt, s.PlaybackSpeed, got.PlaybackSpeed)
		require.Equal(rt, s.DidSeek, got.DidSeek)
		require.Equal(rt, s.CurrentTime, got.CurrentTime)
		if s.RequestID == nil {
			require.Nil(rt, got.RequestID)
		} else {
			require.NotNil(rt, got.RequestID)
			require.Equal(rt, *s.RequestID, *got.RequestID)
		}
	})
}

// TestDecodeMessageDataBodyRejectsShortBody checks the declared-short
// error path deterministically, the one case rapid's generators won't
// usefully explore.
func TestDecodeMessageDataBodyRejectsShortBody(t *testing.T) {
	_, err := DecodeMessageDataBody([]byte{1, 2, 3})
	require.Error(t, err)
}
