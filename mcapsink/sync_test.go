package mcapsink

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/internal/mcap"
)

func TestSyncSinkWritesInterleavedMessagesFromTwoChannels(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewSyncSink(&buf, mcap.DefaultWriteOptions())
	require.NoError(t, err)

	ctx := fgcore.NewContext(zerolog.Nop())
	ctx.AddSink(sink)

	imu, err := fgcore.NewChannel(ctx, "/imu").WithMessageEncoding("json").Build()
	require.NoError(t, err)
	gps, err := fgcore.NewChannel(ctx, "/gps").WithMessageEncoding("json").Build()
	require.NoError(t, err)

	imu.Log([]byte(`{"seq":1}`), fgcore.Metadata{LogTime: 100})
	gps.Log([]byte(`{"seq":1}`), fgcore.Metadata{LogTime: 150})
	imu.Log([]byte(`{"seq":2}`), fgcore.Metadata{LogTime: 200})
	gps.Log([]byte(`{"seq":2}`), fgcore.Metadata{LogTime: 250})

	require.NoError(t, sink.Close())

	result, err := mcap.Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, result.Channels, 2)
	require.Len(t, result.Messages, 4)

	topics := make(map[uint16]string)
	for id, info := range result.Channels {
		topics[id] = info.Topic
	}

	var gotLogTimes []uint64
	for _, m := range result.Messages {
		gotLogTimes = append(gotLogTimes, m.LogTime)
		assert.Contains(t, []string{"/imu", "/gps"}, topics[m.ChannelID])
	}
	assert.Equal(t, []uint64{100, 150, 200, 250}, gotLogTimes)
}

func TestSyncSinkDedupsIdenticalChannelsIntoOneFileChannel(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewSyncSink(&buf, mcap.DefaultWriteOptions())
	require.NoError(t, err)

	ctx := fgcore.NewContext(zerolog.Nop())
	ctx.AddSink(sink)

	// Two distinct context channels with identical topic, encoding,
	// schema, and metadata collapse to the same MCAP file channel.
	a, err := fgcore.NewChannel(ctx, "/shared").WithMessageEncoding("json").Build()
	require.NoError(t, err)
	a.Log([]byte("a"), fgcore.Metadata{LogTime: 1})
	ctx.RemoveChannel(a.ID())

	b, err := fgcore.NewChannel(ctx, "/shared").WithMessageEncoding("json").Build()
	require.NoError(t, err)
	b.Log([]byte("b"), fgcore.Metadata{LogTime: 2})
	require.NoError(t, sink.Close())

	result, err := mcap.Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Len(t, result.Channels, 1)
	assert.Len(t, result.Messages, 2)
}

func TestSyncSinkMetadataRoundTripsThroughReader(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewSyncSink(&buf, mcap.DefaultWriteOptions())
	require.NoError(t, err)

	require.NoError(t, sink.Metadata("calibration", map[string]string{"imu_bias": "0.01"}))
	require.NoError(t, sink.Close())

	result, err := mcap.Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, result.Metadata, 1)
	assert.Equal(t, "calibration", result.Metadata[0].Name)
	assert.Equal(t, map[string]string{"imu_bias": "0.01"}, result.Metadata[0].Data)
}

func TestSyncSinkMetadataAfterCloseReturnsSinkClosedError(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewSyncSink(&buf, mcap.DefaultWriteOptions())
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	err = sink.Metadata("late", map[string]string{"k": "v"})
	var closedErr *fgcore.SinkClosedError
	assert.ErrorAs(t, err, &closedErr)
}

func TestSyncSinkLogAfterCloseReturnsSinkClosedError(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewSyncSink(&buf, mcap.DefaultWriteOptions())
	require.NoError(t, err)

	ctx := fgcore.NewContext(zerolog.Nop())
	ctx.AddSink(sink)
	ch, err := fgcore.NewChannel(ctx, "/t").WithMessageEncoding("json").Build()
	require.NoError(t, err)

	require.NoError(t, sink.Close())
	err = sink.Log(ch, []byte("x"), fgcore.Metadata{LogTime: 1})
	var closedErr *fgcore.SinkClosedError
	assert.ErrorAs(t, err, &closedErr)
}
