package main

import (
	"os"
	"sort"
	"time"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/internal/mcap"
	"github.com/cobaltfleet/fgcore/playback"
)

// recordingSource implements playback.Source over messages already
// flushed to the MCAP recording: it is a ranged-playback source for
// "replay what's been recorded so far", not a live tail.
type recordingSource struct {
	messages []playback.Message
}

// loadRecordingSource reads path's MCAP data section and resolves each
// message's on-disk channel id to the ctx channel with the same topic.
// Messages for channels not registered in ctx are skipped. A missing
// file yields an empty source rather than an error, since playback is
// optional and the recording may not exist yet.
func loadRecordingSource(path string, ctx *fgcore.Context) (*recordingSource, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &recordingSource{}, nil
		}
		return nil, err
	}
	defer f.Close()

	result, err := mcap.Read(f)
	if err != nil {
		return &recordingSource{}, nil
	}

	byFileChannel := make(map[uint16]fgcore.ChannelID, len(result.Channels))
	for id, info := range result.Channels {
		if ch, ok := ctx.ChannelByTopic(info.Topic); ok {
			byFileChannel[id] = ch.ID()
		}
	}

	out := make([]playback.Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		chID, ok := byFileChannel[m.ChannelID]
		if !ok {
			continue
		}
		out = append(out, playback.Message{Channel: chID, Payload: m.Data, LogTime: m.LogTime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogTime < out[j].LogTime })
	return &recordingSource{messages: out}, nil
}

// Next implements playback.Source.
func (s *recordingSource) Next(minTime uint64) (playback.Message, time.Duration, bool) {
	idx := sort.Search(len(s.messages), func(i int) bool { return s.messages[i].LogTime >= minTime })
	if idx >= len(s.messages) {
		return playback.Message{}, 0, false
	}
	msg := s.messages[idx]
	interval := 10 * time.Millisecond
	if idx+1 < len(s.messages) {
		delta := s.messages[idx+1].LogTime - msg.LogTime
		interval = time.Duration(delta)
	}
	return msg, interval, true
}
