// Package mcapsink implements the two MCAP file sinks: a synchronous
// sink that writes directly on the logging thread, and a
// background-threaded sink that decouples hot-path latency from disk
// latency behind a bounded, lossy command queue.
//
// Both are grounded on the teacher's worker_pool.go, which establishes
// the same shape: a bounded channel accepting commands, a dedicated
// goroutine draining it, drop-on-full backpressure via a non-blocking
// send, and panic-safe execution using the pattern from
// internal/shared/monitoring/logger.go's RecoverPanic.
package mcapsink

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/internal/mcap"
)

// SyncSink writes MCAP records directly on the calling goroutine. It
// holds a single mutex protecting the underlying writer state, the
// context-channel → file-channel map, and the per-file-channel
// sequence counters, exactly as specified for the sync sink: "Holds a
// single writer state behind a mutex."
type SyncSink struct {
	id fgcore.SinkID

	mu       sync.Mutex
	raw      io.Writer
	w        *mcap.Writer
	closed   bool
	filter   fgcore.SinkChannelFilter
	autoSub  bool
	chanToFC map[fgcore.ChannelID]uint16 // context channel -> file channel
	fcByKey  map[string]uint16           // content key -> file channel (for dedup, S2)
	nextSeq  map[uint16]uint32           // file channel -> next sequence
}

// Option configures a SyncSink at construction time.
type Option func(*SyncSink)

// WithChannelFilter restricts which channels this sink accepts. A nil
// filter (the default) accepts every channel.
func WithChannelFilter(f fgcore.SinkChannelFilter) Option {
	return func(s *SyncSink) { s.filter = f }
}

// WithAutoSubscribe sets whether the sink should receive every
// channel's messages without an explicit Context.SubscribeChannels
// call. Defaults to true, matching a file sink's usual "record
// everything" posture.
func WithAutoSubscribe(auto bool) Option {
	return func(s *SyncSink) { s.autoSub = auto }
}

// NewSyncSink opens an MCAP file on w with the given options and
// returns a sink ready to register with a Context via Context.AddSink.
func NewSyncSink(w io.Writer, opts mcap.WriteOptions, options ...Option) (*SyncSink, error) {
	mw, err := mcap.NewWriter(w, opts)
	if err != nil {
		return nil, fmt.Errorf("mcapsink: open writer: %w", err)
	}
	s := &SyncSink{
		raw:      w,
		w:        mw,
		autoSub:  true,
		chanToFC: make(map[fgcore.ChannelID]uint16),
		fcByKey:  make(map[string]uint16),
		nextSeq:  make(map[uint16]uint32),
	}
	s.id = fgcore.NewSinkID()
	for _, o := range options {
		o(s)
	}
	return s, nil
}

func (s *SyncSink) ID() fgcore.SinkID { return s.id }

func (s *SyncSink) AutoSubscribe() bool { return s.autoSub }

// AddChannels accepts channels passing the configured filter (or every
// channel if none was set). The file channel mapping itself is
// established lazily on first Log, not here.
func (s *SyncSink) AddChannels(channels []fgcore.ChannelDescriptor) []fgcore.ChannelID {
	if s.filter == nil {
		ids := make([]fgcore.ChannelID, 0, len(channels))
		for _, c := range channels {
			ids = append(ids, c.ID)
		}
		return ids
	}
	var ids []fgcore.ChannelID
	for _, c := range channels {
		if s.filter(c) {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// RemoveChannel drops the context-channel → file-channel mapping. The
// file channel record itself remains in the MCAP file; MCAP has no
// notion of retracting a channel once written.
func (s *SyncSink) RemoveChannel(channel fgcore.ChannelDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chanToFC, channel.ID)
}

// Log writes one message record. On a context channel's first Log, the
// sink interns its schema and registers an MCAP channel, or reuses an
// existing file channel id if an identical (topic, schema, encoding,
// metadata) tuple was already registered — the MCAP-encoder channel
// sharing behavior described for two context channels that happen to
// be identical.
func (s *SyncSink) Log(channel *fgcore.Channel, payload []byte, md fgcore.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &fgcore.SinkClosedError{SinkID: s.id}
	}

	fc, err := s.fileChannelLocked(channel)
	if err != nil {
		return err
	}

	seq := s.nextSeq[fc]
	seq++
	s.nextSeq[fc] = seq

	logTime := md.LogTime
	publishTime := logTime
	if md.PublishTime != nil {
		publishTime = *md.PublishTime
	}
	return s.w.WriteMessage(fc, seq, logTime, publishTime, payload)
}

func (s *SyncSink) fileChannelLocked(channel *fgcore.Channel) (uint16, error) {
	if fc, ok := s.chanToFC[channel.ID()]; ok {
		return fc, nil
	}

	key := channelContentKey(channel)
	if fc, ok := s.fcByKey[key]; ok {
		s.chanToFC[channel.ID()] = fc
		return fc, nil
	}

	var schemaID uint16
	var err error
	if schema := channel.Schema(); schema != nil {
		schemaID, err = s.w.AddSchema(&mcap.Schema{Name: schema.Name, Encoding: schema.Encoding, Data: schema.Data})
		if err != nil {
			return 0, err
		}
	}

	fc, err := s.w.AddChannel(schemaID, channel.Topic(), channel.MessageEncoding(), channel.Metadata())
	if err != nil {
		return 0, err
	}
	s.fcByKey[key] = fc
	s.chanToFC[channel.ID()] = fc
	s.nextSeq[fc] = 0
	return fc, nil
}

func channelContentKey(channel *fgcore.Channel) string {
	var schemaPart string
	if schema := channel.Schema(); schema != nil {
		schemaPart = schema.Encoding + "\x00" + schema.Name + "\x00" + string(schema.Data)
	}

	md := channel.Metadata()
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var mdParts []string
	for _, k := range keys {
		mdParts = append(mdParts, k+"="+md[k])
	}

	return strings.Join([]string{
		channel.Topic(),
		channel.MessageEncoding(),
		schemaPart,
		strings.Join(mdParts, ","),
	}, "\x1f")
}

// Metadata writes a named key-value MCAP metadata record directly.
func (s *SyncSink) Metadata(name string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &fgcore.SinkClosedError{SinkID: s.id}
	}
	return s.w.WriteMetadata(name, data)
}

// Close finalizes the MCAP file and marks the sink closed. Further Log
// calls return SinkClosedError. Close is idempotent.
func (s *SyncSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

// UnderlyingWriter returns the io.Writer the sink was opened with, so
// a caller (or the background sink's Finish) can recover it — for
// instance to close an *os.File — once the MCAP footer has been
// written.
func (s *SyncSink) UnderlyingWriter() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw
}
