package mcapsink

import (
	"io"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/internal/mcap"
)

// DefaultQueueCapacity is the default bound on the background sink's
// command queue, matching the 1024-entry default the specification
// names for both this sink and the local WebSocket server's per-client
// outbound queue.
const DefaultQueueCapacity = 1024

type cmdKind int

const (
	cmdLog cmdKind = iota
	cmdMetadata
	cmdFinish
)

type command struct {
	kind cmdKind

	// cmdLog
	channel *fgcore.Channel
	payload []byte
	md      fgcore.Metadata

	// cmdMetadata
	name string
	meta map[string]string

	// cmdFinish
	reply chan finishResult
}

type finishResult struct {
	writer io.Writer
	err    error
}

// BackgroundSink wraps a SyncSink with a bounded queue and a dedicated
// writer goroutine, so Log never blocks on disk I/O. It is grounded on
// the teacher's WorkerPool (worker_pool.go): a buffered channel, a
// single consumer goroutine recovering from panics per message, and
// drop-on-full backpressure via a non-blocking send rather than an
// unbounded queue or a blocking one.
type BackgroundSink struct {
	id       fgcore.SinkID
	inner    *SyncSink
	queue    chan command
	wg       sync.WaitGroup
	logger   zerolog.Logger
	dropped  chan struct{} // closed once on first detected drop, for tests
	dropOnce sync.Once

	mu       sync.Mutex
	finished bool
}

// NewBackgroundSink opens the same underlying MCAP writer a SyncSink
// would, starts the writer goroutine, and returns a sink whose Log
// method is a non-blocking try_send against a bounded queue.
func NewBackgroundSink(w io.Writer, opts mcap.WriteOptions, logger zerolog.Logger, options ...Option) (*BackgroundSink, error) {
	return NewBackgroundSinkWithCapacity(w, opts, logger, DefaultQueueCapacity, options...)
}

// NewBackgroundSinkWithCapacity is NewBackgroundSink with an explicit
// queue capacity, primarily for tests exercising the overload property.
func NewBackgroundSinkWithCapacity(w io.Writer, opts mcap.WriteOptions, logger zerolog.Logger, capacity int, options ...Option) (*BackgroundSink, error) {
	inner, err := NewSyncSink(w, opts, options...)
	if err != nil {
		return nil, err
	}
	s := &BackgroundSink{
		id:      fgcore.NewSinkID(),
		inner:   inner,
		queue:   make(chan command, capacity),
		logger:  logger,
		dropped: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *BackgroundSink) ID() fgcore.SinkID { return s.id }

func (s *BackgroundSink) AutoSubscribe() bool { return s.inner.AutoSubscribe() }

func (s *BackgroundSink) AddChannels(channels []fgcore.ChannelDescriptor) []fgcore.ChannelID {
	return s.inner.AddChannels(channels)
}

func (s *BackgroundSink) RemoveChannel(channel fgcore.ChannelDescriptor) {
	s.inner.RemoveChannel(channel)
}

// Log enqueues the message with a non-blocking send. On a full queue
// the message is dropped silently, matching the specified lossy
// policy for the background MCAP sink.
func (s *BackgroundSink) Log(channel *fgcore.Channel, payload []byte, md fgcore.Metadata) error {
	select {
	case s.queue <- command{kind: cmdLog, channel: channel, payload: payload, md: md}:
	default:
		s.dropOnce.Do(func() { close(s.dropped) })
	}
	return nil
}

// Metadata enqueues an MCAP metadata record to be written by the
// background goroutine. Unlike Log, this blocks until the queue has
// room: metadata records are rare, operator-triggered writes, not
// hot-path telemetry, so losing one silently would be surprising.
func (s *BackgroundSink) Metadata(name string, meta map[string]string) {
	s.queue <- command{kind: cmdMetadata, name: name, meta: meta}
}

// Finish asks the writer goroutine to stop accepting further work,
// finalize the file, and return the underlying writer. It blocks until
// the goroutine has drained the queue and exited.
func (s *BackgroundSink) Finish() (io.Writer, error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil, nil
	}
	s.finished = true
	s.mu.Unlock()

	reply := make(chan finishResult, 1)
	s.queue <- command{kind: cmdFinish, reply: reply}
	s.wg.Wait()
	res := <-reply
	return res.writer, res.err
}

// Close is a synchronous Finish ignoring the returned writer, so
// BackgroundSink can also be used wherever an io.Closer is expected:
// dropping the handle without an explicit Finish still drains and
// finalizes rather than leaking the writer goroutine.
func (s *BackgroundSink) Close() error {
	_, err := s.Finish()
	return err
}

// run is the writer goroutine's main loop. It processes commands in
// order until it reads a cmdFinish, at which point it stops draining,
// finalizes the inner sink and replies on the caller's channel. Any
// commands still in the queue behind a cmdFinish are never processed,
// matching the specified "Finish: the writer drains no further
// commands" contract.
func (s *BackgroundSink) run() {
	defer s.wg.Done()
	for cmd := range s.queue {
		if cmd.kind == cmdFinish {
			err := s.inner.Close()
			cmd.reply <- finishResult{writer: s.inner.UnderlyingWriter(), err: err}
			return
		}
		s.process(cmd)
	}
}

func (s *BackgroundSink) process(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Str("goroutine", "mcapsink.BackgroundSink").
				Msg("background MCAP writer panic recovered")
		}
	}()

	switch cmd.kind {
	case cmdLog:
		if err := s.inner.Log(cmd.channel, cmd.payload, cmd.md); err != nil {
			s.logger.Warn().Err(err).Msg("background MCAP sink: write failed")
		}
	case cmdMetadata:
		if err := s.inner.Metadata(cmd.name, cmd.meta); err != nil {
			s.logger.Warn().Err(err).Str("name", cmd.name).Msg("background MCAP sink: metadata write failed")
		}
	}
}
