// Command fgcore-bridge wires a fgcore.Context to a local wsserver, an
// optional remote relay, and an MCAP recording sink, and exposes a
// ranged playback controller over whichever recording has accumulated
// so far. It is the demo/reference binary for this module, grounded on
// the teacher's own cmd/multi and cmd/single entrypoints.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/cobaltfleet/fgcore"
	"github.com/cobaltfleet/fgcore/internal/connlimit"
	"github.com/cobaltfleet/fgcore/internal/fgmetrics"
	"github.com/cobaltfleet/fgcore/internal/mcap"
	"github.com/cobaltfleet/fgcore/internal/obslog"
	"github.com/cobaltfleet/fgcore/internal/workerpool"
	"github.com/cobaltfleet/fgcore/mcapsink"
	"github.com/cobaltfleet/fgcore/playback"
	"github.com/cobaltfleet/fgcore/relay"
	"github.com/cobaltfleet/fgcore/relay/sfu/natssfu"
	"github.com/cobaltfleet/fgcore/wsprotocol"
	"github.com/cobaltfleet/fgcore/wsserver"
)

func main() {
	bootLogger := obslog.New(obslog.Config{Service: "fgcore-bridge", Level: obslog.LevelInfo, Format: obslog.FormatJSON})

	cfg, err := LoadConfig(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("load configuration")
	}

	logger := obslog.New(obslog.Config{
		Service: "fgcore-bridge",
		Level:   obslog.Level(cfg.LogLevel),
		Format:  obslog.Format(cfg.LogFormat),
	})
	cfg.Print()

	memLimit := cfg.MemoryLimit
	if detected, err := memoryLimitFromCgroup(); err == nil && detected > 0 {
		memLimit = detected
	}
	backlog := calculateClientBacklog(memLimit)
	logger.Info().Int("backlog", backlog).Msg("sized per-client backlog from detected memory limit")

	ctx := fgcore.NewContext(logger)

	mcapFile, err := os.Create(cfg.MCAPPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.MCAPPath).Msg("create mcap recording file")
	}
	defer mcapFile.Close()

	recorder, err := mcapsink.NewBackgroundSink(mcapFile, mcap.WriteOptions{
		UseChunks:          true,
		ChunkSize:          4 * 1024 * 1024,
		Compression:        mcap.CompressionZstd,
		EmitStatistics:     true,
		EmitMessageIndexes: true,
		EmitChunkIndexes:   true,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("construct mcap recording sink")
	}
	ctx.AddSink(recorder)

	pool := workerpool.New(cfg.WorkerPoolSize, cfg.WorkerQueueSize, logger)
	rateLimiter := connlimit.New(connlimit.Config{}, logger)
	defer rateLimiter.Stop()

	listener := newBridgeListener(logger)

	server := wsserver.NewServer(
		wsserver.WithLogger(logger),
		wsserver.WithName("fgcore-bridge"),
		wsserver.WithBacklog(backlog),
		wsserver.WithWorkerPool(pool),
		wsserver.WithConnectionRateLimiter(rateLimiter),
		wsserver.WithListenerCallback(listener),
		wsserver.WithCapabilities(
			wsserver.CapabilityPlaybackControl,
			wsserver.CapabilityRangedPlayback,
			wsserver.CapabilityConnectionGraph,
		),
	)
	listener.server = server
	ctx.AddSink(server)

	var relaySink *relay.Sink
	if cfg.RelayEnabled() {
		relaySink = relay.New(relay.Config{
			DeviceToken: cfg.RelayDeviceToken,
			APIURL:      cfg.RelayAPIURL,
			APITimeout:  cfg.RelayAPITimeout,
			SFU:         natssfu.New(natssfu.DefaultConfig(), logger),
			Name:        "fgcore-bridge",
			Logger:      logger,
		})
		ctx.AddSink(relaySink)
	}

	source, err := loadRecordingSource(cfg.MCAPPath, ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("load recording source for playback; starting with an empty source")
		source = &recordingSource{}
	}

	controller := playback.New(
		cfg.PlaybackStartTime,
		cfg.PlaybackEndTime,
		source,
		&bridgeEmitter{ctx: ctx, logger: logger},
		&multiBroadcaster{wsserver: server, relay: relaySink},
		logger,
	)
	listener.controller = controller

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(rootCtx)
	controller.Start(rootCtx)

	if err := server.Start(cfg.Addr); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Addr).Msg("start wsserver")
	}
	logger.Info().Str("addr", cfg.Addr).Msg("wsserver listening")

	if relaySink != nil {
		relaySink.Start(ctx)
		logger.Info().Msg("relay sink started")
	}

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
	go sampleMetricsForever(rootCtx, cfg.MetricsInterval)
	logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	controller.Stop()
	if relaySink != nil {
		if err := relaySink.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("relay sink shutdown")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("wsserver shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown")
	}
	pool.Stop()
	if err := recorder.Close(); err != nil {
		logger.Error().Err(err).Msg("close mcap recording sink")
	}
	cancel()
	logger.Info().Msg("shutdown complete")
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", fgmetrics.Handler())
	return mux
}

func sampleMetricsForever(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fgmetrics.SampleRuntime()
		}
	}
}

// bridgeListener bridges wsserver's ServerListener callbacks to the
// playback controller and a per-client reply.
type bridgeListener struct {
	logger     zerolog.Logger
	controller *playback.Controller
	server     *wsserver.Server
}

func newBridgeListener(logger zerolog.Logger) *bridgeListener {
	return &bridgeListener{logger: logger}
}

func (l *bridgeListener) OnSubscribe(client wsserver.ClientID, channel fgcore.ChannelID) {
	fgmetrics.WSServerClientsActive.Inc()
}

func (l *bridgeListener) OnUnsubscribe(client wsserver.ClientID, channel fgcore.ChannelID) {
	fgmetrics.WSServerClientsActive.Dec()
}

func (l *bridgeListener) OnPlaybackControlRequest(client wsserver.ClientID, req wsprotocol.PlaybackControlRequest) {
	if l.controller == nil {
		return
	}
	state := l.controller.HandleRequest(req)
	if l.server != nil {
		l.server.SendPlaybackState(client, state)
	}
}

// bridgeEmitter delivers played-back messages by logging them straight
// onto the context's channels, which fans them out to every sink the
// same way a live producer's Log call would.
type bridgeEmitter struct {
	ctx    *fgcore.Context
	logger zerolog.Logger
}

func (e *bridgeEmitter) EmitData(msg playback.Message) {
	for _, ch := range e.ctx.Channels() {
		if ch.ID() != msg.Channel {
			continue
		}
		ch.Log(msg.Payload, fgcore.Metadata{LogTime: msg.LogTime})
		return
	}
}

// multiBroadcaster fans a PlaybackState out to both the local wsserver
// and the remote relay sink, whichever are configured.
type multiBroadcaster struct {
	wsserver *wsserver.Server
	relay    *relay.Sink
}

func (b *multiBroadcaster) BroadcastPlaybackState(state wsprotocol.PlaybackState) {
	if b.wsserver != nil {
		b.wsserver.BroadcastPlaybackState(state)
	}
	if b.relay != nil {
		b.relay.BroadcastPlaybackState(state)
	}
}
