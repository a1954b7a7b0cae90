package fgcore

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultContextOnce sync.Once
	defaultContext      *Context
)

// DefaultContext returns the process-wide Context that NewDefaultChannel
// builds on. It is created lazily on first use with a console logger
// on stderr with an RFC3339 timestamp and a component=fgcore field; no
// level is set on that logger, so zerolog's global level applies.
// Applications that want custom fields or level should build their own
// Context with NewContext instead of relying on the default.
func DefaultContext() *Context {
	defaultContextOnce.Do(func() {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05Z07:00"}).
			With().
			Timestamp().
			Str("component", "fgcore").
			Logger()
		defaultContext = NewContext(logger)
	})
	return defaultContext
}

// NewDefaultChannel starts building a channel on the default context.
func NewDefaultChannel(topic string) *ChannelBuilder {
	return NewChannel(DefaultContext(), topic)
}
