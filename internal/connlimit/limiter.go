// Package connlimit rate-limits incoming WebSocket connection attempts
// by source IP and system-wide, grounded on the teacher's
// internal/shared/limits/connection_rate_limiter.go, adapted to drop
// its Kafka-deployment-specific Prometheus counter in favor of a
// debug-level log line for each rejected connection.
package connlimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Limiter enforces a two-level token bucket: a global bucket that
// bounds system-wide connection churn, and a per-IP bucket that
// bounds any single source from monopolizing the global budget.
type Limiter struct {
	ipLimiters map[string]*ipEntry
	ipMu       sync.RWMutex
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	global *rate.Limiter

	logger zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Config configures a Limiter. Zero fields take the defaults noted
// alongside each one.
type Config struct {
	IPBurst     int           // default 10
	IPRate      float64       // default 1.0/sec
	IPTTL       time.Duration // default 5m
	GlobalBurst int           // default 300
	GlobalRate  float64       // default 50.0/sec
}

// New constructs a Limiter and starts its stale-entry cleanup goroutine.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPRate == 0 {
		cfg.IPRate = 1.0
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}

	l := &Limiter{
		ipLimiters:    make(map[string]*ipEntry),
		ipBurst:       cfg.IPBurst,
		ipRate:        cfg.IPRate,
		ipTTL:         cfg.IPTTL,
		global:        rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger:        logger.With().Str("component", "connlimit").Logger(),
		cleanupTicker: time.NewTicker(time.Minute),
		stopCleanup:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a connection attempt from ip should proceed.
// The global bucket is checked first so a flood from many distinct IPs
// still gets bounded even though no single IP trips its own limiter.
func (l *Limiter) Allow(ip string) bool {
	if !l.global.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("connection rejected: global rate limit exceeded")
		return false
	}
	if !l.ipLimiter(ip).Allow() {
		l.logger.Debug().Str("ip", ip).Msg("connection rejected: per-ip rate limit exceeded")
		return false
	}
	return true
}

func (l *Limiter) ipLimiter(ip string) *rate.Limiter {
	l.ipMu.RLock()
	entry, ok := l.ipLimiters[ip]
	l.ipMu.RUnlock()
	if ok {
		l.ipMu.Lock()
		entry.lastAccess = time.Now()
		l.ipMu.Unlock()
		return entry.limiter
	}

	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	if entry, ok = l.ipLimiters[ip]; ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}
	limiter := rate.NewLimiter(rate.Limit(l.ipRate), l.ipBurst)
	l.ipLimiters[ip] = &ipEntry{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.cleanup()
		case <-l.stopCleanup:
			l.cleanupTicker.Stop()
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	now := time.Now()
	for ip, entry := range l.ipLimiters {
		if now.Sub(entry.lastAccess) > l.ipTTL {
			delete(l.ipLimiters, ip)
		}
	}
}

// Stop ends the cleanup goroutine. Call it during shutdown.
func (l *Limiter) Stop() {
	close(l.stopCleanup)
}
