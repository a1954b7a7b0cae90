// Package throttle rate-limits repeated warning logging so a channel or
// sink under sustained failure logs a bounded number of lines per
// window instead of one per message.
//
// It is grounded on the rate-limiting pattern in the teacher's
// ResourceGuard (internal/shared/limits/resource_guard.go), which uses
// golang.org/x/time/rate to cap Kafka consumption and broadcast rate;
// here the same limiter caps log volume instead of work volume.
package throttle

import "golang.org/x/time/rate"

// DefaultWindow permits one warning per second with a small burst, the
// same shape ResourceGuard uses for its broadcast limiter.
const DefaultWindow = rate.Limit(1)

// Throttle gates a callback so it runs at most once per tick of its
// underlying limiter, regardless of how often Do is called.
type Throttle struct {
	limiter *rate.Limiter
}

// New builds a Throttle allowing events at rate r with a burst of 1.
func New(r rate.Limit) *Throttle {
	return &Throttle{limiter: rate.NewLimiter(r, 1)}
}

// Do invokes fn if the limiter currently permits an event, and is a
// no-op otherwise. Callers use this to wrap a logger.Warn() call so
// a hot error path degrades to a bounded log rate instead of silence
// or a flood.
func (t *Throttle) Do(fn func()) {
	if t.limiter.Allow() {
		fn()
	}
}
