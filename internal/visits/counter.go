// Package visits counts requests per endpoint behind a rate limiter.
package visits

import (
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Counter is a concurrent per-endpoint hit counter. Recordings beyond the
// limiter's rate are dropped rather than queued.
type Counter struct {
	limiter *rate.Limiter
	counts  sync.Map // endpoint -> *atomic.Int64
}

// NewCounter allows up to perSecond recordings per second, with bursts of
// the same size.
func NewCounter(perSecond int) *Counter {
	return &Counter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

// Record counts one visit to endpoint. It reports false when the visit was
// dropped by the rate limiter.
func (c *Counter) Record(endpoint string) bool {
	if !c.limiter.Allow() {
		log.Printf("Visit rate limit exceeded for %s", endpoint)
		return false
	}
	v, _ := c.counts.LoadOrStore(endpoint, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
	return true
}

// Count returns the number of recorded visits to endpoint.
func (c *Counter) Count(endpoint string) int64 {
	v, ok := c.counts.Load(endpoint)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// All returns a copy of every counter.
func (c *Counter) All() map[string]int64 {
	out := make(map[string]int64)
	c.counts.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Reset clears all counters.
func (c *Counter) Reset() {
	c.counts.Clear()
}
