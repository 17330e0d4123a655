// Package writer implements the Writer state machine of §4.4: the
// component that owns a queue, a batcher, and a facade, and drives the
// send/retry/requeue loop.
package writer

import (
	"sync"
	"time"

	"github.com/Clever/log-writer-core/facade"
)

// RotationPolicy decides, once per buildBatch/processBatch cycle, whether
// the writer should rotate its destination (§4.4's "rotation trigger").
// Implementations must be safe to call from the single writer goroutine
// only; they are never called concurrently.
type RotationPolicy interface {
	// ShouldRotate is evaluated after a batch has been sent (or
	// immediately, if sentCount==0 and no batch was built). now is the
	// time of evaluation; sentCount is the number of messages the batch
	// just processed sent successfully.
	ShouldRotate(now time.Time, sentCount int) bool
	// Reset is called immediately after a rotation completes so interval
	// and count policies restart their window.
	Reset(now time.Time)
}

// NoRotation never rotates; explicit rotate() calls are the only trigger.
// This is the default for all three facade variants unless the host
// configures otherwise.
type NoRotation struct{}

func (NoRotation) ShouldRotate(time.Time, int) bool { return false }
func (NoRotation) Reset(time.Time)                  {}

// CountRotation rotates once at least N messages have been sent since the
// last rotation (or construction).
type CountRotation struct {
	mu      sync.Mutex
	every   int
	sent    int
}

// NewCountRotation constructs a CountRotation that triggers every n
// messages sent. n <= 0 disables rotation (equivalent to NoRotation).
func NewCountRotation(n int) *CountRotation {
	return &CountRotation{every: n}
}

func (c *CountRotation) ShouldRotate(now time.Time, sentCount int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.every <= 0 {
		return false
	}
	c.sent += sentCount
	return c.sent >= c.every
}

func (c *CountRotation) Reset(time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = 0
}

// IntervalRotation rotates once the configured duration has elapsed since
// the last rotation (or construction).
type IntervalRotation struct {
	mu       sync.Mutex
	interval time.Duration
	since    time.Time
}

// NewIntervalRotation constructs an IntervalRotation that triggers every
// d of wall-clock time.
func NewIntervalRotation(d time.Duration, now time.Time) *IntervalRotation {
	return &IntervalRotation{interval: d, since: now}
}

func (r *IntervalRotation) ShouldRotate(now time.Time, sentCount int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval > 0 && now.Sub(r.since) >= r.interval
}

func (r *IntervalRotation) Reset(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.since = now
}

// HourlyRotation rotates the first time ShouldRotate is evaluated in a
// new UTC hour bucket relative to the bucket at construction/last reset.
type HourlyRotation struct {
	mu     sync.Mutex
	bucket time.Time
}

// NewHourlyRotation constructs an HourlyRotation anchored to now's hour
// bucket (computed the same way as {hourlyTimestamp}, via
// facade.HourlyBucket).
func NewHourlyRotation(now time.Time) *HourlyRotation {
	return &HourlyRotation{bucket: facade.HourlyBucket(now.UnixMilli())}
}

func (h *HourlyRotation) ShouldRotate(now time.Time, sentCount int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !facade.HourlyBucket(now.UnixMilli()).Equal(h.bucket)
}

func (h *HourlyRotation) Reset(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bucket = facade.HourlyBucket(now.UnixMilli())
}

// DailyRotation rotates the first time ShouldRotate is evaluated on a new
// UTC calendar day relative to construction/last reset.
type DailyRotation struct {
	mu  sync.Mutex
	day time.Time
}

// NewDailyRotation constructs a DailyRotation anchored to now's UTC day.
func NewDailyRotation(now time.Time) *DailyRotation {
	return &DailyRotation{day: dayOf(now)}
}

func (d *DailyRotation) ShouldRotate(now time.Time, sentCount int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !dayOf(now).Equal(d.day)
}

func (d *DailyRotation) Reset(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.day = dayOf(now)
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
