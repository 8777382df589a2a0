package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds the budgets of one vat.
type Config struct {
	// MemoryLimitBytes caps the encoded size of cached object state.
	// Zero tracks usage without a cap.
	MemoryLimitBytes int64

	// IOLimitBytesPerSec caps snapshot export and import throughput.
	// Zero is unlimited.
	IOLimitBytesPerSec int64
}

// Controller hands out memory and IO budget. A nil *Controller grants
// everything.
type Controller struct {
	limit int64
	sem   *semaphore.Weighted
	used  atomic.Int64
	io    *rate.Limiter
}

// NewController returns a Controller for cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{limit: cfg.MemoryLimitBytes}
	if cfg.MemoryLimitBytes > 0 {
		c.sem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// TryAcquireMemory reserves n bytes for cached state. It never blocks; the
// cache evicts and retries when it reports false.
func (c *Controller) TryAcquireMemory(n int64) bool {
	if c == nil || n <= 0 {
		return true
	}
	if c.sem != nil && !c.sem.TryAcquire(n) {
		return false
	}
	c.used.Add(n)
	return true
}

// ReleaseMemory returns n bytes reserved by TryAcquireMemory.
func (c *Controller) ReleaseMemory(n int64) {
	if c == nil || n <= 0 {
		return
	}
	if c.sem != nil {
		c.sem.Release(n)
	}
	c.used.Add(-n)
}

// MemoryUsage returns the bytes currently reserved.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.used.Load()
}

// MemoryLimit returns the memory cap, or 0.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.limit
}

// AcquireIO blocks until n snapshot bytes may be moved. Requests above the
// limiter burst are taken in burst-sized steps.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.io == nil {
		return nil
	}
	burst := c.io.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := c.io.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
