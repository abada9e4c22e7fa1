package scheduler

import (
	"fmt"
	"runtime"
	"time"
)

// Config tunes the worker pool. The zero value is not usable; start from
// DefaultConfig and override.
type Config struct {
	// CorePoolSize is the number of workers kept alive regardless of load.
	CorePoolSize int
	// MaxPoolSize caps the worker count under load.
	MaxPoolSize int
	// QueueCapacity bounds the shared task queue. Ignored when
	// UseSynchronousHandoff is set, which forces a zero-capacity handoff.
	QueueCapacity int
	// KeepAliveTime is how long a worker above core size idles before
	// retiring.
	KeepAliveTime time.Duration

	// UseWorkStealing replaces the shared queue with per-worker queues and
	// a stealing protocol. Global FIFO ordering is not preserved in this
	// mode; per-queue order is.
	UseWorkStealing bool
	// UseSynchronousHandoff hands tasks directly to an idle worker instead
	// of queueing. Submissions with no worker ready fall through to the
	// rejection policy.
	UseSynchronousHandoff bool
	// PrestartCoreThreads spawns all core workers at construction instead
	// of lazily on submission.
	PrestartCoreThreads bool
	// CallerRunsWhenRejected executes a rejected task synchronously on the
	// submitting goroutine instead of failing it. Throttles producers
	// naturally under saturation.
	CallerRunsWhenRejected bool

	// EnableDynamicScaling activates the background monitor that grows and
	// shrinks the pool between core and max based on utilization.
	EnableDynamicScaling bool
	// TargetUtilization is the running/poolSize ratio the monitor steers
	// toward.
	TargetUtilization float64
	// ScalingInterval is how often the monitor re-evaluates.
	ScalingInterval time.Duration

	// CollectMetrics enables execution-time accounting. Task counters are
	// always maintained.
	CollectMetrics bool

	// Breaker, when non-nil, overlays a circuit breaker on submission.
	Breaker *BreakerConfig
}

// DefaultConfig mirrors the tuning used by the stock application profile:
// an IO-leaning pool sized off the CPU count with a deep queue.
func DefaultConfig() Config {
	cpus := runtime.NumCPU()
	return Config{
		CorePoolSize:           cpus * 8,
		MaxPoolSize:            cpus * 16,
		QueueCapacity:          200000,
		KeepAliveTime:          30 * time.Second,
		PrestartCoreThreads:    true,
		CallerRunsWhenRejected: true,
		EnableDynamicScaling:   true,
		TargetUtilization:      0.85,
		ScalingInterval:        2 * time.Second,
		CollectMetrics:         true,
	}
}

func (c *Config) validate() error {
	if c.CorePoolSize < 1 {
		return fmt.Errorf("core pool size must be at least 1, got %d", c.CorePoolSize)
	}
	if c.MaxPoolSize < c.CorePoolSize {
		return fmt.Errorf("max pool size %d is below core pool size %d", c.MaxPoolSize, c.CorePoolSize)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity must not be negative, got %d", c.QueueCapacity)
	}
	if c.KeepAliveTime <= 0 {
		c.KeepAliveTime = 30 * time.Second
	}
	if c.TargetUtilization <= 0 || c.TargetUtilization > 1 {
		c.TargetUtilization = 0.85
	}
	if c.ScalingInterval <= 0 {
		c.ScalingInterval = 2 * time.Second
	}
	return nil
}
