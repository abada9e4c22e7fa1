package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		CorePoolSize:        2,
		MaxPoolSize:         4,
		QueueCapacity:       16,
		KeepAliveTime:       time.Minute,
		PrestartCoreThreads: true,
		CollectMetrics:      true,
	}
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { p.ShutdownNow() })
	return p
}

func TestSubmitAndComplete(t *testing.T) {
	p := newTestPool(t, testConfig())

	var ran atomic.Bool
	h, err := p.Submit(func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, h.Wait(context.Background()))
	assert.True(t, ran.Load())
	assert.Equal(t, StateCompleted, h.State())
	assert.Equal(t, uint64(1), p.TasksSubmitted())
	assert.Equal(t, uint64(1), p.TasksCompleted())
}

func TestTaskErrorSurfacesOnHandle(t *testing.T) {
	p := newTestPool(t, testConfig())
	boom := errors.New("boom")

	h, err := p.Submit(func(context.Context) error { return boom })
	require.NoError(t, err)

	assert.ErrorIs(t, h.Wait(context.Background()), boom)
	assert.Equal(t, StateFailed, h.State())
	assert.Equal(t, uint64(1), p.Stats().TasksFailed)
}

func TestPanicIsContained(t *testing.T) {
	p := newTestPool(t, testConfig())

	h, err := p.Submit(func(context.Context) error {
		panic("kaboom")
	})
	require.NoError(t, err)

	taskErr := h.Wait(context.Background())
	require.Error(t, taskErr)
	assert.Contains(t, taskErr.Error(), "kaboom")
	assert.Equal(t, StateFailed, h.State())

	// The worker survived the panic.
	h2, err := p.Submit(func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, h2.Wait(context.Background()))
}

func TestExecutionMetrics(t *testing.T) {
	p := newTestPool(t, testConfig())

	for i := 0; i < 3; i++ {
		h, err := p.Submit(func(context.Context) error {
			time.Sleep(2 * time.Millisecond)
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, h.Wait(context.Background()))
	}

	total := p.TotalExecutionTime()
	assert.Greater(t, total, time.Duration(0))
	assert.Equal(t, total/3, p.AverageExecutionTime())
}

func TestAverageIsZeroBeforeAnyCompletion(t *testing.T) {
	p := newTestPool(t, testConfig())
	assert.Equal(t, time.Duration(0), p.AverageExecutionTime())
}

// saturate fills every worker with a task blocked on release, then fills
// the queue.
func saturate(t *testing.T, p *Pool, workers, queued int) (release chan struct{}) {
	t.Helper()
	release = make(chan struct{})
	started := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		_, err := p.Submit(func(context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		})
		require.NoError(t, err)
	}
	for i := 0; i < workers; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("workers did not pick up blocking tasks")
		}
	}
	for i := 0; i < queued; i++ {
		_, err := p.Submit(func(context.Context) error { return nil })
		require.NoError(t, err)
	}
	return release
}

func TestRejectionWhenSaturated(t *testing.T) {
	cfg := Config{
		CorePoolSize:        1,
		MaxPoolSize:         1,
		QueueCapacity:       1,
		KeepAliveTime:       time.Minute,
		PrestartCoreThreads: true,
	}
	p := newTestPool(t, cfg)

	release := saturate(t, p, 1, 1)

	h, err := p.Submit(func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrTaskRejected)
	assert.Equal(t, StateRejected, h.State())
	assert.ErrorIs(t, h.Err(), ErrTaskRejected)
	assert.Equal(t, uint64(1), p.TasksRejected())

	// The rejection must not count against the drain accounting.
	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, p.Shutdown(ctx))
}

func TestCallerRunsWhenSaturated(t *testing.T) {
	cfg := Config{
		CorePoolSize:           1,
		MaxPoolSize:            1,
		QueueCapacity:          1,
		KeepAliveTime:          time.Minute,
		PrestartCoreThreads:    true,
		CallerRunsWhenRejected: true,
	}
	p := newTestPool(t, cfg)

	release := saturate(t, p, 1, 1)
	defer close(release)

	var ran atomic.Bool
	h, err := p.Submit(func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	// Caller-runs executes synchronously, so the handle is already done.
	assert.Equal(t, StateCompleted, h.State())
	assert.True(t, ran.Load())
	assert.Zero(t, p.TasksRejected())
}

func TestPoolGrowsUnderPressure(t *testing.T) {
	cfg := Config{
		CorePoolSize:         1,
		MaxPoolSize:          3,
		QueueCapacity:        1,
		KeepAliveTime:        time.Minute,
		PrestartCoreThreads:  true,
		EnableDynamicScaling: true,
		ScalingInterval:      time.Hour, // growth under test comes from Submit, not the monitor
	}
	p := newTestPool(t, cfg)

	release := saturate(t, p, 1, 1)
	defer close(release)

	// Queue is full: this submission must spawn a worker instead of failing.
	h, err := p.Submit(func(context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))
	assert.Greater(t, p.PoolSize(), 1)
}

func TestGracefulShutdownDrains(t *testing.T) {
	p, err := New(testConfig(), zerolog.Nop())
	require.NoError(t, err)

	const n = 50
	var done atomic.Int64
	for i := 0; i < n; i++ {
		_, err := p.Submit(func(context.Context) error {
			done.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	assert.Equal(t, int64(n), done.Load(), "every accepted task runs before shutdown returns")
}

func TestSubmitAfterShutdown(t *testing.T) {
	p, err := New(testConfig(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))

	_, err = p.Submit(func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownNowReturnsUnexecuted(t *testing.T) {
	cfg := Config{
		CorePoolSize:        1,
		MaxPoolSize:         1,
		QueueCapacity:       8,
		KeepAliveTime:       time.Minute,
		PrestartCoreThreads: true,
	}
	p, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	release := saturate(t, p, 1, 4)
	defer close(release)

	unexecuted := p.ShutdownNow()
	assert.NotEmpty(t, unexecuted)
	for _, task := range unexecuted {
		assert.Equal(t, StateQueued, task.State())
	}
}

func TestBreakerOverlayShedsLoad(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker = &BreakerConfig{
		FailureRateThreshold: 0.5,
		MinSamples:           4,
		Window:               10 * time.Second,
		ResetTimeout:         time.Hour,
	}
	p := newTestPool(t, cfg)

	boom := errors.New("downstream dead")
	for i := 0; i < 4; i++ {
		h, err := p.Submit(func(context.Context) error { return boom })
		require.NoError(t, err)
		<-h.Done()
	}

	require.Equal(t, BreakerOpen, p.Breaker().State())

	_, err := p.Submit(func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Positive(t, p.TasksRejected())
}

func TestGracefulShutdownAfterBreakerRejection(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker = &BreakerConfig{
		FailureRateThreshold: 0.5,
		MinSamples:           2,
		Window:               10 * time.Second,
		ResetTimeout:         time.Hour,
	}
	p, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	boom := errors.New("downstream dead")
	for i := 0; i < 2; i++ {
		h, err := p.Submit(func(context.Context) error { return boom })
		require.NoError(t, err)
		<-h.Done()
	}
	require.Equal(t, BreakerOpen, p.Breaker().State())

	_, err = p.Submit(func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)

	// The pool is idle; a breaker rejection must not make the drain hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, p.Shutdown(ctx))
}

func TestWorkStealingMode(t *testing.T) {
	cfg := Config{
		CorePoolSize:    4,
		MaxPoolSize:     4,
		QueueCapacity:   64,
		KeepAliveTime:   time.Minute,
		UseWorkStealing: true,
		CollectMetrics:  true,
	}
	p := newTestPool(t, cfg)

	const n = 200
	var done atomic.Int64
	handles := make([]Handle, 0, n)
	for i := 0; i < n; i++ {
		h, err := p.Submit(func(context.Context) error {
			done.Add(1)
			return nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}
	assert.Equal(t, int64(n), done.Load())
	assert.Equal(t, 4, p.PoolSize())
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"zero core", func(c *Config) { c.CorePoolSize = 0 }},
		{"max below core", func(c *Config) { c.MaxPoolSize = 1; c.CorePoolSize = 2 }},
		{"negative queue", func(c *Config) { c.QueueCapacity = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mod(&cfg)
			_, err := New(cfg, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}
