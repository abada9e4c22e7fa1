// Package scheduler runs request work on a bounded, adaptive worker pool.
// Submission is non-blocking: when the queue is full the pool grows toward
// its maximum, and past that the configured rejection policy applies. An
// optional circuit breaker sheds load fast when the failure rate spikes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrTaskRejected is returned when the queue is full, the pool is at
	// its maximum size, and caller-runs is disabled.
	ErrTaskRejected = errors.New("task rejected: queue full and pool at maximum size")
	// ErrShutdown is returned for submissions after shutdown has begun.
	ErrShutdown = errors.New("scheduler is shut down")
)

// Pool is the worker pool. Construct with New; the zero value is not usable.
type Pool struct {
	cfg Config
	log zerolog.Logger

	queue    chan *Task
	stealing *stealingGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex // guards worker spawn/retire decisions
	wg       sync.WaitGroup
	poolSize atomic.Int32
	running  atomic.Int32
	inFlight atomic.Int64 // accepted tasks not yet finished

	shuttingDown atomic.Bool
	stopScaling  chan struct{}
	retire       chan struct{}

	breaker *Breaker

	tasksSubmitted atomic.Uint64
	tasksCompleted atomic.Uint64
	tasksRejected  atomic.Uint64
	tasksFailed    atomic.Uint64
	totalExecNanos atomic.Int64
}

// New builds and starts a pool. Core workers are spawned immediately when
// PrestartCoreThreads is set, otherwise lazily as tasks arrive.
func New(cfg Config, log zerolog.Logger) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:         cfg,
		log:         log.With().Str("component", "scheduler").Logger(),
		baseCtx:     ctx,
		cancel:      cancel,
		stopScaling: make(chan struct{}),
		retire:      make(chan struct{}),
	}

	if cfg.Breaker != nil {
		p.breaker = NewBreaker(cfg.Breaker)
	}

	if cfg.UseWorkStealing {
		p.stealing = newStealingGroup(p)
		p.log.Info().
			Int("workers", cfg.CorePoolSize).
			Msg("scheduler started in work-stealing mode")
		return p, nil
	}

	capacity := cfg.QueueCapacity
	if cfg.UseSynchronousHandoff {
		capacity = 0
	}
	p.queue = make(chan *Task, capacity)

	if cfg.PrestartCoreThreads {
		for i := 0; i < cfg.CorePoolSize; i++ {
			p.spawnWorker()
		}
	}

	if cfg.EnableDynamicScaling {
		go p.scalingLoop()
	}

	p.log.Info().
		Int("core", cfg.CorePoolSize).
		Int("max", cfg.MaxPoolSize).
		Int("queue", capacity).
		Bool("prestart", cfg.PrestartCoreThreads).
		Msg("scheduler started")
	return p, nil
}

// Submit hands fn to the pool and returns a handle for observing its
// outcome. The call never blocks on queue space: a full queue triggers pool
// growth, then the rejection policy. Submissions fail fast with
// ErrCircuitOpen while the breaker is open and ErrShutdown after shutdown.
func (p *Pool) Submit(fn func(ctx context.Context) error) (Handle, error) {
	if p.shuttingDown.Load() {
		p.tasksRejected.Add(1)
		return Handle{}, ErrShutdown
	}

	var trial bool
	if p.breaker != nil {
		admitted, err := p.breaker.Allow()
		if err != nil {
			p.tasksRejected.Add(1)
			return Handle{}, err
		}
		trial = admitted
	}

	p.tasksSubmitted.Add(1)
	t := newTask(fn)
	t.breakerTrial = trial
	p.inFlight.Add(1)

	if p.stealing != nil {
		return p.stealing.submit(t)
	}

	// Lazy core spawn for the non-prestarted pool.
	if int(p.poolSize.Load()) < p.cfg.CorePoolSize {
		p.spawnWorker()
	}

	select {
	case p.queue <- t:
		t.setState(StateQueued)
		return Handle{task: t}, nil
	default:
	}

	// Queue is full (or the handoff found no idle worker): grow toward max
	// before enqueueing, then retry briefly so the new worker can pick the
	// task up.
	if p.cfg.EnableDynamicScaling && p.spawnWorker() {
		timer := time.NewTimer(10 * time.Millisecond)
		defer timer.Stop()
		select {
		case p.queue <- t:
			t.setState(StateQueued)
			return Handle{task: t}, nil
		case <-timer.C:
		}
	}

	return p.reject(t)
}

// reject applies the saturation policy to a task that could not be queued.
func (p *Pool) reject(t *Task) (Handle, error) {
	if p.cfg.CallerRunsWhenRejected {
		p.log.Debug().Msg("pool saturated, running task on submitter")
		p.runTask(t)
		return Handle{task: t}, nil
	}

	p.tasksRejected.Add(1)
	if p.breaker != nil {
		p.breaker.Record(true, t.breakerTrial)
	}
	p.finishTask(t, ErrTaskRejected, StateRejected)
	return Handle{task: t}, ErrTaskRejected
}

// finishTask settles a task the pool accepted: terminal state, waiter
// wakeup, in-flight bookkeeping.
func (p *Pool) finishTask(t *Task, err error, s State) {
	t.finish(err, s)
	p.inFlight.Add(-1)
}

// spawnWorker adds a worker if the pool is below max. Reports whether one
// was started.
func (p *Pool) spawnWorker() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shuttingDown.Load() || int(p.poolSize.Load()) >= p.cfg.MaxPoolSize {
		return false
	}
	p.poolSize.Add(1)
	p.wg.Add(1)
	go p.worker()
	return true
}

// worker drains the shared queue. Workers above core size retire after
// KeepAliveTime without work, or when the scaling monitor asks.
func (p *Pool) worker() {
	defer p.wg.Done()

	idle := time.NewTimer(p.cfg.KeepAliveTime)
	defer idle.Stop()

	for {
		select {
		case t := <-p.queue:
			p.runTask(t)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.KeepAliveTime)
		case <-idle.C:
			if p.tryRetire() {
				return
			}
			idle.Reset(p.cfg.KeepAliveTime)
		case <-p.retire:
			if p.tryRetire() {
				return
			}
		case <-p.baseCtx.Done():
			p.poolSize.Add(-1)
			return
		}
	}
}

// tryRetire shrinks the pool by one as long as it stays at or above core
// size.
func (p *Pool) tryRetire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(p.poolSize.Load()) <= p.cfg.CorePoolSize {
		return false
	}
	p.poolSize.Add(-1)
	return true
}

// runTask executes a task, containing panics and feeding metrics and the
// breaker with the outcome.
func (p *Pool) runTask(t *Task) {
	t.setState(StateRunning)
	p.running.Add(1)

	start := time.Now()
	err := p.invoke(t)
	elapsed := time.Since(start)

	p.running.Add(-1)
	p.tasksCompleted.Add(1)
	if p.cfg.CollectMetrics {
		p.totalExecNanos.Add(elapsed.Nanoseconds())
	}

	if p.breaker != nil {
		p.breaker.Record(err != nil, t.breakerTrial)
	}

	if err != nil {
		p.tasksFailed.Add(1)
		p.finishTask(t, err, StateFailed)
		return
	}
	p.finishTask(t, nil, StateCompleted)
}

func (p *Pool) invoke(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.log.Error().Interface("panic", r).Msg("recovered task panic")
		}
	}()
	return t.fn(p.baseCtx)
}

// scalingLoop is the adaptive sizing monitor: grow by two workers when
// utilization runs hot or the queue backs up, signal one retirement when it
// runs cold.
func (p *Pool) scalingLoop() {
	ticker := time.NewTicker(p.cfg.ScalingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.adjust()
		case <-p.stopScaling:
			return
		}
	}
}

func (p *Pool) adjust() {
	size := int(p.poolSize.Load())
	if size == 0 {
		return
	}
	utilization := float64(p.running.Load()) / float64(size)
	depth := len(p.queue)
	backlogged := cap(p.queue) > 0 && depth > cap(p.queue)*3/4

	switch {
	case (utilization > p.cfg.TargetUtilization || backlogged) && size < p.cfg.MaxPoolSize:
		grew := 0
		for i := 0; i < 2; i++ {
			if p.spawnWorker() {
				grew++
			}
		}
		if grew > 0 {
			p.log.Info().
				Float64("utilization", utilization).
				Int("queue_depth", depth).
				Int("pool_size", size+grew).
				Msg("scaled pool up")
		}
	case utilization < p.cfg.TargetUtilization/2 && size > p.cfg.CorePoolSize:
		select {
		case p.retire <- struct{}{}:
			p.log.Info().
				Float64("utilization", utilization).
				Int("pool_size", size-1).
				Msg("scaled pool down")
		default:
		}
	}
}

// Shutdown stops accepting work and waits for queued and running tasks to
// drain. Returns ctx.Err if the deadline expires first; workers are left
// running in that case and ShutdownNow may be used to force them out.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.shuttingDown.CompareAndSwap(false, true) {
		return ErrShutdown
	}
	p.stopBackground()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.pending() == 0 {
			p.cancel()
			p.wg.Wait()
			p.log.Info().
				Uint64("completed", p.tasksCompleted.Load()).
				Msg("scheduler drained")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ShutdownNow cancels running tasks (best effort, via their context) and
// returns the tasks still queued, unexecuted, for inspection or requeueing.
// Their handles are released with ErrShutdown.
func (p *Pool) ShutdownNow() []*Task {
	first := p.shuttingDown.CompareAndSwap(false, true)
	if first {
		p.stopBackground()
	}
	p.cancel()

	var unexecuted []*Task
	if p.stealing != nil {
		unexecuted = p.stealing.drain()
	} else {
	drain:
		for {
			select {
			case t := <-p.queue:
				unexecuted = append(unexecuted, t)
			default:
				break drain
			}
		}
	}

	for _, t := range unexecuted {
		p.finishTask(t, ErrShutdown, StateQueued)
	}

	p.log.Warn().Int("unexecuted", len(unexecuted)).Msg("scheduler force-stopped")
	return unexecuted
}

func (p *Pool) stopBackground() {
	if p.cfg.EnableDynamicScaling && p.stealing == nil {
		close(p.stopScaling)
	}
}

// pending counts tasks accepted but not yet finished. Tracked directly
// rather than derived from the counters: breaker and shutdown rejections
// bump tasksRejected without ever being accepted.
func (p *Pool) pending() int64 {
	return p.inFlight.Load()
}

// Stats is a point-in-time snapshot of pool health.
type Stats struct {
	PoolSize       int
	Running        int
	QueueDepth     int
	QueueCapacity  int
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksRejected  uint64
	TasksFailed    uint64

	TotalExecutionTime   time.Duration
	AverageExecutionTime time.Duration

	BreakerState string
}

// Stats snapshots the pool's counters and gauges.
func (p *Pool) Stats() Stats {
	s := Stats{
		PoolSize:           int(p.poolSize.Load()),
		Running:            int(p.running.Load()),
		TasksSubmitted:     p.tasksSubmitted.Load(),
		TasksCompleted:     p.tasksCompleted.Load(),
		TasksRejected:      p.tasksRejected.Load(),
		TasksFailed:        p.tasksFailed.Load(),
		TotalExecutionTime: time.Duration(p.totalExecNanos.Load()),
	}
	if p.stealing != nil {
		s.QueueDepth, s.QueueCapacity = p.stealing.depth()
	} else {
		s.QueueDepth = len(p.queue)
		s.QueueCapacity = cap(p.queue)
	}
	if s.TasksCompleted > 0 {
		s.AverageExecutionTime = s.TotalExecutionTime / time.Duration(s.TasksCompleted)
	}
	if p.breaker != nil {
		s.BreakerState = p.breaker.State().String()
	}
	return s
}

// PoolSize returns the current worker count.
func (p *Pool) PoolSize() int { return int(p.poolSize.Load()) }

// RunningTasks returns the number of tasks executing right now.
func (p *Pool) RunningTasks() int { return int(p.running.Load()) }

// TasksSubmitted returns the count of accepted submissions.
func (p *Pool) TasksSubmitted() uint64 { return p.tasksSubmitted.Load() }

// TasksCompleted returns the count of tasks that finished executing,
// whether they succeeded or failed.
func (p *Pool) TasksCompleted() uint64 { return p.tasksCompleted.Load() }

// TasksRejected returns the count of submissions refused at the door.
func (p *Pool) TasksRejected() uint64 { return p.tasksRejected.Load() }

// TotalExecutionTime returns cumulative task execution time. Zero unless
// CollectMetrics is enabled.
func (p *Pool) TotalExecutionTime() time.Duration {
	return time.Duration(p.totalExecNanos.Load())
}

// AverageExecutionTime returns total execution time divided by completed
// tasks, or zero when nothing has completed.
func (p *Pool) AverageExecutionTime() time.Duration {
	completed := p.tasksCompleted.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(p.totalExecNanos.Load() / int64(completed))
}

// Breaker exposes the breaker overlay, or nil when disabled.
func (p *Pool) Breaker() *Breaker { return p.breaker }
