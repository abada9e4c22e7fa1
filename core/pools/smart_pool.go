package pools

import (
	"sync"
	"sync/atomic"
	"time"
)

// SmartPool is a dynamically-sized object pool with warmup and statistics.
// Request-scoped objects (contexts, requests, responses) are drawn from it
// instead of being allocated per request.
type SmartPool struct {
	pool      sync.Pool
	newFunc   func() any
	resetFunc func(any)

	gets atomic.Uint64
	puts atomic.Uint64
	news atomic.Uint64

	warmupSize    int
	targetHitRate float64

	stopOptimize chan struct{}
	optimizeOnce sync.Once
}

// SmartPoolConfig configures a smart pool.
type SmartPoolConfig struct {
	New           func() any
	Reset         func(any)
	WarmupSize    int     // objects to pre-allocate
	TargetHitRate float64 // hit rate the optimizer grows toward (0.0-1.0)
}

// NewSmartPool creates a new smart pool and warms it up.
func NewSmartPool(config SmartPoolConfig) *SmartPool {
	if config.WarmupSize <= 0 {
		config.WarmupSize = 100
	}
	if config.TargetHitRate <= 0 {
		config.TargetHitRate = 0.90
	}

	sp := &SmartPool{
		newFunc:       config.New,
		resetFunc:     config.Reset,
		warmupSize:    config.WarmupSize,
		targetHitRate: config.TargetHitRate,
		stopOptimize:  make(chan struct{}),
	}

	sp.pool.New = func() any {
		sp.news.Add(1)
		return config.New()
	}

	sp.Warmup()

	return sp
}

// Get acquires an object from the pool.
func (sp *SmartPool) Get() any {
	sp.gets.Add(1)
	return sp.pool.Get()
}

// Put resets an object and returns it to the pool.
func (sp *SmartPool) Put(obj any) {
	if obj == nil {
		return
	}

	sp.puts.Add(1)

	if sp.resetFunc != nil {
		sp.resetFunc(obj)
	}

	sp.pool.Put(obj)
}

// Warmup pre-allocates objects in the pool.
func (sp *SmartPool) Warmup() {
	for i := 0; i < sp.warmupSize; i++ {
		sp.pool.Put(sp.newFunc())
	}
}

// Stats returns pool statistics.
func (sp *SmartPool) Stats() SmartPoolStats {
	gets := sp.gets.Load()
	news := sp.news.Load()

	hitRate := 0.0
	if gets > 0 && gets > news {
		hitRate = float64(gets-news) / float64(gets)
	}

	return SmartPoolStats{
		Gets:    gets,
		Puts:    sp.puts.Load(),
		News:    news,
		HitRate: hitRate,
	}
}

// SmartPoolStats contains smart pool statistics.
type SmartPoolStats struct {
	Gets    uint64
	Puts    uint64
	News    uint64
	HitRate float64
}

// Optimize grows the warm set when the observed hit rate falls below target.
// Misses mean callers are outpacing the pool, so warm 10% more objects.
func (sp *SmartPool) Optimize() {
	stats := sp.Stats()

	if stats.HitRate < sp.targetHitRate && stats.Gets > 1000 {
		additional := sp.warmupSize / 10
		if additional == 0 {
			additional = 1
		}
		for i := 0; i < additional; i++ {
			sp.pool.Put(sp.newFunc())
		}
	}
}

// StartAutoOptimize runs Optimize on a fixed interval until StopAutoOptimize.
func (sp *SmartPool) StartAutoOptimize(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sp.Optimize()
			case <-sp.stopOptimize:
				return
			}
		}
	}()
}

// StopAutoOptimize stops the background optimizer.
func (sp *SmartPool) StopAutoOptimize() {
	sp.optimizeOnce.Do(func() {
		close(sp.stopOptimize)
	})
}
