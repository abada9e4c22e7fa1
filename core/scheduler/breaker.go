package scheduler

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Submit while the breaker is rejecting work.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker's current mode.
type BreakerState int32

const (
	// BreakerClosed admits all work and tracks the failure rate.
	BreakerClosed BreakerState = iota
	// BreakerOpen fails submissions fast until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen admits exactly one trial task to probe recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the circuit breaker overlay.
type BreakerConfig struct {
	// FailureRateThreshold opens the circuit when the windowed failure
	// ratio reaches it. Range (0, 1].
	FailureRateThreshold float64
	// MinSamples is the minimum number of windowed outcomes before the
	// rate is evaluated, so a single early failure cannot trip the circuit.
	MinSamples int
	// Window is the rolling period over which outcomes are counted.
	Window time.Duration
	// ResetTimeout is how long the circuit stays open before admitting a
	// half-open trial.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig trips at a 50% failure rate over 10 seconds with at
// least 20 samples, and probes recovery after 5 seconds.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureRateThreshold: 0.5,
		MinSamples:           20,
		Window:               10 * time.Second,
		ResetTimeout:         5 * time.Second,
	}
}

// outcomeBucket aggregates one slice of the rolling window.
type outcomeBucket struct {
	start    time.Time
	total    int
	failures int
}

// Breaker is a rolling-window circuit breaker. Outcomes (task failures and
// queue rejections) feed the window; when the failure rate trips the
// threshold, submissions fail fast until a timed half-open probe succeeds.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	buckets   []outcomeBucket
	openedAt  time.Time
	trialBusy bool

	now func() time.Time // swapped in tests
}

const breakerBucketCount = 10

// NewBreaker builds a breaker from cfg, filling zero fields from defaults.
func NewBreaker(cfg *BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = def.FailureRateThreshold
	}
	if c.MinSamples <= 0 {
		c.MinSamples = def.MinSamples
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	return &Breaker{
		cfg:     c,
		state:   BreakerClosed,
		buckets: make([]outcomeBucket, 0, breakerBucketCount),
		now:     time.Now,
	}
}

// Allow reports whether a submission may proceed. In the half-open state
// only the first caller gets through; the rest see ErrCircuitOpen until the
// trial's outcome is recorded. The returned flag marks that admitted trial:
// the caller must hand it back to Record with the trial's outcome.
func (b *Breaker) Allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return false, nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.trialBusy = true
		return true, nil
	case BreakerHalfOpen:
		if b.trialBusy {
			return false, ErrCircuitOpen
		}
		b.trialBusy = true
		return true, nil
	}
	return false, nil
}

// Record feeds a task outcome into the window. Only the trial's own outcome
// resolves the half-open state: a trial success closes the circuit and
// resets the window, a trial failure re-opens it and restarts the reset
// timeout. Stragglers admitted before the circuit opened may finish while
// it is open or half-open; they count toward the window only.
func (b *Breaker) Record(failed, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial && b.state == BreakerHalfOpen {
		b.trialBusy = false
		if failed {
			b.state = BreakerOpen
			b.openedAt = b.now()
		} else {
			b.state = BreakerClosed
			b.buckets = b.buckets[:0]
		}
		return
	}

	b.record(failed)

	if b.state == BreakerClosed {
		total, failures := b.tally()
		if total >= b.cfg.MinSamples && float64(failures)/float64(total) >= b.cfg.FailureRateThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// record appends the outcome to the current bucket, rotating and expiring
// buckets as the window advances. Caller holds the lock.
func (b *Breaker) record(failed bool) {
	now := b.now()
	span := b.cfg.Window / breakerBucketCount

	if n := len(b.buckets); n == 0 || now.Sub(b.buckets[n-1].start) >= span {
		b.buckets = append(b.buckets, outcomeBucket{start: now})
	}

	cutoff := now.Add(-b.cfg.Window)
	for len(b.buckets) > 0 && b.buckets[0].start.Before(cutoff) {
		b.buckets = b.buckets[1:]
	}

	cur := &b.buckets[len(b.buckets)-1]
	cur.total++
	if failed {
		cur.failures++
	}
}

func (b *Breaker) tally() (total, failures int) {
	cutoff := b.now().Add(-b.cfg.Window)
	for _, bk := range b.buckets {
		if bk.start.Before(cutoff) {
			continue
		}
		total += bk.total
		failures += bk.failures
	}
	return total, failures
}
