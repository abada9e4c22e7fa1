package scheduler

import (
	"sync/atomic"
	"time"
)

// stealingGroup replaces the shared queue with one queue per worker. Tasks
// are placed round-robin; an idle worker drains its own queue first, then
// steals from its peers. Order is preserved per queue, not globally.
type stealingGroup struct {
	pool   *Pool
	queues []chan *Task
	next   atomic.Uint64

	steals      atomic.Uint64
	stealMisses atomic.Uint64
}

// stealPollInterval bounds how long an idle worker waits on its own queue
// before re-checking its peers.
const stealPollInterval = 5 * time.Millisecond

func newStealingGroup(p *Pool) *stealingGroup {
	n := p.cfg.CorePoolSize
	perQueue := p.cfg.QueueCapacity / n
	if perQueue < 16 {
		perQueue = 16
	}

	g := &stealingGroup{
		pool:   p,
		queues: make([]chan *Task, n),
	}
	for i := range g.queues {
		g.queues[i] = make(chan *Task, perQueue)
	}

	p.poolSize.Store(int32(n))
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go g.worker(i)
	}
	return g
}

// submit places the task on the next queue round-robin, probing each queue
// once before falling back to the rejection policy.
func (g *stealingGroup) submit(t *Task) (Handle, error) {
	n := len(g.queues)
	start := int(g.next.Add(1)) % n

	for i := 0; i < n; i++ {
		select {
		case g.queues[(start+i)%n] <- t:
			t.setState(StateQueued)
			return Handle{task: t}, nil
		default:
		}
	}
	return g.pool.reject(t)
}

func (g *stealingGroup) worker(id int) {
	p := g.pool
	defer p.wg.Done()
	defer p.poolSize.Add(-1)

	own := g.queues[id]
	idle := time.NewTimer(stealPollInterval)
	defer idle.Stop()

	for {
		select {
		case t := <-own:
			p.runTask(t)
			continue
		case <-p.baseCtx.Done():
			return
		default:
		}

		if t := g.steal(id); t != nil {
			p.runTask(t)
			continue
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(stealPollInterval)
		select {
		case t := <-own:
			p.runTask(t)
		case <-idle.C:
		case <-p.baseCtx.Done():
			return
		}
	}
}

// steal takes one task from a peer's queue, scanning away from the thief so
// neighbors are not all hammered at once.
func (g *stealingGroup) steal(thief int) *Task {
	n := len(g.queues)
	for i := 1; i < n; i++ {
		victim := (thief + i) % n
		select {
		case t := <-g.queues[victim]:
			g.steals.Add(1)
			return t
		default:
		}
	}
	g.stealMisses.Add(1)
	return nil
}

// drain empties every queue for forced shutdown.
func (g *stealingGroup) drain() []*Task {
	var out []*Task
	for _, q := range g.queues {
	queue:
		for {
			select {
			case t := <-q:
				out = append(out, t)
			default:
				break queue
			}
		}
	}
	return out
}

// depth reports total queued tasks and total capacity across queues.
func (g *stealingGroup) depth() (depth, capacity int) {
	for _, q := range g.queues {
		depth += len(q)
		capacity += cap(q)
	}
	return depth, capacity
}
