package fabric

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultCommitPeriod = 300 * time.Millisecond

// FilterQueue is the process-wide atomic-commit queue (spec §4.F): it
// coalesces pending filter-chain rebuilds so that a burst of link/unlink
// calls against the same bridge — the common case during mobility-driven
// WLAN updates — produces one ebtables atomic commit per tick instead of
// one per call.
//
// Unlike the original implementation this isn't a package-level singleton:
// a Runtime (or a test) constructs one FilterQueue and shares it with
// every network built against it, which keeps the type unit-testable
// without a process-lifetime global.
type FilterQueue struct {
	arena  *Arena
	period time.Duration

	mu         sync.Mutex
	dirty      map[NetworkID]uint64
	lastCommit map[NetworkID]time.Time
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewFilterQueue returns a queue backed by arena, ticking at the given
// period. A period of zero uses the 300ms default.
func NewFilterQueue(arena *Arena, period time.Duration) *FilterQueue {
	if period <= 0 {
		period = defaultCommitPeriod
	}
	return &FilterQueue{
		arena:      arena,
		period:     period,
		dirty:      make(map[NetworkID]uint64),
		lastCommit: make(map[NetworkID]time.Time),
	}
}

// Register initialises id's last-commit timestamp and starts the
// background worker if this is the first registered network.
func (q *FilterQueue) Register(id NetworkID, epoch uint64) {
	q.mu.Lock()
	q.lastCommit[id] = time.Now()
	start := !q.running
	if start {
		q.running = true
		q.stopCh = make(chan struct{})
	}
	q.mu.Unlock()

	if start {
		q.wg.Add(1)
		go q.loop()
	}
}

// Unregister removes id from bookkeeping and, if it was the last
// registered network, stops the background worker.
func (q *FilterQueue) Unregister(id NetworkID) {
	q.mu.Lock()
	delete(q.lastCommit, id)
	delete(q.dirty, id)
	var stop chan struct{}
	if len(q.lastCommit) == 0 && q.running {
		q.running = false
		stop = q.stopCh
	}
	q.mu.Unlock()

	if stop != nil {
		close(stop)
		q.wg.Wait()
	}
}

// MarkDirty appends id (at epoch) to the dirty set. Idempotent: marking an
// already-dirty network again is a no-op beyond refreshing its epoch.
func (q *FilterQueue) MarkDirty(id NetworkID, epoch uint64) {
	q.mu.Lock()
	q.dirty[id] = epoch
	q.mu.Unlock()
}

// Close stops the worker unconditionally, for use during process teardown
// when individual networks won't unregister themselves.
func (q *FilterQueue) Close() {
	q.mu.Lock()
	running := q.running
	stop := q.stopCh
	q.running = false
	q.mu.Unlock()
	if running {
		close(stop)
		q.wg.Wait()
	}
}

func (q *FilterQueue) loop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.period)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.tick()
		}
	}
}

type dirtyJob struct {
	id    NetworkID
	epoch uint64
}

func (q *FilterQueue) tick() {
	now := time.Now()
	var jobs []dirtyJob

	q.mu.Lock()
	for id, epoch := range q.dirty {
		last, ok := q.lastCommit[id]
		if !ok || now.Sub(last) >= q.period {
			jobs = append(jobs, dirtyJob{id: id, epoch: epoch})
		}
	}
	q.mu.Unlock()

	for _, j := range jobs {
		q.commitOne(j)
	}
}

func (q *FilterQueue) commitOne(j dirtyJob) {
	net, ok := q.arena.Lookup(j.id, j.epoch)
	if !ok {
		q.mu.Lock()
		delete(q.dirty, j.id)
		q.mu.Unlock()
		return
	}
	if !net.Alive() {
		// Stale-network defence: the owning session has gone away
		// without this network having unregistered itself. Drop the
		// dirty mark without committing; if it never unregisters, it
		// simply stops being retried past this point.
		q.mu.Lock()
		delete(q.dirty, j.id)
		q.mu.Unlock()
		return
	}

	cmds := net.BuildFilterCommands()
	if err := net.Client().AtomicCommit(context.Background(), cmds); err != nil {
		logrus.WithError(err).WithField("bridge", net.BridgeName()).
			Warn("filter chain commit failed")
	}

	q.mu.Lock()
	q.lastCommit[j.id] = time.Now()
	delete(q.dirty, j.id)
	q.mu.Unlock()
}
