package fabric

import (
	"sync"

	"github.com/b00ga/corefabric/internal/netclient"
)

// NetworkID identifies a network within a session. Ids are assigned by the
// session controller and are not reused while any registration under the
// old epoch is still pending in the filter-commit queue.
type NetworkID int

// Filterable is the capability a network exposes to the filter-commit
// queue: enough to rebuild and commit its chain, and to notice when its
// owning session has gone away out from under it.
type Filterable interface {
	ID() NetworkID
	BridgeName() string
	Alive() bool
	Client() netclient.Client
	BuildFilterCommands() []string
}

// Arena is the canonical id -> network table the filter-commit queue
// resolves against. It exists so the queue can hold (id, epoch) pairs
// instead of strong references to networks that may already have been
// torn down: a network unregisters itself from the arena on shutdown,
// and a stale lookup against an old epoch simply misses rather than
// resurrecting a dead network (spec §4.F stale-network defence).
type Arena struct {
	mu        sync.Mutex
	entries   map[NetworkID]arenaEntry
	nextEpoch uint64
}

type arenaEntry struct {
	net   Filterable
	epoch uint64
}

// NewArena returns an empty registry.
func NewArena() *Arena {
	return &Arena{entries: make(map[NetworkID]arenaEntry)}
}

// Register records net under id and returns the epoch this registration
// was issued, to be used in subsequent Lookup calls.
func (a *Arena) Register(id NetworkID, net Filterable) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextEpoch++
	epoch := a.nextEpoch
	a.entries[id] = arenaEntry{net: net, epoch: epoch}
	return epoch
}

// Unregister removes id's entry, if its current epoch matches. A stale
// unregister (from a network that has already been superseded by a newer
// registration under the same id) is a no-op.
func (a *Arena) Unregister(id NetworkID, epoch uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[id]; ok && e.epoch == epoch {
		delete(a.entries, id)
	}
}

// Lookup resolves id, returning ok=false if it has never been registered,
// has been unregistered, or has been superseded by a different epoch.
func (a *Arena) Lookup(id NetworkID, epoch uint64) (Filterable, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[id]
	if !ok || e.epoch != epoch {
		return nil, false
	}
	return e.net, true
}
