package fabric

import (
	"github.com/b00ga/corefabric/internal/hostcmd"
	"github.com/b00ga/corefabric/internal/netclient"
	"github.com/b00ga/corefabric/internal/session"
)

// Runtime bundles the process-lifetime resources every network variant is
// constructed from: a host executor, a net-client backend, and the
// filter-commit queue's arena. It replaces the original implementation's
// module-level singletons with one explicitly constructed value, so a
// test (or a second session in the same process) can build its own
// instead of reaching through global state.
type Runtime struct {
	Runner *hostcmd.Runner
	Client netclient.Client
	Arena  *Arena
	Queue  *FilterQueue
}

// NewRuntime wires a Runtime for the given backend.
func NewRuntime(backend netclient.Backend) *Runtime {
	runner := hostcmd.NewRunner()
	arena := NewArena()
	return &Runtime{
		Runner: runner,
		Client: netclient.New(backend, runner),
		Arena:  arena,
		Queue:  NewFilterQueue(arena, 0),
	}
}

// Close stops the filter-commit queue's background worker. Safe to call
// even if no network ever registered with it.
func (r *Runtime) Close() {
	r.Queue.Close()
}

// NewSession starts a fresh session with the given numeric id.
func (r *Runtime) NewSession(id int) *session.Session {
	return session.New(id)
}
