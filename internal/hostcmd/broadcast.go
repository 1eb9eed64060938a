package hostcmd

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RemoteExecutor is satisfied by any transport capable of running the same
// command on a remote host. The distributed-execution transport itself
// (SSH, RPC, whatever) is an external collaborator; this core only needs
// the narrow Run contract.
type RemoteExecutor interface {
	Run(ctx context.Context, args string, opts Options) (string, error)
}

// Broadcast runs a command locally, then fans the same command out to a
// set of named remote executors. It implements spec §4.A's "best-effort"
// contract: a remote failure is reported but never unwinds the local
// side effect, since the local command has already run by the time any
// remote is contacted.
type Broadcast struct {
	Local   *Runner
	Remotes map[string]RemoteExecutor

	log *logrus.Entry
}

// NewBroadcast wraps a local Runner with a set of named remote executors.
func NewBroadcast(local *Runner, remotes map[string]RemoteExecutor) *Broadcast {
	return &Broadcast{
		Local:   local,
		Remotes: remotes,
		log:     logrus.WithField("component", "hostcmd.broadcast"),
	}
}

// Run executes args locally and, on local success, on every remote host.
// The returned output is always the local command's output; a non-nil
// error is either the local failure (fatal, nothing was broadcast) or an
// aggregated *multierror.Error of remote failures (non-fatal: the local
// side effect already landed).
func (b *Broadcast) Run(ctx context.Context, args string, opts Options) (string, error) {
	out, err := b.Local.Run(ctx, args, opts)
	if err != nil {
		return out, err
	}

	var (
		mu     sync.Mutex
		result *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, remote := range b.Remotes {
		name, remote := name, remote
		g.Go(func() error {
			if _, rerr := remote.Run(gctx, args, opts); rerr != nil {
				b.log.WithError(rerr).Warnf("broadcast command failed on remote host %s", name)
				mu.Lock()
				result = multierror.Append(result, rerr)
				mu.Unlock()
			}
			return nil
		})
	}
	// Every goroutine above returns nil: remote failures are collected into
	// result, never surfaced through the errgroup itself, so a failing
	// remote never cancels its siblings via gctx.
	_ = g.Wait()
	if result != nil {
		return out, result.ErrorOrNil()
	}
	return out, nil
}
