package netclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/b00ga/corefabric/internal/hostcmd"
)

const (
	ebtablesBin = "ebtables"
	// atomicFile is the fixed path used as the kernel atomic-file
	// sandbox during a commit (spec §6). Only one editor may use this
	// path at a time across the whole process, hence atomicMu.
	atomicFile = "/tmp/corefabric.ebtables.atomic"
)

// atomicMu serialises ebtables atomic-file sequences process-wide: the
// kernel allows only one atomic editor at a time (spec §5).
var atomicMu sync.Mutex

// ebtablesFilter implements the filter-chain primitives shared by both
// net-client backends: L2 filtering goes through ebtables regardless of
// whether the bridge itself is native Linux or Open vSwitch.
type ebtablesFilter struct {
	runner *hostcmd.Runner
}

func (e ebtablesFilter) NewChainCmd(bridge string, policy Policy) string {
	return fmt.Sprintf("-N %s -P %s", bridge, policy)
}

func (e ebtablesFilter) FlushChainCmd(bridge string) string {
	return fmt.Sprintf("-F %s", bridge)
}

func (e ebtablesFilter) ForwardJumpCmd(bridge string) string {
	return fmt.Sprintf("-A FORWARD --logical-in %s -j %s", bridge, bridge)
}

func (e ebtablesFilter) DeleteForwardJumpCmd(bridge string) string {
	return fmt.Sprintf("-D FORWARD --logical-in %s -j %s", bridge, bridge)
}

func (e ebtablesFilter) DeleteChainCmd(bridge string) string {
	return fmt.Sprintf("-X %s", bridge)
}

func (e ebtablesFilter) AcceptRuleCmd(bridge, in, out string) string {
	return fmt.Sprintf("-A %s -i %s -o %s -j ACCEPT", bridge, in, out)
}

func (e ebtablesFilter) DropRuleCmd(bridge, in, out string) string {
	return fmt.Sprintf("-A %s -i %s -o %s -j DROP", bridge, in, out)
}

// RunDeclared executes a single filter command directly against the live
// kernel tables (no atomic-file sandbox), used for the one-off forward-jump
// and chain teardown performed outside the batched commit queue.
func (e ebtablesFilter) RunDeclared(ctx context.Context, cmd string) error {
	_, err := e.runner.Run(ctx, fmt.Sprintf("%s %s", ebtablesBin, cmd), hostcmd.Options{Wait: true})
	return err
}

// AtomicCommit saves the live ebtables tables to atomicFile, applies each
// queued command against that file, commits it back to the kernel, and
// removes the file. A failure removing the file is logged and swallowed
// (spec §4.F, §7).
func (e ebtablesFilter) AtomicCommit(ctx context.Context, cmds []string) error {
	atomicMu.Lock()
	defer atomicMu.Unlock()

	run := func(args string) error {
		_, err := e.runner.Run(ctx, args, hostcmd.Options{Wait: true})
		return err
	}

	if err := run(fmt.Sprintf("%s --atomic-file %s --atomic-save", ebtablesBin, atomicFile)); err != nil {
		return fmt.Errorf("atomic-save: %w", err)
	}

	for _, c := range cmds {
		if err := run(fmt.Sprintf("%s --atomic-file %s %s", ebtablesBin, atomicFile, c)); err != nil {
			return fmt.Errorf("applying %q: %w", c, err)
		}
	}

	if err := run(fmt.Sprintf("%s --atomic-file %s --atomic-commit", ebtablesBin, atomicFile)); err != nil {
		return fmt.Errorf("atomic-commit: %w", err)
	}

	if err := run(fmt.Sprintf("rm -f %s", atomicFile)); err != nil {
		logrus.WithError(err).Warnf("failed to remove ebtables atomic file %s", atomicFile)
	}

	return nil
}
