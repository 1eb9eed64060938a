package netclient

import (
	"context"
	"fmt"

	"github.com/b00ga/corefabric/internal/hostcmd"
)

const tcBin = "tc"

// tcQdisc implements the traffic-shaping primitives shared by both
// net-client backends: queueing disciplines are programmed through tc
// regardless of whether the bridge itself is native Linux or Open vSwitch.
type tcQdisc struct {
	runner *hostcmd.Runner
}

func (t tcQdisc) TBFReplace(ctx context.Context, ifName string, rate, burst, limit uint64) error {
	cmd := fmt.Sprintf("%s qdisc replace dev %s root handle 1: tbf rate %d burst %d limit %d",
		tcBin, ifName, rate, burst, limit)
	_, err := t.runner.Run(ctx, cmd, hostcmd.Options{Wait: true})
	return err
}

func (t tcQdisc) QdiscDelete(ctx context.Context, ifName, parent string) error {
	cmd := fmt.Sprintf("%s qdisc delete dev %s %s", tcBin, ifName, parent)
	_, err := t.runner.Run(ctx, cmd, hostcmd.Options{Wait: true})
	return err
}

func (t tcQdisc) NetemReplace(ctx context.Context, ifName, parent, spec string) error {
	cmd := fmt.Sprintf("%s qdisc replace dev %s %s handle 10: %s", tcBin, ifName, parent, spec)
	_, err := t.runner.Run(ctx, cmd, hostcmd.Options{Wait: true})
	return err
}
