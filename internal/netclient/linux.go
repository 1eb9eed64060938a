package netclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/b00ga/corefabric/internal/hostcmd"
)

// linuxClient programs the native Linux bridge.
type linuxClient struct {
	ebtablesFilter
	tcQdisc
	linkDevice
	runner *hostcmd.Runner
}

func newLinuxClient(runner *hostcmd.Runner) Client {
	return &linuxClient{
		ebtablesFilter: ebtablesFilter{runner: runner},
		tcQdisc:        tcQdisc{runner: runner},
		linkDevice:     linkDevice{runner: runner},
		runner:         runner,
	}
}

func (c *linuxClient) run(ctx context.Context, args string) (string, error) {
	return c.runner.Run(ctx, args, hostcmd.Options{Wait: true})
}

func (c *linuxClient) CreateBridge(ctx context.Context, name string) error {
	if _, err := c.run(ctx, fmt.Sprintf("ip link add name %s type bridge", name)); err != nil {
		return err
	}
	if _, err := c.run(ctx, fmt.Sprintf("ip link set %s type bridge stp_state 0", name)); err != nil {
		return err
	}
	if _, err := c.run(ctx, fmt.Sprintf("ip link set %s type bridge forward_delay 0", name)); err != nil {
		return err
	}
	_, err := c.run(ctx, fmt.Sprintf("ip link set %s up", name))
	return err
}

func (c *linuxClient) DeleteBridge(ctx context.Context, name string) error {
	if _, err := c.run(ctx, fmt.Sprintf("ip link set %s down", name)); err != nil {
		return err
	}
	_, err := c.run(ctx, fmt.Sprintf("ip link delete %s type bridge", name))
	return err
}

func (c *linuxClient) ExistingBridges(ctx context.Context, id int) (bool, error) {
	out, err := c.run(ctx, "ip -o link show type bridge")
	if err != nil {
		return false, err
	}
	prefix := fmt.Sprintf("b.%d.", id)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		for _, f := range fields {
			name := strings.TrimSuffix(strings.TrimRight(f, ":"), "@NONE")
			if strings.HasPrefix(name, prefix) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *linuxClient) SetInterfaceMaster(ctx context.Context, bridge, ifName string) error {
	_, err := c.run(ctx, fmt.Sprintf("ip link set %s master %s", ifName, bridge))
	return err
}

func (c *linuxClient) DeleteInterface(ctx context.Context, bridge, ifName string) error {
	_, err := c.run(ctx, fmt.Sprintf("ip link set %s nomaster", ifName))
	return err
}

func (c *linuxClient) CreateAddress(ctx context.Context, ifName, cidr string) error {
	_, err := c.run(ctx, fmt.Sprintf("ip addr add %s dev %s", cidr, ifName))
	return err
}

func (c *linuxClient) DisableMACLearning(ctx context.Context, bridge string) error {
	_, err := c.run(ctx, fmt.Sprintf("ip link set %s type bridge ageing_time 0", bridge))
	return err
}
