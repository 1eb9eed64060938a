package netclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/b00ga/corefabric/internal/hostcmd"
)

// ovsClient programs an Open vSwitch bridge. Filtering and shaping still
// go through ebtables/tc since an OVS bridge's ports remain ordinary
// kernel net devices from that vantage point.
type ovsClient struct {
	ebtablesFilter
	tcQdisc
	linkDevice
	runner *hostcmd.Runner
}

func newOVSClient(runner *hostcmd.Runner) Client {
	return &ovsClient{
		ebtablesFilter: ebtablesFilter{runner: runner},
		tcQdisc:        tcQdisc{runner: runner},
		linkDevice:     linkDevice{runner: runner},
		runner:         runner,
	}
}

func (c *ovsClient) run(ctx context.Context, args string) (string, error) {
	return c.runner.Run(ctx, args, hostcmd.Options{Wait: true})
}

func (c *ovsClient) CreateBridge(ctx context.Context, name string) error {
	if _, err := c.run(ctx, fmt.Sprintf("ovs-vsctl add-br %s", name)); err != nil {
		return err
	}
	if _, err := c.run(ctx, fmt.Sprintf("ovs-vsctl set bridge %s stp_enable=false", name)); err != nil {
		return err
	}
	_, err := c.run(ctx, fmt.Sprintf("ip link set %s up", name))
	return err
}

func (c *ovsClient) DeleteBridge(ctx context.Context, name string) error {
	_, err := c.run(ctx, fmt.Sprintf("ovs-vsctl del-br %s", name))
	return err
}

func (c *ovsClient) ExistingBridges(ctx context.Context, id int) (bool, error) {
	out, err := c.run(ctx, "ovs-vsctl list-br")
	if err != nil {
		return false, err
	}
	prefix := fmt.Sprintf("b.%d.", id)
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (c *ovsClient) SetInterfaceMaster(ctx context.Context, bridge, ifName string) error {
	_, err := c.run(ctx, fmt.Sprintf("ovs-vsctl add-port %s %s", bridge, ifName))
	return err
}

func (c *ovsClient) DeleteInterface(ctx context.Context, bridge, ifName string) error {
	_, err := c.run(ctx, fmt.Sprintf("ovs-vsctl del-port %s %s", bridge, ifName))
	return err
}

func (c *ovsClient) CreateAddress(ctx context.Context, ifName, cidr string) error {
	_, err := c.run(ctx, fmt.Sprintf("ip addr add %s dev %s", cidr, ifName))
	return err
}

func (c *ovsClient) DisableMACLearning(ctx context.Context, bridge string) error {
	_, err := c.run(ctx, fmt.Sprintf("ovs-vsctl set bridge %s other-config:mac-aging-time=0", bridge))
	return err
}
