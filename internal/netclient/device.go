package netclient

import (
	"context"
	"fmt"

	"github.com/b00ga/corefabric/internal/hostcmd"
)

// linkDevice implements the generic net-device primitives shared by both
// backends: veth pairs, GRE taps and device teardown are plain netlink
// devices regardless of which bridge implementation owns their master.
type linkDevice struct {
	runner *hostcmd.Runner
}

func (d linkDevice) CreateVeth(ctx context.Context, localName, peerName string) error {
	cmd := fmt.Sprintf("ip link add name %s type veth peer name %s", localName, peerName)
	_, err := d.runner.Run(ctx, cmd, hostcmd.Options{Wait: true})
	return err
}

func (d linkDevice) CreateGreTap(ctx context.Context, name, localIP, remoteIP string, ttl int, key uint32) error {
	cmd := fmt.Sprintf("ip link add name %s type gretap remote %s", name, remoteIP)
	if localIP != "" {
		cmd += fmt.Sprintf(" local %s", localIP)
	}
	if ttl > 0 {
		cmd += fmt.Sprintf(" ttl %d", ttl)
	}
	cmd += fmt.Sprintf(" key %d", key)
	if _, err := d.runner.Run(ctx, cmd, hostcmd.Options{Wait: true}); err != nil {
		return err
	}
	_, err := d.runner.Run(ctx, fmt.Sprintf("ip link set %s up", name), hostcmd.Options{Wait: true})
	return err
}

func (d linkDevice) DeleteLink(ctx context.Context, name string) error {
	_, err := d.runner.Run(ctx, fmt.Sprintf("ip link delete %s", name), hostcmd.Options{Wait: true})
	return err
}
