package fabric

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/apparentlymart/go-cidr/cidr"

	"github.com/b00ga/corefabric/internal/hostcmd"
	"github.com/b00ga/corefabric/internal/netclient"
	"github.com/b00ga/corefabric/internal/session"
)

// ctrlIfaceIndexBase is the attach index the first control interface is
// assigned, well clear of the range ordinary data-plane interfaces use,
// so a session can tell a control attachment apart from a data one by
// index alone (spec, supplemented from original_source CTRLIF_IDX_BASE).
const ctrlIfaceIndexBase = IfaceIndex(99)

// DefaultControlPrefixes is the built-in pool of /24 candidates a session
// picks a control-network prefix from, matching original_source's
// DEFAULT_PREFIX_LIST (one entry per concurrent control network a host
// may need — the list lets a session fall back to the next candidate if
// an earlier one is already in use on the host).
var DefaultControlPrefixes = []*net.IPNet{
	mustParseCIDR("172.16.0.0/24"),
	mustParseCIDR("172.17.0.0/24"),
	mustParseCIDR("172.18.0.0/24"),
	mustParseCIDR("172.19.0.0/24"),
}

// defaultControlPrefix is the CIDR block a ControlNetwork carves its
// bridge address out of when no prefix is set explicitly.
var defaultControlPrefix = DefaultControlPrefixes[0]

// defaultHostIndex is the host index used when no explicit host id is
// set, counting from the broadcast end of the prefix
// (original_source's CtrlNet.startup: add_addresses(-2) when no
// distributed-execution host id is known).
const defaultHostIndex = -2

func mustParseCIDR(s string) *net.IPNet {
	_, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return ipnet
}

// ControlNetwork is the daemon's own management bridge: an ACCEPT-policy
// bridge that assigns itself exactly one CIDR address at Startup rather
// than handing addresses out on request, refuses to start at all if any
// bridge for the same network id (b.<id>.*) is already present on the
// host, and never
// reports itself as a link since it's infrastructure rather than a
// modeled topology element (original_source's CtrlNet.startup,
// network.py:711-798).
type ControlNetwork struct {
	*BridgeNetwork

	mu            sync.Mutex
	prefix        *net.IPNet
	hasHostID     bool
	hostID        int
	assignAddress bool
	updownScript  string
	runner        *hostcmd.Runner
	serverIntf    string
	addr          *net.IPNet
	remoteServers []RemoteServer
	remoteAddrs   []*net.IPNet
}

// RemoteServer is one distributed-execution host participating in a
// control network: its own net-client (reaching it, typically, through a
// hostcmd.Broadcast remote) and a name used only for error messages.
type RemoteServer struct {
	Name   string
	Client netclient.Client
}

// NewControlNetwork constructs a control network, registered with
// queue/arena like every bridge variant other than GreTapBridge — the
// original implementation registers CtrlNet with the filter-commit queue
// unconditionally. Its attach index numbering starts at
// ctrlIfaceIndexBase rather than zero.
func NewControlNetwork(id NetworkID, sess *session.Session, client netclient.Client, queue *FilterQueue, arena *Arena) (*ControlNetwork, error) {
	base, err := newBridgeNetwork(bridgeNetworkConfig{
		id:      id,
		session: sess,
		policy:  netclient.Accept,
		client:  client,
		queue:   queue,
		arena:   arena,
	})
	if err != nil {
		return nil, err
	}
	base.nextIndex = ctrlIfaceIndexBase

	return &ControlNetwork{
		BridgeNetwork: base,
		prefix:        defaultControlPrefix,
		assignAddress: true,
	}, nil
}

// SetPrefix overrides the CIDR block the bridge's address is drawn from.
// Must be called before Startup.
func (c *ControlNetwork) SetPrefix(prefix *net.IPNet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addr != nil {
		return AlreadyConfiguredError("control network prefix")
	}
	c.prefix = prefix
	return nil
}

// SetHostID fixes the host index used to pick this network's address out
// of its prefix, in place of the default -2 (original_source's
// distributed-execution host ordinal, passed into add_addresses). Must
// be called before Startup.
func (c *ControlNetwork) SetHostID(hostID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addr != nil {
		return AlreadyConfiguredError("control network host id")
	}
	c.hostID = hostID
	c.hasHostID = true
	return nil
}

// SetAssignAddress controls whether Startup assigns a bridge address at
// all (original_source's CtrlNet.startup skips add_addresses when the
// session disables address assignment). Must be called before Startup.
func (c *ControlNetwork) SetAssignAddress(assign bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addr != nil {
		return AlreadyConfiguredError("control network address assignment")
	}
	c.assignAddress = assign
	return nil
}

// SetUpdownScript installs a script Startup runs (through runner) after
// the bridge address is assigned, and Shutdown runs again to tear back
// down (original_source's updown_script). Must be called before Startup.
func (c *ControlNetwork) SetUpdownScript(script string, runner *hostcmd.Runner) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addr != nil {
		return AlreadyConfiguredError("control network updown script")
	}
	c.updownScript = script
	c.runner = runner
	return nil
}

// SetServerInterface names a host interface Startup attaches to the
// bridge as an uplink, for a control network that must be reachable from
// outside the host (original_source's CtrlNet.startup server_intf
// branch). Must be called before Startup.
func (c *ControlNetwork) SetServerInterface(ifName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addr != nil {
		return AlreadyConfiguredError("control network server interface")
	}
	c.serverIntf = ifName
	return nil
}

// SetRemoteServers installs the distributed-execution hosts that should
// each get their own address on this control network, in the order
// they'll be assigned (original_source's session.distributed.servers).
// Each gets the host index one below the previous one's, counting down
// from this network's own host index. Must be called before Startup.
func (c *ControlNetwork) SetRemoteServers(servers []RemoteServer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addr != nil {
		return AlreadyConfiguredError("control network remote servers")
	}
	c.remoteServers = append(c.remoteServers[:0], servers...)
	return nil
}

// RemoteAddresses returns the CIDR addresses Startup assigned to each
// remote server, in the same order as SetRemoteServers.
func (c *ControlNetwork) RemoteAddresses() []*net.IPNet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*net.IPNet, len(c.remoteAddrs))
	copy(out, c.remoteAddrs)
	return out
}

// Startup refuses to proceed if a bridge from a stale session already
// occupies this network's id, then creates the bridge, assigns it one
// address out of its prefix (unless disabled), runs the configured
// updown script, and attaches the configured server uplink — in the
// order original_source's CtrlNet.startup does them.
func (c *ControlNetwork) Startup(ctx context.Context) error {
	exists, err := c.Client().ExistingBridges(ctx, int(c.ID()))
	if err != nil {
		return err
	}
	if exists {
		return ConflictError(fmt.Sprintf("bridge b.%d.* already exists on this host", c.ID()))
	}

	if err := c.BridgeNetwork.Startup(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	assign := c.assignAddress
	prefix := c.prefix
	hostIndex := defaultHostIndex
	if c.hasHostID {
		hostIndex = c.hostID
	}
	updown := c.updownScript
	runner := c.runner
	serverIntf := c.serverIntf
	remoteServers := append([]RemoteServer(nil), c.remoteServers...)
	c.mu.Unlock()

	if assign {
		addr, err := c.addAddress(ctx, c.Client(), prefix, hostIndex)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.addr = addr
		c.mu.Unlock()

		remoteAddrs := make([]*net.IPNet, 0, len(remoteServers))
		for _, srv := range remoteServers {
			hostIndex--
			raddr, err := c.addAddress(ctx, srv.Client, prefix, hostIndex)
			if err != nil {
				return fmt.Errorf("control network remote server %s: %w", srv.Name, err)
			}
			remoteAddrs = append(remoteAddrs, raddr)
		}
		c.mu.Lock()
		c.remoteAddrs = remoteAddrs
		c.mu.Unlock()
	}

	if updown != "" && runner != nil {
		if _, err := runner.Run(ctx, fmt.Sprintf("%s %s startup", updown, c.BridgeName()), hostcmd.Options{Wait: true}); err != nil {
			return err
		}
	}

	if serverIntf != "" {
		if err := c.Client().SetInterfaceMaster(ctx, c.BridgeName(), serverIntf); err != nil {
			return err
		}
	}
	return nil
}

// addAddress assigns the hostIndex'th address of prefix to the bridge
// device itself via client, a one-shot Startup-time call —
// original_source's CtrlNet.add_addresses always targets self.brname,
// never a caller-supplied interface, and issues the remote-server
// addresses through each server's own net-client.
func (c *ControlNetwork) addAddress(ctx context.Context, client netclient.Client, prefix *net.IPNet, hostIndex int) (*net.IPNet, error) {
	ip, err := cidr.Host(prefix, hostIndex)
	if err != nil {
		return nil, err
	}
	addr := &net.IPNet{IP: ip, Mask: prefix.Mask}
	if err := client.CreateAddress(ctx, c.BridgeName(), addr.String()); err != nil {
		return nil, err
	}
	return addr, nil
}

// Address is the CIDR address Startup assigned to the bridge, or nil if
// assignment was disabled or Startup has not yet run.
func (c *ControlNetwork) Address() *net.IPNet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Shutdown runs the configured updown script's teardown branch before
// tearing the bridge itself down.
func (c *ControlNetwork) Shutdown(ctx context.Context) {
	c.mu.Lock()
	updown := c.updownScript
	runner := c.runner
	c.mu.Unlock()
	if updown != "" && runner != nil {
		_, _ = runner.Run(ctx, fmt.Sprintf("%s %s shutdown", updown, c.BridgeName()), hostcmd.Options{Wait: true})
	}
	c.BridgeNetwork.Shutdown(ctx)
}

// AllLinkData always reports no links: the control network is daemon
// infrastructure, not a modeled topology element.
func (c *ControlNetwork) AllLinkData() []LinkData { return nil }
