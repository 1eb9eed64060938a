package fabric

import (
	"context"
	"net"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/b00ga/corefabric/internal/netclient"
	"github.com/b00ga/corefabric/internal/paramcache"
)

const defaultMTU = 1500

// IfaceIndex is a network-local attachment index, assigned in attach order.
type IfaceIndex int

// Interface is one endpoint of a link: a host-side net device (a veth leg,
// a GRE-tap device, or a control-network tap) plus the shaping parameters
// and position hook a session attaches to it. It carries a back-reference
// to its owning network, set by BridgeNetwork.Attach and cleared by
// BridgeNetwork.Detach (spec §4.C).
type Interface struct {
	mu sync.Mutex

	client netclient.Client

	localName string // this host's net device
	peerName  string // the name on the other end, if any (veth peer)
	hwaddr    net.HardwareAddr
	mtu       int
	addrs     []*net.IPNet

	params  *paramcache.Cache
	posHook func(x, y, z float64)

	network     *BridgeNetwork
	peerNetwork *BridgeNetwork
}

// NewInterface constructs an Interface bound to localName. If mtu is zero
// it is probed from the live device via netlink; if that fails it falls
// back to the Ethernet default.
func NewInterface(client netclient.Client, localName, peerName string, hwaddr net.HardwareAddr, mtu int) *Interface {
	if mtu == 0 {
		mtu = probeMTU(localName)
	}
	return &Interface{
		client:    client,
		localName: localName,
		peerName:  peerName,
		hwaddr:    hwaddr,
		mtu:       mtu,
		params:    paramcache.New(),
	}
}

func probeMTU(name string) int {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return defaultMTU
	}
	if mtu := link.Attrs().MTU; mtu > 0 {
		return mtu
	}
	return defaultMTU
}

// LocalName is the host-side device name this filter and shaping rules
// are built against.
func (i *Interface) LocalName() string { return i.localName }

// PeerName is the device name on the far side of a veth pair, empty for
// devices that aren't half of one (GRE-tap, control-network tap).
func (i *Interface) PeerName() string { return i.peerName }

// HardwareAddr is this interface's MAC address.
func (i *Interface) HardwareAddr() net.HardwareAddr { return i.hwaddr }

// MTU is this interface's maximum transmission unit, used to size the
// default token-bucket burst.
func (i *Interface) MTU() int { return i.mtu }

// Addrs returns the CIDR addresses configured on this interface.
func (i *Interface) Addrs() []*net.IPNet {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*net.IPNet, len(i.addrs))
	copy(out, i.addrs)
	return out
}

// AddAddr programs a CIDR address on the live device and records it.
func (i *Interface) AddAddr(ctx context.Context, addr *net.IPNet) error {
	if err := i.client.CreateAddress(ctx, i.localName, addr.String()); err != nil {
		return err
	}
	i.mu.Lock()
	i.addrs = append(i.addrs, addr)
	i.mu.Unlock()
	return nil
}

// Network is the bridge network this interface is currently attached to,
// nil if detached.
func (i *Interface) Network() *BridgeNetwork {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.network
}

// PeerNetwork is the bridge network on the far side of a network-to-network
// veth link, nil for ordinary node interfaces.
func (i *Interface) PeerNetwork() *BridgeNetwork {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.peerNetwork
}

func (i *Interface) setNetwork(n *BridgeNetwork)     { i.mu.Lock(); i.network = n; i.mu.Unlock() }
func (i *Interface) setPeerNetwork(n *BridgeNetwork) { i.mu.Lock(); i.peerNetwork = n; i.mu.Unlock() }

// GetParam reads a cached shaping or position parameter.
func (i *Interface) GetParam(key string) interface{} { return i.params.Get(key) }

// SetParam caches a shaping or position parameter, reporting whether the
// value changed.
func (i *Interface) SetParam(key string, value interface{}) bool { return i.params.Set(key, value) }

// SetPositionHook installs the callback invoked by SetPosition, typically
// wired by a session to its mobility/GUI layer.
func (i *Interface) SetPositionHook(hook func(x, y, z float64)) {
	i.mu.Lock()
	i.posHook = hook
	i.mu.Unlock()
}

// SetPosition passes a 3-D position to the position hook, if any.
func (i *Interface) SetPosition(x, y, z float64) {
	i.mu.Lock()
	hook := i.posHook
	i.mu.Unlock()
	if hook != nil {
		hook(x, y, z)
	}
}

// Shutdown tears down the underlying net device. Deleting either leg of a
// veth pair removes both. Calling this on an already-gone device name
// changes nothing on the host and returns the CommandFailure the host
// executor surfaced.
func (i *Interface) Shutdown(ctx context.Context) error {
	return i.client.DeleteLink(ctx, i.localName)
}
