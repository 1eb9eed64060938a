// Package netclient is the typed wrapper over the host executor for the
// finite set of primitive kernel operations this core needs (spec §4.B).
// It has two back-ends — native Linux bridge and Open vSwitch — selected
// once per process; both produce the same observable effects and differ
// only in the command strings they issue.
package netclient

import "context"

// Policy is the per-network filter-chain default.
type Policy int

const (
	// Accept is deny-by-exception: traffic passes unless a drop rule
	// says otherwise.
	Accept Policy = iota
	// Drop is allow-by-exception: traffic is dropped unless an accept
	// rule says otherwise.
	Drop
)

func (p Policy) String() string {
	if p == Drop {
		return "DROP"
	}
	return "ACCEPT"
}

// Backend selects which kernel subsystem a Client programs.
type Backend int

const (
	// LinuxBridge is the native Linux bridging backend.
	LinuxBridge Backend = iota
	// OpenVSwitch is the Open vSwitch backend.
	OpenVSwitch
)

// Client is the capability interface the fabric core programs the kernel
// through. Every mutating method issues a host command via the Runner it
// was constructed with and surfaces a *hostcmd.CommandFailure on error.
type Client interface {
	// CreateBridge creates a bridge device, disables STP and forward
	// delay, and brings it up. An already-existing bridge is an error.
	CreateBridge(ctx context.Context, name string) error
	// DeleteBridge brings a bridge down and destroys it. A missing
	// bridge is an error.
	DeleteBridge(ctx context.Context, name string) error
	// ExistingBridges reports whether any bridge named "b.<id>.*"
	// already exists on the host.
	ExistingBridges(ctx context.Context, id int) (bool, error)
	// SetInterfaceMaster attaches ifName to bridge.
	SetInterfaceMaster(ctx context.Context, bridge, ifName string) error
	// DeleteInterface detaches ifName from bridge.
	DeleteInterface(ctx context.Context, bridge, ifName string) error
	// CreateAddress adds a CIDR address to ifName.
	CreateAddress(ctx context.Context, ifName, cidr string) error
	// DisableMACLearning turns off MAC learning on bridge, used by
	// hub and wireless-LAN semantics.
	DisableMACLearning(ctx context.Context, bridge string) error

	// CreateVeth creates a veth pair, localName on this host's side and
	// peerName on the other. Deleting either end removes both.
	CreateVeth(ctx context.Context, localName, peerName string) error
	// CreateGreTap creates a GRE-tap device tunnelling to remoteIP (bound
	// to localIP when non-empty), keyed by key, and brings it up.
	CreateGreTap(ctx context.Context, name, localIP, remoteIP string, ttl int, key uint32) error
	// DeleteLink destroys a net device by name.
	DeleteLink(ctx context.Context, name string) error

	// TBFReplace installs (or replaces) a root token-bucket filter on
	// ifName with the given rate, burst and limit.
	TBFReplace(ctx context.Context, ifName string, rate, burst, limit uint64) error
	// QdiscDelete removes the qdisc at parent on ifName.
	QdiscDelete(ctx context.Context, ifName, parent string) error
	// NetemReplace installs (or replaces) a network-emulation qdisc at
	// handle 10: under parent on ifName, with the given qdisc spec,
	// which starts with the qdisc kind (e.g. "netem delay 50us loss 1.00%").
	NetemReplace(ctx context.Context, ifName, parent, spec string) error

	// The Filter* methods build the declarative filter-chain commands
	// consumed only by the filter-commit queue (component F); they do
	// not execute anything themselves. AtomicCommit executes a batch
	// of such commands as one atomic kernel-table update.
	NewChainCmd(bridge string, policy Policy) string
	FlushChainCmd(bridge string) string
	ForwardJumpCmd(bridge string) string
	DeleteForwardJumpCmd(bridge string) string
	DeleteChainCmd(bridge string) string
	AcceptRuleCmd(bridge, in, out string) string
	DropRuleCmd(bridge, in, out string) string

	// AtomicCommit applies cmds to the live kernel filter tables as one
	// atomic save/edit/commit sequence (spec §4.F).
	AtomicCommit(ctx context.Context, cmds []string) error

	// RunDeclared executes a single non-atomic filter-chain command
	// built by one of the Filter* builders above, used for the
	// immediate (non-batched) forward-jump/chain teardown on shutdown.
	RunDeclared(ctx context.Context, cmd string) error
}
