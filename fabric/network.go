package fabric

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/b00ga/corefabric/internal/netclient"
	"github.com/b00ga/corefabric/internal/session"
)

// maxDeviceName is the kernel's IFNAMSIZ limit, minus the trailing NUL.
const maxDeviceName = 15

// BridgeNetwork is the concrete base shared by every network variant
// (spec §4.D, §4.E): a host bridge device, the interfaces attached to it,
// the adjacency map driving its L2 filter chain, and optional
// registration with a process-wide FilterQueue.
//
// All mutating methods that reach the kernel take a context and return the
// *hostcmd.CommandFailure the host executor surfaced, unwrapped, except
// Shutdown, which logs errors instead of returning them.
type BridgeNetwork struct {
	mu sync.Mutex // guards everything below, the network's "adjacency lock"

	id     NetworkID
	name   string
	up     bool
	policy netclient.Policy

	hasChain bool

	ifaces    map[IfaceIndex]*Interface
	order     []IfaceIndex
	nextIndex IfaceIndex
	adjacency map[*Interface]map[*Interface]bool

	session *session.Session
	client  netclient.Client

	// queue/arena/epoch are non-nil only for variants that participate
	// in the filter-commit queue. GRE-tap bridges (and their tunnel
	// alias) never register, matching the original implementation.
	queue *FilterQueue
	arena *Arena
	epoch uint64
}

// bridgeNetworkConfig groups BridgeNetwork's constructor arguments so
// variant constructors don't each repeat a long parameter list.
type bridgeNetworkConfig struct {
	id       NetworkID
	session  *session.Session
	policy   netclient.Policy
	client   netclient.Client
	queue    *FilterQueue // nil to opt out of filter-queue participation
	arena    *Arena
}

func newBridgeNetwork(cfg bridgeNetworkConfig) (*BridgeNetwork, error) {
	name := fmt.Sprintf("b.%d.%s", cfg.id, cfg.session.ShortID())
	if len(name) > maxDeviceName {
		return nil, NameTooLongError(name)
	}
	return &BridgeNetwork{
		id:        cfg.id,
		name:      name,
		policy:    cfg.policy,
		ifaces:    make(map[IfaceIndex]*Interface),
		adjacency: make(map[*Interface]map[*Interface]bool),
		session:   cfg.session,
		client:    cfg.client,
		queue:     cfg.queue,
		arena:     cfg.arena,
	}, nil
}

// ID is this network's identifier within its session.
func (n *BridgeNetwork) ID() NetworkID { return n.id }

// BridgeName is the host device name backing this network.
func (n *BridgeNetwork) BridgeName() string { return n.name }

// Alive reports whether this network's owning session is still live.
func (n *BridgeNetwork) Alive() bool { return n.session.Alive() }

// Client is the net-client this network issues kernel commands through.
func (n *BridgeNetwork) Client() netclient.Client { return n.client }

func (n *BridgeNetwork) isUp() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.up
}

// Startup creates the bridge device and, if this variant participates in
// the filter-commit queue, registers it.
func (n *BridgeNetwork) Startup(ctx context.Context) error {
	if err := n.client.CreateBridge(ctx, n.name); err != nil {
		return err
	}
	n.mu.Lock()
	n.up = true
	n.mu.Unlock()

	if n.queue != nil {
		n.epoch = n.arena.Register(n.id, n)
		n.queue.Register(n.id, n.epoch)
	}
	return nil
}

// Shutdown tears down every attached interface, removes the filter chain
// and the bridge device itself, and unregisters from the filter-commit
// queue. Errors along the way are logged rather than returned: shutdown
// is best-effort cleanup, not a transaction.
func (n *BridgeNetwork) Shutdown(ctx context.Context) {
	n.mu.Lock()
	if !n.up {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	if n.queue != nil {
		n.queue.Unregister(n.id)
		n.arena.Unregister(n.id, n.epoch)
	}

	if err := n.client.DeleteBridge(ctx, n.name); err != nil {
		logrus.WithError(err).WithField("bridge", n.name).Warn("error deleting bridge")
	}

	n.mu.Lock()
	hadChain := n.hasChain
	n.mu.Unlock()
	if hadChain {
		if err := n.client.RunDeclared(ctx, n.client.DeleteForwardJumpCmd(n.name)); err != nil {
			logrus.WithError(err).WithField("bridge", n.name).Warn("error removing forward jump")
		}
		if err := n.client.RunDeclared(ctx, n.client.DeleteChainCmd(n.name)); err != nil {
			logrus.WithError(err).WithField("bridge", n.name).Warn("error removing filter chain")
		}
	}

	for _, iface := range n.Interfaces() {
		if err := iface.Shutdown(ctx); err != nil {
			logrus.WithError(err).WithField("iface", iface.LocalName()).Warn("error shutting down interface")
		}
	}

	n.mu.Lock()
	n.ifaces = make(map[IfaceIndex]*Interface)
	n.order = nil
	n.adjacency = make(map[*Interface]map[*Interface]bool)
	n.up = false
	n.mu.Unlock()
}

// Interfaces returns the attached interfaces in attach order.
func (n *BridgeNetwork) Interfaces() []*Interface {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Interface, 0, len(n.order))
	for _, idx := range n.order {
		out = append(out, n.ifaces[idx])
	}
	return out
}

// Attach adds iface to this network, bringing it under the live bridge if
// the network is up. It fails with InconsistentError if iface is already
// attached somewhere.
func (n *BridgeNetwork) Attach(ctx context.Context, iface *Interface) (IfaceIndex, error) {
	if iface.Network() != nil {
		return 0, InconsistentError(fmt.Sprintf("interface %s is already attached", iface.LocalName()))
	}

	n.mu.Lock()
	idx := n.nextIndex
	n.nextIndex++
	n.ifaces[idx] = iface
	n.order = append(n.order, idx)
	n.adjacency[iface] = make(map[*Interface]bool)
	up := n.up
	n.mu.Unlock()

	iface.setNetwork(n)

	if up {
		if err := n.client.SetInterfaceMaster(ctx, n.name, iface.LocalName()); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

func (n *BridgeNetwork) indexOf(iface *Interface) (IfaceIndex, bool) {
	for _, idx := range n.order {
		if n.ifaces[idx] == iface {
			return idx, true
		}
	}
	return 0, false
}

func (n *BridgeNetwork) removeFromOrderLocked(idx IfaceIndex) {
	for i, v := range n.order {
		if v == idx {
			n.order = append(n.order[:i], n.order[i+1:]...)
			return
		}
	}
}

// Detach removes iface from this network, returning InconsistentError if
// it isn't currently attached here.
func (n *BridgeNetwork) Detach(ctx context.Context, iface *Interface) error {
	n.mu.Lock()
	idx, ok := n.indexOf(iface)
	if !ok {
		n.mu.Unlock()
		return InconsistentError(fmt.Sprintf("interface %s is not attached to bridge %s", iface.LocalName(), n.name))
	}
	delete(n.ifaces, idx)
	n.removeFromOrderLocked(idx)
	delete(n.adjacency, iface)
	for _, row := range n.adjacency {
		delete(row, iface)
	}
	up := n.up
	n.mu.Unlock()

	iface.setNetwork(nil)

	if up {
		return n.client.DeleteInterface(ctx, n.name, iface.LocalName())
	}
	return nil
}

func (n *BridgeNetwork) defaultLinked() (bool, error) {
	switch n.policy {
	case netclient.Accept:
		return true, nil
	case netclient.Drop:
		return false, nil
	default:
		return false, UnknownPolicyError(n.policy)
	}
}

// Linked reports whether a and b currently pass traffic between each
// other, lazily populating the adjacency entry from the network's default
// policy on first query. Both must be attached to this network.
func (n *BridgeNetwork) Linked(a, b *Interface) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lockedLinked(a, b)
}

func (n *BridgeNetwork) lockedLinked(a, b *Interface) (bool, error) {
	if _, ok := n.adjacency[a]; !ok {
		return false, InconsistentError(fmt.Sprintf("interface %s is not attached to bridge %s", a.LocalName(), n.name))
	}
	if _, ok := n.adjacency[b]; !ok {
		return false, InconsistentError(fmt.Sprintf("interface %s is not attached to bridge %s", b.LocalName(), n.name))
	}
	row := n.adjacency[a]
	if linked, ok := row[b]; ok {
		return linked, nil
	}
	def, err := n.defaultLinked()
	if err != nil {
		return false, err
	}
	row[b] = def
	return def, nil
}

func (n *BridgeNetwork) setLinked(a, b *Interface, linked bool) error {
	n.mu.Lock()
	prev, err := n.lockedLinked(a, b)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	changed := prev != linked
	if changed {
		n.adjacency[a][b] = linked
	}
	n.mu.Unlock()

	if changed {
		n.markDirty()
	}
	return nil
}

// Link allows traffic between a and b, marking the filter chain dirty if
// this changes their prior state.
func (n *BridgeNetwork) Link(a, b *Interface) error { return n.setLinked(a, b, true) }

// Unlink blocks traffic between a and b, marking the filter chain dirty
// if this changes their prior state.
func (n *BridgeNetwork) Unlink(a, b *Interface) error { return n.setLinked(a, b, false) }

func (n *BridgeNetwork) markDirty() {
	if n.queue == nil {
		return
	}
	n.queue.MarkDirty(n.id, n.epoch)
}

// BuildFilterCommands rebuilds this network's ebtables chain from its
// current adjacency map: a fresh chain if none exists yet, otherwise a
// flush of the existing one, followed by a pair of exception rules (one
// per direction) for each adjacency entry that departs from the network's
// default policy (spec §4.F).
func (n *BridgeNetwork) BuildFilterCommands() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	var cmds []string
	if n.hasChain {
		cmds = append(cmds, n.client.FlushChainCmd(n.name))
	} else {
		cmds = append(cmds, n.client.NewChainCmd(n.name, n.policy), n.client.ForwardJumpCmd(n.name))
		n.hasChain = true
	}

	for _, aIdx := range n.order {
		a := n.ifaces[aIdx]
		row, ok := n.adjacency[a]
		if !ok {
			continue
		}
		for _, bIdx := range n.order {
			if aIdx == bIdx {
				continue
			}
			b := n.ifaces[bIdx]
			linked, present := row[b]
			if !present {
				continue
			}
			switch {
			case n.policy == netclient.Drop && linked:
				cmds = append(cmds,
					n.client.AcceptRuleCmd(n.name, a.LocalName(), b.LocalName()),
					n.client.AcceptRuleCmd(n.name, b.LocalName(), a.LocalName()))
			case n.policy == netclient.Accept && !linked:
				cmds = append(cmds,
					n.client.DropRuleCmd(n.name, a.LocalName(), b.LocalName()),
					n.client.DropRuleCmd(n.name, b.LocalName(), a.LocalName()))
			}
		}
	}
	return cmds
}

// LinkOptions describes the traffic-shaping parameters to apply to one
// interface's egress path. A zero (or negative) field means "not set":
// Bandwidth of 0 removes any installed token-bucket filter, and all four
// of DelayMicros/JitterMicros/LossPercent/DuplicatePercent being <= 0
// removes any installed network-emulation discipline.
type LinkOptions struct {
	Bandwidth        uint64
	DelayMicros      int64
	JitterMicros     int64
	LossPercent      float64
	DuplicatePercent int
}

func boolParam(c *Interface, key string) bool {
	v, _ := c.GetParam(key).(bool)
	return v
}

// LinkConfig applies shaping parameters to target, an interface attached
// to this network. Every parameter is cached against its previous value;
// re-applying an unchanged set of parameters issues no host command at
// all (spec §4.E, testable property #5).
func (n *BridgeNetwork) LinkConfig(ctx context.Context, target *Interface, opts LinkOptions) error {
	dev := target.LocalName()
	changed := false

	if target.SetParam("bw", opts.Bandwidth) {
		changed = true
		switch {
		case opts.Bandwidth > 0:
			burst := uint64(2 * target.MTU())
			if min := opts.Bandwidth / 1000; min > burst {
				burst = min
			}
			if n.isUp() {
				if err := n.client.TBFReplace(ctx, dev, opts.Bandwidth, burst, 0xFFFF); err != nil {
					return err
				}
			}
			target.SetParam("has_tbf", true)
		case boolParam(target, "has_tbf"):
			if n.isUp() {
				if err := n.client.QdiscDelete(ctx, dev, "root"); err != nil {
					return err
				}
			}
			target.SetParam("has_tbf", false)
			target.SetParam("has_netem", false)
		}
	}

	parent := "root"
	if boolParam(target, "has_tbf") {
		parent = "parent 1:1"
	}

	if target.SetParam("delay", opts.DelayMicros) {
		changed = true
	}
	if target.SetParam("jitter", opts.JitterMicros) {
		changed = true
	}
	if target.SetParam("loss", opts.LossPercent) {
		changed = true
	}
	if target.SetParam("duplicate", opts.DuplicatePercent) {
		changed = true
	}
	if !changed {
		return nil
	}

	allUnset := opts.DelayMicros <= 0 && opts.JitterMicros <= 0 &&
		opts.LossPercent <= 0 && opts.DuplicatePercent <= 0

	if allUnset {
		if !boolParam(target, "has_netem") {
			return nil
		}
		if n.isUp() {
			if err := n.client.QdiscDelete(ctx, dev, parent+" handle 10:"); err != nil {
				return err
			}
		}
		target.SetParam("has_netem", false)
		return nil
	}

	spec := netemSpec(opts)
	if n.isUp() {
		if err := n.client.NetemReplace(ctx, dev, parent, spec); err != nil {
			return err
		}
	}
	target.SetParam("has_netem", true)
	return nil
}

func netemSpec(opts LinkOptions) string {
	spec := "netem"
	switch {
	case opts.DelayMicros > 0 && opts.JitterMicros > 0:
		spec += fmt.Sprintf(" delay %dus %dus 25%%", opts.DelayMicros, opts.JitterMicros)
	case opts.DelayMicros > 0:
		spec += fmt.Sprintf(" delay %dus", opts.DelayMicros)
	case opts.JitterMicros > 0:
		spec += fmt.Sprintf(" delay 0us %dus 25%%", opts.JitterMicros)
	}
	if opts.LossPercent > 0 {
		loss := opts.LossPercent
		if loss > 100 {
			loss = 100
		}
		spec += fmt.Sprintf(" loss %.2f%%", loss)
	}
	if opts.DuplicatePercent > 0 {
		dup := opts.DuplicatePercent
		if dup > 100 {
			dup = 100
		}
		spec += fmt.Sprintf(" duplicate %d%%", dup)
	}
	return spec
}

// LinkData describes one link as reported to the session's external
// consumer (spec §4.D). Unidirectional is set when the two interfaces'
// shaping parameters differ, meaning a second LinkData with swapped
// endpoints accompanies this one (spec §4.G, grounded in
// original_source's all_link_data upstream-link record).
type LinkData struct {
	Network1       NetworkID
	Network2       NetworkID
	Iface1         *Interface
	Iface2         *Interface
	Unidirectional bool
}

// shapingParamKeys are the LinkOptions-derived parameters compared to
// decide whether a link's two directions carry different shaping.
var shapingParamKeys = []string{"bw", "delay", "jitter", "loss", "duplicate"}

// paramsEqual reports whether a and b carry the same cached shaping
// parameters, i.e. whether a link between them is symmetric.
func paramsEqual(a, b *Interface) bool {
	for _, key := range shapingParamKeys {
		if a.GetParam(key) != b.GetParam(key) {
			return false
		}
	}
	return true
}

// AllLinkData reports one record per attached interface whose far end is
// another network (a network-to-network veth link installed by LinkNet):
// ordinary node attachments are reported by the node side, not the net
// side. Variants with their own reporting rules (point-to-point,
// wireless, control-network) override this.
func (n *BridgeNetwork) AllLinkData() []LinkData {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []LinkData
	for _, idx := range n.order {
		iface := n.ifaces[idx]
		peer := iface.PeerNetwork()
		if peer == nil {
			continue
		}
		out = append(out, LinkData{Network1: n.id, Network2: peer.ID(), Iface1: iface})
	}
	return out
}

// LinkNet attaches a fresh veth pair between this network and other,
// naming the two legs from the session's convention (spec §6): the leg on
// this network is veth<this-id>.<other-id>.<session>, the leg on other is
// veth<other-id>.<this-id>.<session> (ids in hex), and a name that would
// exceed the kernel limit is rejected before anything is created on the
// host.
func (n *BridgeNetwork) LinkNet(ctx context.Context, other *BridgeNetwork) error {
	shortID := n.session.ShortID()
	localName := fmt.Sprintf("veth%x.%x.%s", n.id, other.id, shortID)
	peerName := fmt.Sprintf("veth%x.%x.%s", other.id, n.id, shortID)
	if len(localName) > maxDeviceName {
		return NameTooLongError(localName)
	}
	if len(peerName) > maxDeviceName {
		return NameTooLongError(peerName)
	}

	if err := n.client.CreateVeth(ctx, localName, peerName); err != nil {
		return err
	}

	localIface := NewInterface(n.client, localName, peerName, nil, 0)
	peerIface := NewInterface(other.client, peerName, localName, nil, 0)

	if _, err := n.Attach(ctx, localIface); err != nil {
		return err
	}
	if _, err := other.Attach(ctx, peerIface); err != nil {
		return err
	}
	localIface.setPeerNetwork(other)
	peerIface.setPeerNetwork(n)
	return nil
}
