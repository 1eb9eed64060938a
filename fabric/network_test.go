package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b00ga/corefabric/internal/session"
)

func TestSwitchAttachDetachRoundTrip(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	sw, err := NewSwitchNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, sw.Startup(context.Background()))

	iface := NewInterface(client, "veth0", "", nil, 1500)
	idx, err := sw.Attach(context.Background(), iface)
	require.NoError(t, err)
	assert.Equal(t, IfaceIndex(0), idx)
	assert.Equal(t, sw.BridgeNetwork, iface.Network())
	assert.Contains(t, client.Calls(), "attach "+sw.BridgeName()+" veth0")

	require.NoError(t, sw.Detach(context.Background(), iface))
	assert.Nil(t, iface.Network())
	assert.Contains(t, client.Calls(), "detach "+sw.BridgeName()+" veth0")
}

func TestAttachAlreadyAttachedIsInconsistent(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	sw, err := NewSwitchNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, sw.Startup(context.Background()))

	iface := NewInterface(client, "veth0", "", nil, 1500)
	_, err = sw.Attach(context.Background(), iface)
	require.NoError(t, err)

	other, err := NewSwitchNetwork(2, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, other.Startup(context.Background()))

	_, err = other.Attach(context.Background(), iface)
	assert.Error(t, err)
	var inconsistent InconsistentError
	assert.ErrorAs(t, err, &inconsistent)
}

func TestPointToPointCapacityExceeded(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	ptp, err := NewPointToPointNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, ptp.Startup(context.Background()))

	a := NewInterface(client, "veth0", "", nil, 1500)
	b := NewInterface(client, "veth1", "", nil, 1500)
	c := NewInterface(client, "veth2", "", nil, 1500)

	_, err = ptp.Attach(context.Background(), a)
	require.NoError(t, err)
	_, err = ptp.Attach(context.Background(), b)
	require.NoError(t, err)

	_, err = ptp.Attach(context.Background(), c)
	require.Error(t, err)
	var capErr *CapacityExceededError
	assert.ErrorAs(t, err, &capErr)
}

func TestPointToPointAllLinkDataSingleRecord(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	ptp, err := NewPointToPointNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, ptp.Startup(context.Background()))

	assert.Empty(t, ptp.AllLinkData())

	a := NewInterface(client, "veth0", "", nil, 1500)
	b := NewInterface(client, "veth1", "", nil, 1500)
	_, _ = ptp.Attach(context.Background(), a)
	_, _ = ptp.Attach(context.Background(), b)

	links := ptp.AllLinkData()
	require.Len(t, links, 1)
	assert.Same(t, a, links[0].Iface1)
	assert.Same(t, b, links[0].Iface2)
	assert.False(t, links[0].Unidirectional)
}

func TestPointToPointAllLinkDataUnidirectionalWhenParamsDiffer(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	ptp, err := NewPointToPointNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, ptp.Startup(context.Background()))

	a := NewInterface(client, "veth0", "", nil, 1500)
	b := NewInterface(client, "veth1", "", nil, 1500)
	_, _ = ptp.Attach(context.Background(), a)
	_, _ = ptp.Attach(context.Background(), b)

	require.NoError(t, ptp.LinkConfig(context.Background(), a, LinkOptions{Bandwidth: 1_000_000}))

	links := ptp.AllLinkData()
	require.Len(t, links, 2)
	assert.True(t, links[0].Unidirectional)
	assert.Same(t, a, links[0].Iface1)
	assert.Same(t, b, links[0].Iface2)
	assert.True(t, links[1].Unidirectional)
	assert.Same(t, b, links[1].Iface1)
	assert.Same(t, a, links[1].Iface2)
}

func TestLinkUnlinkIdempotence(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	sw, err := NewSwitchNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, sw.Startup(context.Background()))

	a := NewInterface(client, "veth0", "", nil, 1500)
	b := NewInterface(client, "veth1", "", nil, 1500)
	_, _ = sw.Attach(context.Background(), a)
	_, _ = sw.Attach(context.Background(), b)

	linked, err := sw.Linked(a, b)
	require.NoError(t, err)
	assert.True(t, linked, "ACCEPT policy defaults to linked")

	require.NoError(t, sw.Unlink(a, b))
	linked, err = sw.Linked(a, b)
	require.NoError(t, err)
	assert.False(t, linked)

	// Unlinking again must not change anything further.
	require.NoError(t, sw.Unlink(a, b))
	linked, err = sw.Linked(a, b)
	require.NoError(t, err)
	assert.False(t, linked)

	// Linking twice is the same as linking once.
	require.NoError(t, sw.Link(a, b))
	require.NoError(t, sw.Link(a, b))
	linked, err = sw.Linked(a, b)
	require.NoError(t, err)
	assert.True(t, linked)
}

func TestWirelessDefaultPolicyIsDrop(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()

	wlan, err := NewWirelessNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, wlan.Startup(context.Background()))
	defer wlan.Shutdown(context.Background())

	a := NewInterface(client, "veth0", "", nil, 1500)
	b := NewInterface(client, "veth1", "", nil, 1500)
	_, _ = wlan.Attach(context.Background(), a)
	_, _ = wlan.Attach(context.Background(), b)

	linked, err := wlan.Linked(a, b)
	require.NoError(t, err)
	assert.False(t, linked, "DROP policy defaults to unlinked")
}

func TestBuildFilterCommandsEmitsExceptionsOnly(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	sw, err := NewSwitchNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, sw.Startup(context.Background()))

	a := NewInterface(client, "veth0", "", nil, 1500)
	b := NewInterface(client, "veth1", "", nil, 1500)
	_, _ = sw.Attach(context.Background(), a)
	_, _ = sw.Attach(context.Background(), b)

	// ACCEPT default: no adjacency queried yet, so no exceptions to emit.
	cmds := sw.BuildFilterCommands()
	require.Len(t, cmds, 2) // new-chain + forward-jump, no rules

	require.NoError(t, sw.Unlink(a, b))
	cmds = sw.BuildFilterCommands()
	// Existing chain -> flush, plus one drop rule each direction.
	require.Len(t, cmds, 3)
	assert.Contains(t, cmds[0], "-F ")
}

func TestFilterQueueCoalescesBurstsOfDirty(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	const period = 30 * time.Millisecond
	queue := NewFilterQueue(arena, period)
	defer queue.Close()

	wlan, err := NewWirelessNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, wlan.Startup(context.Background()))
	defer wlan.Shutdown(context.Background())

	a := NewInterface(client, "veth0", "", nil, 1500)
	b := NewInterface(client, "veth1", "", nil, 1500)
	_, _ = wlan.Attach(context.Background(), a)
	_, _ = wlan.Attach(context.Background(), b)

	// Toggle repeatedly before the worker has a chance to tick; all of
	// this must coalesce into exactly one atomic commit, not one per
	// call, and the commit must reflect the final state (not linked,
	// under DROP policy).
	for i := 0; i < 5; i++ {
		require.NoError(t, wlan.Link(a, b))
		require.NoError(t, wlan.Unlink(a, b))
	}

	require.Eventually(t, func() bool {
		return len(client.AtomicCommits()) > 0
	}, period*10, period/3)

	// Give any second, unwanted tick a chance to fire before asserting
	// the count stays at exactly one.
	time.Sleep(period * 2)

	commits := client.AtomicCommits()
	require.Len(t, commits, 1)
	// DROP policy, not linked: new-chain + forward-jump only, no accept
	// rule for the (unlinked) pair.
	assert.Len(t, commits[0], 2)
}

func TestGreTapSetKeyRejectedAfterStartup(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	gt, err := NewGreTapBridge(1, sess, client, "", "10.0.0.1", 64)
	require.NoError(t, err)

	require.NoError(t, gt.SetKey(42))
	require.NoError(t, gt.Startup(context.Background()))

	err = gt.SetKey(99)
	assert.Error(t, err)
	var already AlreadyConfiguredError
	assert.ErrorAs(t, err, &already)
}

func TestGreTapStartupSkipsTapCreationWithoutRemoteIP(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	gt, err := NewGreTapBridge(1, sess, client, "", "", 64)
	require.NoError(t, err)

	require.NoError(t, gt.Startup(context.Background()))
	assert.Empty(t, gt.TapName())
	for _, call := range client.Calls() {
		assert.NotContains(t, call, "gretap")
	}
}

func TestGreTapAddrConfigDeferredCreation(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	gt, err := NewGreTapBridge(1, sess, client, "", "", 64)
	require.NoError(t, err)
	require.NoError(t, gt.Startup(context.Background()))
	require.Empty(t, gt.TapName())

	require.NoError(t, gt.AddrConfig(context.Background(), []string{"10.0.0.2", "10.0.0.1"}))
	assert.NotEmpty(t, gt.TapName())
	assert.Contains(t, client.Calls(), "attach "+gt.BridgeName()+" "+gt.TapName())

	err = gt.AddrConfig(context.Background(), []string{"10.0.0.3"})
	assert.Error(t, err)
	var already AlreadyConfiguredError
	assert.ErrorAs(t, err, &already)
}

func TestControlNetworkAssignsBridgeAddressOnStartup(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	ctrl, err := NewControlNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, ctrl.Startup(context.Background()))

	// Default host index -2, counting from the broadcast end of
	// 172.16.0.0/24, lands on .254 — CORE's well-known default control
	// gateway address.
	require.NotNil(t, ctrl.Address())
	assert.Equal(t, "172.16.0.254", ctrl.Address().IP.String())
	assert.Contains(t, client.Calls(), "addr "+ctrl.BridgeName()+" 172.16.0.254/24")

	assert.Empty(t, ctrl.AllLinkData())
}

func TestControlNetworkSetHostIDPicksExplicitAddress(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	ctrl, err := NewControlNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, ctrl.SetHostID(5))
	require.NoError(t, ctrl.Startup(context.Background()))

	assert.Equal(t, "172.16.0.5", ctrl.Address().IP.String())
}

func TestControlNetworkAssignsDecrementingAddressesToRemoteServers(t *testing.T) {
	client := newFakeClient()
	remote := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	ctrl, err := NewControlNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, ctrl.SetHostID(10))
	require.NoError(t, ctrl.SetRemoteServers([]RemoteServer{{Name: "remote1", Client: remote}}))
	require.NoError(t, ctrl.Startup(context.Background()))

	assert.Equal(t, "172.16.0.10", ctrl.Address().IP.String())
	remoteAddrs := ctrl.RemoteAddresses()
	require.Len(t, remoteAddrs, 1)
	assert.Equal(t, "172.16.0.9", remoteAddrs[0].IP.String())
	assert.Contains(t, remote.Calls(), "addr "+ctrl.BridgeName()+" 172.16.0.9/24")
}

func TestControlNetworkStartupRejectsExistingBridge(t *testing.T) {
	client := newFakeClient()
	client.SetExistingBridges(true)
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	ctrl, err := NewControlNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)

	err = ctrl.Startup(context.Background())
	assert.Error(t, err)
	var conflict ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestBridgeNameTooLongRejected(t *testing.T) {
	sess := session.New(123456789)
	_, err := newBridgeNetwork(bridgeNetworkConfig{
		id:      NetworkID(987654321),
		session: sess,
		policy:  1,
		client:  newFakeClient(),
	})
	require.Error(t, err)
	var tooLong NameTooLongError
	assert.ErrorAs(t, err, &tooLong)
}

func TestLinkNetReportsLinkFromBothSides(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	one, err := NewSwitchNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, one.Startup(context.Background()))

	two, err := NewSwitchNetwork(2, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, two.Startup(context.Background()))

	require.NoError(t, one.LinkNet(context.Background(), two.BridgeNetwork))

	oneLinks := one.AllLinkData()
	require.Len(t, oneLinks, 1)
	assert.Equal(t, two.ID(), oneLinks[0].Network2)

	twoLinks := two.AllLinkData()
	require.Len(t, twoLinks, 1)
	assert.Equal(t, one.ID(), twoLinks[0].Network2)
}

func TestLinkConfigNoopIssuesNoCommand(t *testing.T) {
	client := newFakeClient()
	sess := session.New(7)
	arena := NewArena()
	queue := NewFilterQueue(arena, 0)
	defer queue.Close()
	sw, err := NewSwitchNetwork(1, sess, client, queue, arena)
	require.NoError(t, err)
	require.NoError(t, sw.Startup(context.Background()))

	iface := NewInterface(client, "veth0", "", nil, 1500)
	_, _ = sw.Attach(context.Background(), iface)

	opts := LinkOptions{Bandwidth: 1_000_000, DelayMicros: 50_000}
	require.NoError(t, sw.LinkConfig(context.Background(), iface, opts))
	before := len(client.Calls())

	// Re-applying the exact same parameters must issue no host command.
	require.NoError(t, sw.LinkConfig(context.Background(), iface, opts))
	assert.Equal(t, before, len(client.Calls()))
}
