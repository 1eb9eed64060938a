package fabric

import (
	"context"
	"fmt"
	"sync"

	"github.com/b00ga/corefabric/internal/netclient"
)

// fakeClient is an in-memory netclient.Client: it records every call
// instead of touching the kernel, so BridgeNetwork and its variants can be
// exercised without root privileges or real net devices.
type fakeClient struct {
	mu    sync.Mutex
	calls []string

	atomicCommits         [][]string
	failNext              error
	existingBridgesResult bool
}

// SetExistingBridges controls what ExistingBridges reports next, so a
// test can force the stale-bridge Conflict path.
func (f *fakeClient) SetExistingBridges(exists bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existingBridgesResult = exists
}

// AtomicCommits returns every filter-chain batch committed so far.
func (f *fakeClient) AtomicCommits() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.atomicCommits))
	copy(out, f.atomicCommits)
	return out
}

func newFakeClient() *fakeClient {
	return &fakeClient{}
}

func (f *fakeClient) record(format string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	return nil
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeClient) CreateBridge(ctx context.Context, name string) error {
	return f.record("create-bridge %s", name)
}
func (f *fakeClient) DeleteBridge(ctx context.Context, name string) error {
	return f.record("delete-bridge %s", name)
}
func (f *fakeClient) ExistingBridges(ctx context.Context, id int) (bool, error) {
	f.mu.Lock()
	exists := f.existingBridgesResult
	f.mu.Unlock()
	return exists, f.record("existing-bridges %d", id)
}
func (f *fakeClient) SetInterfaceMaster(ctx context.Context, bridge, ifName string) error {
	return f.record("attach %s %s", bridge, ifName)
}
func (f *fakeClient) DeleteInterface(ctx context.Context, bridge, ifName string) error {
	return f.record("detach %s %s", bridge, ifName)
}
func (f *fakeClient) CreateAddress(ctx context.Context, ifName, cidr string) error {
	return f.record("addr %s %s", ifName, cidr)
}
func (f *fakeClient) DisableMACLearning(ctx context.Context, bridge string) error {
	return f.record("no-learning %s", bridge)
}
func (f *fakeClient) CreateVeth(ctx context.Context, localName, peerName string) error {
	return f.record("veth %s %s", localName, peerName)
}
func (f *fakeClient) CreateGreTap(ctx context.Context, name, localIP, remoteIP string, ttl int, key uint32) error {
	return f.record("gretap %s %s %s %d %d", name, localIP, remoteIP, ttl, key)
}
func (f *fakeClient) DeleteLink(ctx context.Context, name string) error {
	return f.record("delete-link %s", name)
}
func (f *fakeClient) TBFReplace(ctx context.Context, ifName string, rate, burst, limit uint64) error {
	return f.record("tbf %s %d %d %d", ifName, rate, burst, limit)
}
func (f *fakeClient) QdiscDelete(ctx context.Context, ifName, parent string) error {
	return f.record("qdisc-del %s %s", ifName, parent)
}
func (f *fakeClient) NetemReplace(ctx context.Context, ifName, parent, spec string) error {
	return f.record("netem %s %s %s", ifName, parent, spec)
}
func (f *fakeClient) NewChainCmd(bridge string, policy netclient.Policy) string {
	return fmt.Sprintf("-N %s -P %s", bridge, policy)
}
func (f *fakeClient) FlushChainCmd(bridge string) string { return fmt.Sprintf("-F %s", bridge) }
func (f *fakeClient) ForwardJumpCmd(bridge string) string {
	return fmt.Sprintf("-A FORWARD --logical-in %s -j %s", bridge, bridge)
}
func (f *fakeClient) DeleteForwardJumpCmd(bridge string) string {
	return fmt.Sprintf("-D FORWARD --logical-in %s -j %s", bridge, bridge)
}
func (f *fakeClient) DeleteChainCmd(bridge string) string { return fmt.Sprintf("-X %s", bridge) }
func (f *fakeClient) AcceptRuleCmd(bridge, in, out string) string {
	return fmt.Sprintf("-A %s -i %s -o %s -j ACCEPT", bridge, in, out)
}
func (f *fakeClient) DropRuleCmd(bridge, in, out string) string {
	return fmt.Sprintf("-A %s -i %s -o %s -j DROP", bridge, in, out)
}
func (f *fakeClient) AtomicCommit(ctx context.Context, cmds []string) error {
	f.mu.Lock()
	f.atomicCommits = append(f.atomicCommits, cmds)
	f.mu.Unlock()
	return f.record("atomic-commit %d cmds", len(cmds))
}
func (f *fakeClient) RunDeclared(ctx context.Context, cmd string) error {
	return f.record("run-declared %s", cmd)
}

var _ netclient.Client = (*fakeClient)(nil)
