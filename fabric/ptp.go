package fabric

import (
	"context"

	"github.com/b00ga/corefabric/internal/netclient"
	"github.com/b00ga/corefabric/internal/session"
)

// PointToPointNetwork is a bridge restricted to exactly two attached
// interfaces — the common case of a single wire between two nodes — with
// its own link-data reporting convention: the link is described once,
// from the side with the lower attach index, plus a second swapped-
// endpoint record whenever the two sides' shaping differs (spec §4.G).
type PointToPointNetwork struct {
	*BridgeNetwork
}

// NewPointToPointNetwork constructs a point-to-point network, registered
// with queue/arena like every other variant except GreTapBridge
// (original_source's PtpNet never overrides CoreNetwork's unconditional
// ebq.startupdateloop registration).
func NewPointToPointNetwork(id NetworkID, sess *session.Session, client netclient.Client, queue *FilterQueue, arena *Arena) (*PointToPointNetwork, error) {
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
	return &PointToPointNetwork{BridgeNetwork: base}, nil
}

// Attach enforces the two-interface capacity limit before delegating to
// the base implementation.
func (p *PointToPointNetwork) Attach(ctx context.Context, iface *Interface) (IfaceIndex, error) {
	if len(p.Interfaces()) >= 2 {
		return 0, &CapacityExceededError{Bridge: p.BridgeName(), Limit: 2}
	}
	return p.BridgeNetwork.Attach(ctx, iface)
}

// AllLinkData reports the single link between this network's two
// interfaces, if both are attached, from the lower attach index. If the
// two sides' shaping parameters differ, a second record with swapped
// endpoints is appended and both records are marked Unidirectional,
// matching original_source's upstream-link record.
func (p *PointToPointNetwork) AllLinkData() []LinkData {
	ifaces := p.Interfaces()
	if len(ifaces) < 2 {
		return nil
	}
	a, b := ifaces[0], ifaces[1]
	links := []LinkData{{
		Network1: p.ID(),
		Network2: p.ID(),
		Iface1:   a,
		Iface2:   b,
	}}
	if !paramsEqual(a, b) {
		links[0].Unidirectional = true
		links = append(links, LinkData{
			Network1:       p.ID(),
			Network2:       p.ID(),
			Iface1:         b,
			Iface2:         a,
			Unidirectional: true,
		})
	}
	return links
}
