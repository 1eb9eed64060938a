package fabric

import (
	"context"

	"github.com/b00ga/corefabric/internal/netclient"
	"github.com/b00ga/corefabric/internal/session"
)

// SwitchNetwork is an ordinary learning bridge: ACCEPT-by-default, no
// attachment limit, MAC learning left on (spec §4.G).
type SwitchNetwork struct {
	*BridgeNetwork
}

// NewSwitchNetwork constructs a switch network registered with queue for
// filter-chain coalescing.
func NewSwitchNetwork(id NetworkID, sess *session.Session, client netclient.Client, queue *FilterQueue, arena *Arena) (*SwitchNetwork, error) {
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
	return &SwitchNetwork{BridgeNetwork: base}, nil
}

// HubNetwork is a switch with MAC learning disabled, flooding every frame
// to every attached interface instead of learning source addresses.
type HubNetwork struct {
	*BridgeNetwork
}

// NewHubNetwork constructs a hub network.
func NewHubNetwork(id NetworkID, sess *session.Session, client netclient.Client, queue *FilterQueue, arena *Arena) (*HubNetwork, error) {
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
	return &HubNetwork{BridgeNetwork: base}, nil
}

// Startup brings the bridge up as usual and then disables MAC learning,
// the one behavioral difference from a switch.
func (h *HubNetwork) Startup(ctx context.Context) error {
	if err := h.BridgeNetwork.Startup(ctx); err != nil {
		return err
	}
	return h.Client().DisableMACLearning(ctx, h.BridgeName())
}
