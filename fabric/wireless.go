package fabric

import (
	"context"
	"sync"

	"github.com/b00ga/corefabric/internal/netclient"
	"github.com/b00ga/corefabric/internal/session"
)

// WirelessModel computes whether two interfaces on the same wireless
// network can currently reach each other, and with what link quality.
// Range-based propagation models and EMANE-style radio models both
// implement this; only the recomputation loop lives in WirelessNetwork
// (spec §4.G).
type WirelessModel interface {
	Name() string
	// Evaluate reports whether a and b are currently linked, and the
	// shaping parameters to apply to a's egress toward b if so.
	Evaluate(a, b *Interface) (linked bool, opts LinkOptions)
	// UpdateConfig applies a batch of configuration values (e.g. range,
	// bandwidth) ahead of the next recompute.
	UpdateConfig(config map[string]string) error
	// PositionCallback is invoked whenever an interface this model is
	// bound to reports a new position, so the model can recompute that
	// interface's links. It is bound as the interface's position hook by
	// Attach and SetModel, mirroring original_source's
	// netif.poshook = model.position_callback.
	PositionCallback(iface *Interface, x, y, z float64)
	// AllLinkData reports any links the model tracks on its own (e.g. an
	// EMANE radio model's own topology), concatenated onto the
	// network's reported links.
	AllLinkData() []LinkData
}

// MobilityModel drives interface positions independently of the
// wireless propagation model — a waypoint script or similar that moves
// interfaces over time, which reaches the wireless model only through
// the position hook it installs. Grounded in original_source's
// WlanNode.mobility, kept distinct from WlanNode.model since a network
// can have either, both, or neither set (spec §7).
type MobilityModel interface {
	Name() string
	UpdateConfig(config map[string]string) error
}

// WirelessNetwork is a DROP-by-default bridge whose adjacency is driven
// by a pluggable propagation model rather than direct Link/Unlink calls
// from a session controller: SetModel/UpdateModel recompute every pair,
// while the independent mobility model only updates position over time
// and never touches link state directly (spec §4.G).
type WirelessNetwork struct {
	*BridgeNetwork

	mu       sync.Mutex
	model    WirelessModel
	mobility MobilityModel
}

// NewWirelessNetwork constructs a wireless-LAN network. It always
// registers with queue, since the whole point of the filter-commit queue
// is coalescing the bursts of Link/Unlink calls a mobility update
// produces.
func NewWirelessNetwork(id NetworkID, sess *session.Session, client netclient.Client, queue *FilterQueue, arena *Arena) (*WirelessNetwork, error) {
	base, err := newBridgeNetwork(bridgeNetworkConfig{
		id:      id,
		session: sess,
		policy:  netclient.Drop,
		client:  client,
		queue:   queue,
		arena:   arena,
	})
	if err != nil {
		return nil, err
	}
	return &WirelessNetwork{BridgeNetwork: base}, nil
}

// Attach binds the installed wireless model's position callback onto
// iface before delegating to the base attach, so a newly joined
// interface's position updates reach the model immediately
// (original_source's WlanNode.attach).
func (w *WirelessNetwork) Attach(ctx context.Context, iface *Interface) (IfaceIndex, error) {
	idx, err := w.BridgeNetwork.Attach(ctx, iface)
	if err != nil {
		return idx, err
	}
	w.bindPositionHook(iface)
	return idx, nil
}

func (w *WirelessNetwork) bindPositionHook(iface *Interface) {
	w.mu.Lock()
	model := w.model
	w.mu.Unlock()
	if model == nil {
		return
	}
	iface.SetPositionHook(func(x, y, z float64) { model.PositionCallback(iface, x, y, z) })
}

// SetModel installs the propagation model driving this network's
// adjacency, binds its position callback onto every already-attached
// interface, and immediately recomputes every pair under it
// (original_source's WlanNode.setmodel, wireless branch).
func (w *WirelessNetwork) SetModel(ctx context.Context, model WirelessModel, config map[string]string) error {
	w.mu.Lock()
	w.model = model
	w.mu.Unlock()

	for _, iface := range w.Interfaces() {
		w.bindPositionHook(iface)
	}
	return w.UpdateModel(ctx, config)
}

// UpdateModel applies config to the installed wireless model and
// recomputes every attached pair's link state and shaping against it.
// Returns InconsistentError if no model has been set
// (original_source's WlanNode.updatemodel raises ValueError in this case).
func (w *WirelessNetwork) UpdateModel(ctx context.Context, config map[string]string) error {
	w.mu.Lock()
	model := w.model
	w.mu.Unlock()
	if model == nil {
		return InconsistentError("no wireless model set to update")
	}
	if err := model.UpdateConfig(config); err != nil {
		return err
	}
	ifaces := w.Interfaces()
	return w.recompute(ctx, model, ifaces, ifaces)
}

// SetMobilityModel installs the mobility model driving interface
// position over time, independent of the wireless propagation model.
func (w *WirelessNetwork) SetMobilityModel(model MobilityModel) {
	w.mu.Lock()
	w.mobility = model
	w.mu.Unlock()
}

// UpdateMobility forwards a batch of configuration values to the
// installed mobility model. It never touches link state itself: a
// mobility model only drives position, and a position change reaches
// the wireless model through the interface's position hook, not through
// this method (original_source's WlanNode.update_mobility). Returns
// InconsistentError if no mobility model has been set.
func (w *WirelessNetwork) UpdateMobility(config map[string]string) error {
	w.mu.Lock()
	mobility := w.mobility
	w.mu.Unlock()
	if mobility == nil {
		return InconsistentError("no mobility model set to update")
	}
	return mobility.UpdateConfig(config)
}

func (w *WirelessNetwork) recompute(ctx context.Context, model WirelessModel, left, right []*Interface) error {
	for _, a := range left {
		for _, b := range right {
			if a == b {
				continue
			}
			linked, opts := model.Evaluate(a, b)
			if linked {
				if err := w.Link(a, b); err != nil {
					return err
				}
			} else {
				if err := w.Unlink(a, b); err != nil {
					return err
				}
			}
			if err := w.LinkConfig(ctx, a, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

// AllLinkData concatenates the base bridge's link data with any
// model-specific links the installed wireless model reports
// (original_source's WlanNode.all_link_data).
func (w *WirelessNetwork) AllLinkData() []LinkData {
	links := w.BridgeNetwork.AllLinkData()
	w.mu.Lock()
	model := w.model
	w.mu.Unlock()
	if model != nil {
		links = append(links, model.AllLinkData()...)
	}
	return links
}
