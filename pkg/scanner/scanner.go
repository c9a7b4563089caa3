// Package scanner discovers nodes present on a CAN bus, both passively
// (watching bootup and heartbeat traffic go by) and actively (probing a
// node id range with SDO reads of the mandatory identity objects).
package scanner

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/config"
	"github.com/vireo-systems/canopen/pkg/heartbeat"
	"github.com/vireo-systems/canopen/pkg/nmt"
	"github.com/vireo-systems/canopen/pkg/sdo"
)

// NodeInfo describes a node discovered on the bus.
type NodeInfo struct {
	ID          uint8
	NMTState    uint8
	LastSeen    time.Time
	VendorID    uint32
	ProductCode uint32
	// Active is true once an SDO probe has confirmed this node id replies
	// to the identity object. A passively-observed id with Active false
	// has only been inferred from heartbeat/bootup traffic.
	Active bool
}

// Passive watches every frame the [canopen.BusManager] could not route to
// a registered subscriber and infers node presence from CiA-301 bootup and
// heartbeat messages (COB-ID 0x700+id). It implements [canopen.Scanner]
// and is meant to be installed with [canopen.BusManager.SetScanner].
type Passive struct {
	mu       sync.Mutex
	logger   *slog.Logger
	nodes    map[uint8]*NodeInfo
	onUpdate func(NodeInfo)
}

// NewPassive creates a [Passive] scanner. onUpdate, if non-nil, is invoked
// (from the bus receive thread, so it must not block) every time a node's
// entry is created or refreshed.
func NewPassive(logger *slog.Logger, onUpdate func(NodeInfo)) *Passive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Passive{
		logger:   logger.With("service", "[SCANNER]"),
		nodes:    map[uint8]*NodeInfo{},
		onUpdate: onUpdate,
	}
}

// Observe implements [canopen.Scanner].
func (p *Passive) Observe(frame canopen.Frame) {
	if frame.ID < heartbeat.ServiceId || frame.ID > heartbeat.ServiceId+0x7F {
		return
	}
	if frame.DLC < 1 {
		return
	}
	nodeId := uint8(frame.ID - heartbeat.ServiceId)
	nmtState := frame.Data[0]

	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.nodes[nodeId]
	if !ok {
		info = &NodeInfo{ID: nodeId}
		p.nodes[nodeId] = info
		if nmtState == nmt.StateInitializing {
			p.logger.Info("bootup message observed", "id", nodeId)
		} else {
			p.logger.Info("node discovered from heartbeat", "id", nodeId)
		}
	}
	info.NMTState = nmtState
	info.LastSeen = time.Now()
	snapshot := *info
	if p.onUpdate != nil {
		p.onUpdate(snapshot)
	}
}

// Nodes returns the currently known nodes, sorted by id.
func (p *Passive) Nodes() []NodeInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]NodeInfo, 0, len(p.nodes))
	for _, info := range p.nodes {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Active probes a range of node ids with SDO uploads of object 0x1018
// (identity) to find nodes that do not produce heartbeats, or to confirm
// ones that do. One [sdo.SDOClient] is created per probed id so the scan
// can run fully in parallel; the round trip time is bounded by timeout.
type Active struct {
	bm     *canopen.BusManager
	logger *slog.Logger
}

// NewActive creates an [Active] prober driving SDO traffic over bm.
func NewActive(bm *canopen.BusManager, logger *slog.Logger) *Active {
	if logger == nil {
		logger = slog.Default()
	}
	return &Active{bm: bm, logger: logger.With("service", "[SCANNER]")}
}

// Probe scans node ids in [idMin, idMax] and returns the nodes that
// answered. idMax is capped at 127 (CiA-301 node id range). The context
// can be used to cancel a scan in progress; it does not speed up
// individual probe timeouts, each of which is bounded by timeout.
func (a *Active) Probe(ctx context.Context, idMin uint8, idMax uint8, timeout time.Duration) ([]NodeInfo, error) {
	if idMax > 127 {
		idMax = 127
	}
	if idMin < 1 {
		idMin = 1
	}
	timeoutMs := uint32(timeout / time.Millisecond)
	if timeoutMs == 0 {
		timeoutMs = sdo.DefaultClientTimeout
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	found := make([]NodeInfo, 0)

	for id := idMin; id <= idMax; id++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return found, ctx.Err()
		default:
		}
		client, err := sdo.NewSDOClient(a.bm, a.logger, nil, id, timeoutMs, nil)
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(nodeId uint8, client *sdo.SDOClient) {
			defer wg.Done()
			configurator := config.NewNodeConfigurator(nodeId, a.logger, client)
			identity, err := configurator.ReadIdentity()
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			found = append(found, NodeInfo{
				ID:          nodeId,
				LastSeen:    time.Now(),
				VendorID:    identity.VendorId,
				ProductCode: identity.ProductCode,
				Active:      true,
			})
		}(id, client)
	}
	wg.Wait()
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, nil
}
