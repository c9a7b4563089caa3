package scanner_test

import (
	"context"
	"testing"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/heartbeat"
	"github.com/vireo-systems/canopen/pkg/network"
	"github.com/vireo-systems/canopen/pkg/nmt"
	"github.com/vireo-systems/canopen/pkg/od"
	"github.com/vireo-systems/canopen/pkg/scanner"
	"github.com/stretchr/testify/assert"
)

func createScanNetwork(t *testing.T, port string, nodeId uint8) *network.Network {
	t.Helper()
	canBus, err := network.NewBus("virtual", port, 0)
	assert.Nil(t, err)
	net := network.NewNetwork(canBus)
	err = net.Connect()
	assert.Nil(t, err)
	_, err = net.CreateLocalNode(nodeId, od.Default())
	assert.Nil(t, err)
	return &net
}

func TestPassiveObservesBootupAndHeartbeat(t *testing.T) {
	var updates []scanner.NodeInfo
	passive := scanner.NewPassive(nil, func(info scanner.NodeInfo) {
		updates = append(updates, info)
	})

	bootup := canopen.NewFrame(uint32(heartbeat.ServiceId)+0x20, 0, 1)
	bootup.Data[0] = nmt.StateInitializing
	passive.Observe(bootup)

	running := canopen.NewFrame(uint32(heartbeat.ServiceId)+0x20, 0, 1)
	running.Data[0] = nmt.StateOperational
	passive.Observe(running)

	nodes := passive.Nodes()
	assert.Len(t, nodes, 1)
	assert.EqualValues(t, 0x20, nodes[0].ID)
	assert.Equal(t, nmt.StateOperational, nodes[0].NMTState)
	assert.Len(t, updates, 2)
}

func TestPassiveIgnoresUnrelatedFrames(t *testing.T) {
	passive := scanner.NewPassive(nil, nil)
	passive.Observe(canopen.NewFrame(0x181, 0, 8))
	assert.Len(t, passive.Nodes(), 0)
}

func TestActiveProbeFindsLocalNode(t *testing.T) {
	net := createScanNetwork(t, "localhost:18901", 0x22)
	defer net.Disconnect()

	active := scanner.NewActive(net.BusManager, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	found, err := active.Probe(ctx, 0x20, 0x25, 200*time.Millisecond)
	assert.Nil(t, err)

	var match *scanner.NodeInfo
	for i := range found {
		if found[i].ID == 0x22 {
			match = &found[i]
		}
	}
	assert.NotNil(t, match)
	if match != nil {
		assert.True(t, match.Active)
	}
}
