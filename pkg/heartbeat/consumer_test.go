package heartbeat

import (
	"fmt"
	"testing"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/emergency"
	"github.com/vireo-systems/canopen/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// base.eds carries no 0x1016 table, so build one by hand: one monitored
// entry for nodeId with the given period in milliseconds.
func newTestConsumerHeartbeatTimeEntry(dict *od.ObjectDictionary, nodeId uint8, periodMs uint16) *od.Entry {
	table := od.NewRecord()
	table.AddSubObject(0, "Highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, "0x1")
	periodAndId := uint32(nodeId)<<16 | uint32(periodMs)
	table.AddSubObject(1, "Consumer heartbeat time", od.UNSIGNED32, od.AttributeSdoRw, fmt.Sprintf("0x%x", periodAndId))
	return dict.AddVariableList(0x1016, "Consumer heartbeat time", table)
}

func newTestHBConsumer(t *testing.T, nodeId uint8, periodMs uint16) (*HBConsumer, *od.ObjectDictionary) {
	t.Helper()
	dict := od.Default()
	entry1016 := newTestConsumerHeartbeatTimeEntry(dict, nodeId, periodMs)

	bm := canopen.NewBusManager(nil)
	emcy := emergency.NewEMCYForLogging(nil)
	consumer, err := NewHBConsumer(bm, nil, emcy, entry1016)
	require.NoError(t, err)
	return consumer, dict
}

// WaitForHeartbeat must unblock as soon as a heartbeat frame from the
// monitored node is handled, and return the observed NMT state byte.
func TestHBConsumerWaitForHeartbeat(t *testing.T) {
	const monitoredNode = uint8(5)
	consumer, _ := newTestHBConsumer(t, monitoredNode, 1000)
	consumer.Start()

	done := make(chan uint8, 1)
	go func() {
		state, err := consumer.WaitForHeartbeat(monitoredNode, time.Second)
		assert.NoError(t, err)
		done <- state
	}()

	time.Sleep(10 * time.Millisecond)

	var target *hbConsumerEntry
	for _, entry := range consumer.entries {
		if entry.nodeId == monitoredNode {
			target = entry
		}
	}
	require.NotNil(t, target)
	frame := canopen.NewFrame(uint32(target.cobId), 0, 1)
	frame.Data[0] = 5 // OPERATIONAL
	target.Handle(frame)

	select {
	case state := <-done:
		assert.Equal(t, uint8(5), state)
	case <-time.After(time.Second):
		t.Fatal("WaitForHeartbeat did not return after a heartbeat was handled")
	}
}

// With no heartbeat delivered, WaitForHeartbeat must fail with ErrTimeout
// once the deadline passes.
func TestHBConsumerWaitForHeartbeatTimeout(t *testing.T) {
	const monitoredNode = uint8(5)
	consumer, _ := newTestHBConsumer(t, monitoredNode, 1000)
	consumer.Start()

	_, err := consumer.WaitForHeartbeat(monitoredNode, 20*time.Millisecond)
	assert.Equal(t, canopen.ErrTimeout, err)
}

// An unmonitored node id is rejected outright rather than blocking forever.
func TestHBConsumerWaitForHeartbeatUnknownNode(t *testing.T) {
	consumer, _ := newTestHBConsumer(t, 5, 1000)
	consumer.Start()

	_, err := consumer.WaitForHeartbeat(42, 20*time.Millisecond)
	assert.Equal(t, canopen.ErrIllegalArgument, err)
}
