package network

import (
	"testing"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/emergency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emergencyFrame(nodeId uint8, errorCode uint16, errorRegister byte) canopen.Frame {
	frame := canopen.NewFrame(emergency.ServiceId+uint32(nodeId), 0, 8)
	frame.Data[0] = byte(errorCode)
	frame.Data[1] = byte(errorCode >> 8)
	frame.Data[2] = errorRegister
	return frame
}

// Monitor subscribes the consumer to a specific node's exact COB-ID, and a
// frame for a different node must not affect its state.
func TestEMCYConsumerTracksPerNode(t *testing.T) {
	bm := canopen.NewBusManager(nil)
	consumer := NewEMCYConsumer(bm, nil)
	require.NoError(t, consumer.Monitor(5))
	require.NoError(t, consumer.Monitor(6))

	bm.Notify(emergencyFrame(5, 0x1000, 0x01))
	assert.Equal(t, []uint16{0x1000}, consumer.Active(5))
	assert.Empty(t, consumer.Active(6))
	assert.Len(t, consumer.Log(5), 1)
}

// Error code 0x0000 clears the active list but is not appended to it, while
// the history log only ever grows for real errors.
func TestEMCYConsumerResetClearsActiveOnly(t *testing.T) {
	bm := canopen.NewBusManager(nil)
	consumer := NewEMCYConsumer(bm, nil)
	require.NoError(t, consumer.Monitor(5))

	bm.Notify(emergencyFrame(5, 0x2000, 0x01))
	bm.Notify(emergencyFrame(5, 0x3000, 0x01))
	assert.Len(t, consumer.Active(5), 2)

	bm.Notify(emergencyFrame(5, 0x0000, 0x00))
	assert.Empty(t, consumer.Active(5))
	assert.Len(t, consumer.Log(5), 2)
}

// Wait must unblock as soon as a frame for the monitored node is handled.
func TestEMCYConsumerWait(t *testing.T) {
	bm := canopen.NewBusManager(nil)
	consumer := NewEMCYConsumer(bm, nil)
	require.NoError(t, consumer.Monitor(7))

	done := make(chan emergency.EmergencyEvent, 1)
	go func() {
		event, err := consumer.Wait(7, time.Second)
		assert.NoError(t, err)
		done <- event
	}()

	time.Sleep(10 * time.Millisecond)
	bm.Notify(emergencyFrame(7, 0x4000, 0x01))

	select {
	case event := <-done:
		assert.Equal(t, uint16(0x4000), event.ErrorCode)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after an emergency frame was handled")
	}
}

// An unmonitored node id is rejected outright.
func TestEMCYConsumerWaitUnknownNode(t *testing.T) {
	bm := canopen.NewBusManager(nil)
	consumer := NewEMCYConsumer(bm, nil)

	_, err := consumer.Wait(42, 20*time.Millisecond)
	assert.Equal(t, canopen.ErrIllegalArgument, err)
}

// With no emergency ever observed, Wait fails with ErrTimeout.
func TestEMCYConsumerWaitTimeout(t *testing.T) {
	bm := canopen.NewBusManager(nil)
	consumer := NewEMCYConsumer(bm, nil)
	require.NoError(t, consumer.Monitor(8))

	_, err := consumer.Wait(8, 20*time.Millisecond)
	assert.Equal(t, canopen.ErrTimeout, err)
}
