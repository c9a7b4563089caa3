package virtual

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	canopen "github.com/vireo-systems/canopen"
)

// CAN server should be running for this to work.

var VCAN_CHANNEL string = "localhost:18888"

func newVcan(channel string) *Bus {
	canBus, _ := NewVirtualCanBus(channel)
	vcan, _ := canBus.(*Bus)
	return vcan
}

type FrameReceiver struct {
	mu     sync.Mutex
	frames []canopen.Frame
}

func (frameReceiver *FrameReceiver) Handle(frame canopen.Frame) {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	frameReceiver.frames = append(frameReceiver.frames, frame)
}

func TestSendAndSubscribe(t *testing.T) {
	vcan1 := newVcan(VCAN_CHANNEL)
	vcan2 := newVcan(VCAN_CHANNEL)
	defer vcan1.Disconnect()
	defer vcan2.Disconnect()
	err1 := vcan1.Connect()
	err2 := vcan2.Connect()
	if err1 != nil || err2 != nil {
		t.Skip("no virtual CAN broker running, skipping", err1, err2)
	}
	frameReceiver := FrameReceiver{frames: make([]canopen.Frame, 0)}
	vcan2.Subscribe(&frameReceiver)

	frame := canopen.Frame{ID: 0x111, Flags: 0, DLC: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}
	for i := 0; i < 10; i++ {
		frame.Data[0] = uint8(i)
		vcan1.Send(frame)
	}
	time.Sleep(time.Millisecond * 500)
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	assert.GreaterOrEqual(t, len(frameReceiver.frames), 10)
}

func TestReceiveOwn(t *testing.T) {
	vcan1 := newVcan(VCAN_CHANNEL)
	defer vcan1.Disconnect()
	frameReceiver := FrameReceiver{frames: make([]canopen.Frame, 0)}
	vcan1.Subscribe(&frameReceiver)
	frame := canopen.Frame{ID: 0x111, Flags: 0, DLC: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}
	vcan1.Send(frame)
	time.Sleep(time.Millisecond * 10)
	assert.Equal(t, 0, len(frameReceiver.frames))

	vcan1.SetReceiveOwn(true)
	vcan1.Send(frame)
	assert.NotEqual(t, 0, len(frameReceiver.frames))
}
