package emergency

import (
	"testing"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/can/virtual"
	"github.com/vireo-systems/canopen/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEMCYNoBus builds an EMCY whose Handle method is driven directly in
// tests, without needing a live CAN broker.
func newTestEMCYNoBus(t *testing.T, nodeId uint8) *EMCY {
	t.Helper()
	bm := canopen.NewBusManager(nil)
	dict := od.Default()
	emcy, err := NewEMCY(
		bm,
		nil,
		nodeId,
		dict.Index(od.EntryErrorRegister),
		dict.Index(od.EntryCobIdEMCY),
		dict.Index(od.EntryInhibitTimeEMCY),
		dict.Index(od.EntryManufacturerStatusRegister),
		nil,
	)
	require.NoError(t, err)
	return emcy
}

// CAN server should be running for this to work.
func newEmergencyBus(t *testing.T, channel string) *canopen.BusManager {
	t.Helper()
	bus, err := virtual.NewVirtualCanBus(channel)
	require.NoError(t, err)
	if err := bus.Connect(); err != nil {
		t.Skip("no virtual CAN broker running, skipping", err)
	}
	bm := canopen.NewBusManager(bus)
	require.NoError(t, bus.Subscribe(bm))
	return bm
}

func newTestEMCY(t *testing.T, channel string, nodeId uint8) *EMCY {
	t.Helper()
	bm := newEmergencyBus(t, channel)
	dict := od.Default()
	emcy, err := NewEMCY(
		bm,
		nil,
		nodeId,
		dict.Index(od.EntryErrorRegister),
		dict.Index(od.EntryCobIdEMCY),
		dict.Index(od.EntryInhibitTimeEMCY),
		dict.Index(od.EntryManufacturerStatusRegister),
		nil,
	)
	require.NoError(t, err)
	return emcy
}

func TestNewEMCYRejectsBadArguments(t *testing.T) {
	dict := od.Default()
	bm := canopen.NewBusManager(nil)
	cases := map[string]struct {
		bm        *canopen.BusManager
		nodeId    uint8
		entry1001 *od.Entry
		entry1014 *od.Entry
		entry1003 *od.Entry
	}{
		"nil bus manager": {nil, 1, dict.Index(od.EntryErrorRegister), dict.Index(od.EntryCobIdEMCY), dict.Index(od.EntryManufacturerStatusRegister)},
		"node id zero":    {bm, 0, dict.Index(od.EntryErrorRegister), dict.Index(od.EntryCobIdEMCY), dict.Index(od.EntryManufacturerStatusRegister)},
		"node id too big": {bm, 128, dict.Index(od.EntryErrorRegister), dict.Index(od.EntryCobIdEMCY), dict.Index(od.EntryManufacturerStatusRegister)},
		"no error register": {bm, 1, nil, dict.Index(od.EntryCobIdEMCY), dict.Index(od.EntryManufacturerStatusRegister)},
		"no cob id entry":   {bm, 1, dict.Index(od.EntryErrorRegister), nil, dict.Index(od.EntryManufacturerStatusRegister)},
		"no history entry":  {bm, 1, dict.Index(od.EntryErrorRegister), dict.Index(od.EntryCobIdEMCY), nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewEMCY(tc.bm, nil, tc.nodeId, tc.entry1001, tc.entry1014, nil, tc.entry1003, nil)
			require.ErrorIs(t, err, canopen.ErrIllegalArgument)
		})
	}
}

func TestErrorReportAndReset(t *testing.T) {
	emcy := newTestEMCY(t, "localhost:18904", 0x10)

	var received []uint16
	emcy.SetCallback(func(ident uint16, errorCode uint16, errorRegister byte, errorBit byte, infoCode uint32) {
		received = append(received, errorCode)
	})

	require.False(t, emcy.IsError(EmHeartbeatConsumer))
	emcy.ErrorReport(EmHeartbeatConsumer, ErrHeartbeat, 0)
	require.True(t, emcy.IsError(EmHeartbeatConsumer))

	// Setting the same error bit again while it's already active is a no-op.
	emcy.ErrorReport(EmHeartbeatConsumer, ErrHeartbeat, 0)
	require.Equal(t, byte(1), emcy.fifoCount)

	emcy.ErrorReset(EmHeartbeatConsumer, 0)
	require.False(t, emcy.IsError(EmHeartbeatConsumer))

	// Resetting an error that was never set is a no-op too.
	before := emcy.fifoCount
	emcy.ErrorReset(EmTimeTimeout, 0)
	require.Equal(t, before, emcy.fifoCount)
}

func TestErrorOutOfRangeBitFallsBackToWrongErrorReport(t *testing.T) {
	emcy := newTestEMCY(t, "localhost:18905", 0x11)
	emcy.ErrorReport(EmergencyErrorStatusBits, ErrGeneric, 0)
	require.True(t, emcy.IsError(EmWrongErrorReport))
}

func TestHandleIgnoresSyncFrames(t *testing.T) {
	emcy := newTestEMCY(t, "localhost:18906", 0x12)
	var calls int
	emcy.SetCallback(func(ident uint16, errorCode uint16, errorRegister byte, errorBit byte, infoCode uint32) {
		calls++
	})

	// Sync messages (id 0x80) are never emergency frames, regardless of payload.
	emcy.Handle(canopen.NewFrame(0x80, 0, 8))
	require.Zero(t, calls)

	frame := canopen.NewFrame(ServiceId+0x12, 0, 8)
	frame.Data[0] = byte(ErrHeartbeat)
	frame.Data[1] = byte(ErrHeartbeat >> 8)
	frame.Data[2] = ErrRegCommunication
	frame.Data[3] = EmHeartbeatConsumer
	emcy.Handle(frame)
	require.Equal(t, 1, calls)
}

func TestErrorHistoryFifoOverflow(t *testing.T) {
	emcy := newTestEMCY(t, "localhost:18907", 0x13)
	// The inherited dictionary's pre-defined error field holds 5 entries
	// (sub0 count + 4 history slots); queuing more distinct errors than
	// that without draining must set the overflow bit rather than silently
	// dropping the newest one.
	require.Len(t, emcy.fifo, 5)

	// The fifo keeps one slot free, so it queues at most 4 errors; the
	// 5th and 6th Error calls, made before any Process call drains it,
	// overflow the buffer.
	for bit := byte(0); bit < 6; bit++ {
		emcy.Error(true, bit, ErrGeneric, uint32(bit))
	}

	var timerNext uint32 = 1_000_000
	emcy.Process(true, 10, &timerNext)
	require.True(t, emcy.IsError(EmEmergencyBufferFull))
}

func TestProducerEnabledReflectsCobId(t *testing.T) {
	emcy := newTestEMCY(t, "localhost:18908", 0x14)
	require.True(t, emcy.ProducerEnabled())
}

func TestGetErrorRegisterWithoutPointerIsZero(t *testing.T) {
	emcy := newTestEMCY(t, "localhost:18909", 0x15)
	require.Zero(t, emcy.GetErrorRegister())
}

func TestIsErrorOnNilReceiverDefaultsTrue(t *testing.T) {
	var emcy *EMCY
	require.True(t, emcy.IsError(EmNoError))
}

// Wait must unblock as soon as a remote emergency frame is handled, and
// return the decoded event.
func TestEMCYWaitUnblocksOnReception(t *testing.T) {
	emcy := newTestEMCYNoBus(t, 0x16)

	done := make(chan EmergencyEvent, 1)
	go func() {
		event, err := emcy.Wait(time.Second)
		assert.NoError(t, err)
		done <- event
	}()

	time.Sleep(10 * time.Millisecond)
	frame := canopen.NewFrame(ServiceId+0x20, 0, 8)
	frame.Data[0] = byte(ErrHeartbeat)
	frame.Data[1] = byte(ErrHeartbeat >> 8)
	frame.Data[2] = ErrRegCommunication
	frame.Data[3] = EmHeartbeatConsumer
	emcy.Handle(frame)

	select {
	case event := <-done:
		assert.Equal(t, uint16(ServiceId+0x20), event.Ident)
		assert.Equal(t, uint16(ErrHeartbeat), event.ErrorCode)
		assert.Equal(t, byte(ErrRegCommunication), event.ErrorRegister)
		assert.Equal(t, byte(EmHeartbeatConsumer), event.ErrorBit)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after an emergency frame was handled")
	}
}

// Once an emergency has been observed, Wait returns it immediately without
// blocking on subsequent calls.
func TestEMCYWaitReturnsCachedEventWithoutBlocking(t *testing.T) {
	emcy := newTestEMCYNoBus(t, 0x17)

	frame := canopen.NewFrame(ServiceId+0x21, 0, 8)
	frame.Data[0] = byte(ErrGeneric)
	frame.Data[1] = byte(ErrGeneric >> 8)
	frame.Data[2] = ErrRegGeneric
	frame.Data[3] = EmWrongErrorReport
	emcy.Handle(frame)

	event, err := emcy.Wait(time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, uint16(ErrGeneric), event.ErrorCode)
}

// With no emergency ever observed, Wait fails with ErrTimeout once the
// deadline passes.
func TestEMCYWaitTimeout(t *testing.T) {
	emcy := newTestEMCYNoBus(t, 0x18)

	_, err := emcy.Wait(20 * time.Millisecond)
	assert.Equal(t, canopen.ErrTimeout, err)
}
