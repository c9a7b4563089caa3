package network

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/emergency"
)

// emcyConsumerEntry tracks one remote node's emergency state: the set of
// error codes currently active and the full, unbounded history of
// emergencies observed from that node.
type emcyConsumerEntry struct {
	mu       sync.Mutex
	nodeId   uint8
	cobId    uint32
	rxCancel func()
	active   []uint16
	log      []emergency.EmergencyEvent
	// wake is closed and replaced every time an emergency is observed from
	// this node, broadcasting to any goroutine blocked in Wait.
	wake chan struct{}
}

func (entry *emcyConsumerEntry) wakeWaiters() {
	if entry.wake != nil {
		close(entry.wake)
		entry.wake = nil
	}
}

// Handle decodes one EMCY frame from the monitored node. Error code 0x0000
// clears the active list (error reset); any other code is appended to both
// the active and the log list.
func (entry *emcyConsumerEntry) Handle(frame canopen.Frame) {
	if frame.DLC != 8 {
		return
	}
	event := emergency.EmergencyEvent{
		Ident:         uint16(frame.ID),
		ErrorCode:     binary.LittleEndian.Uint16(frame.Data[0:2]),
		ErrorRegister: frame.Data[2],
		ErrorBit:      frame.Data[3],
		InfoCode:      binary.LittleEndian.Uint32(frame.Data[4:8]),
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if event.ErrorCode == 0 {
		entry.active = nil
	} else {
		entry.active = append(entry.active, event.ErrorCode)
		entry.log = append(entry.log, event)
	}
	entry.wakeWaiters()
}

func (entry *emcyConsumerEntry) wait(timeout time.Duration) (emergency.EmergencyEvent, error) {
	entry.mu.Lock()
	if entry.wake == nil {
		entry.wake = make(chan struct{})
	}
	ch := entry.wake
	entry.mu.Unlock()

	select {
	case <-ch:
		entry.mu.Lock()
		var last emergency.EmergencyEvent
		if n := len(entry.log); n > 0 {
			last = entry.log[n-1]
		}
		entry.mu.Unlock()
		return last, nil
	case <-time.After(timeout):
		return emergency.EmergencyEvent{}, canopen.ErrTimeout
	}
}

// EMCYConsumer tracks emergency frames from any number of remote nodes.
// Unlike [emergency.EMCY], which is CiA-301's producer-side object and can
// only ever report this node's own errors, EMCYConsumer subscribes to each
// monitored node's exact COB-ID (0x80+nodeId) and keeps that node's
// active/log state independently.
type EMCYConsumer struct {
	bm      *canopen.BusManager
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[uint8]*emcyConsumerEntry
}

func NewEMCYConsumer(bm *canopen.BusManager, logger *slog.Logger) *EMCYConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EMCYConsumer{
		bm:      bm,
		logger:  logger.With("service", "[EMCYConsumer]"),
		entries: make(map[uint8]*emcyConsumerEntry),
	}
}

// Monitor starts tracking emergency frames from nodeId. Calling it again for
// an already-monitored node is a no-op.
func (consumer *EMCYConsumer) Monitor(nodeId uint8) error {
	consumer.mu.Lock()
	defer consumer.mu.Unlock()

	if _, ok := consumer.entries[nodeId]; ok {
		return nil
	}
	entry := &emcyConsumerEntry{nodeId: nodeId, cobId: emergency.ServiceId + uint32(nodeId)}
	rxCancel, err := consumer.bm.Subscribe(entry.cobId, 0x7FF, false, entry)
	if err != nil {
		return err
	}
	entry.rxCancel = rxCancel
	consumer.entries[nodeId] = entry
	consumer.logger.Info("monitoring node emergencies", "nodeId", nodeId, "cobId", entry.cobId)
	return nil
}

// StopMonitoring cancels the subscription for nodeId, if any.
func (consumer *EMCYConsumer) StopMonitoring(nodeId uint8) {
	consumer.mu.Lock()
	defer consumer.mu.Unlock()

	entry, ok := consumer.entries[nodeId]
	if !ok {
		return
	}
	if entry.rxCancel != nil {
		entry.rxCancel()
	}
	entry.mu.Lock()
	entry.wakeWaiters()
	entry.mu.Unlock()
	delete(consumer.entries, nodeId)
}

// Active returns the currently active error codes reported by nodeId.
func (consumer *EMCYConsumer) Active(nodeId uint8) []uint16 {
	consumer.mu.Lock()
	entry, ok := consumer.entries[nodeId]
	consumer.mu.Unlock()
	if !ok {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return append([]uint16(nil), entry.active...)
}

// Log returns the full emergency history reported by nodeId.
func (consumer *EMCYConsumer) Log(nodeId uint8) []emergency.EmergencyEvent {
	consumer.mu.Lock()
	entry, ok := consumer.entries[nodeId]
	consumer.mu.Unlock()
	if !ok {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return append([]emergency.EmergencyEvent(nil), entry.log...)
}

// Wait blocks until the next emergency from nodeId arrives, or returns
// [canopen.ErrTimeout] if none arrives within timeout. Returns
// [canopen.ErrIllegalArgument] if nodeId is not monitored.
func (consumer *EMCYConsumer) Wait(nodeId uint8, timeout time.Duration) (emergency.EmergencyEvent, error) {
	consumer.mu.Lock()
	entry, ok := consumer.entries[nodeId]
	consumer.mu.Unlock()
	if !ok {
		return emergency.EmergencyEvent{}, canopen.ErrIllegalArgument
	}
	return entry.wait(timeout)
}
