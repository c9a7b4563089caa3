package heartbeat

import (
	"sync"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/emergency"
	"github.com/vireo-systems/canopen/pkg/nmt"
)

// Node specific hearbeat consumer part
type hbConsumerEntry struct {
	mu            sync.Mutex
	nodeId        uint8
	cobId         uint16
	nmtState      uint8
	nmtStatePrev  uint8
	hbState       uint8
	timeoutPeriod time.Duration
	timer         *time.Timer
	rxCancel      func()
	parent        *HBConsumer
	odIndex       int
	// wake is closed and replaced every time a heartbeat is received from
	// this node, broadcasting to any goroutine blocked in WaitForHeartbeat.
	wake          chan struct{}
	lastHeartbeat time.Time
}

// wake broadcasts reception to every goroutine parked in WaitForHeartbeat.
// Caller must hold entry.mu.
func (entry *hbConsumerEntry) wakeWaiters() {
	if entry.wake != nil {
		close(entry.wake)
		entry.wake = nil
	}
}

// Handle [HBConsumer] related RX CAN frames
func (entry *hbConsumerEntry) Handle(frame canopen.Frame) {
	entry.mu.Lock()

	if frame.DLC != 1 {
		entry.mu.Unlock()
		return
	}

	consumer := entry.parent
	entry.nmtState = frame.Data[0]
	entry.lastHeartbeat = time.Now()
	entry.wakeWaiters()
	event := EventNone

	if entry.nmtState == nmt.StateInitializing {
		// Boot up message is an error if previously received (means reboot)
		if entry.hbState == HeartbeatActive {
			consumer.emcy.ErrorReport(emergency.EmHBConsumerRemoteReset, emergency.ErrHeartbeat, uint32(entry.odIndex))
		}
		// Signal reboot
		event = EventBoot
		entry.hbState = HeartbeatUnknown
	} else {
		// Signal Boot-up
		if entry.hbState != HeartbeatActive {
			event = EventStarted
		}
		// Heartbeat message
		entry.hbState = HeartbeatActive
	}

	// Reset timer
	entry.mu.Unlock()
	entry.restartTimeoutTimer()
	entry.mu.Lock()

	// Execute callbacks
	if event != EventNone && consumer.eventCallback != nil {
		consumer.eventCallback(
			event,
			uint8(entry.odIndex+1),
			entry.nodeId,
			nmt.StateInitializing,
		)
	}

	nmtChanged := entry.nmtState != entry.nmtStatePrev

	if nmtChanged && consumer.eventCallback != nil {
		consumer.eventCallback(
			EventChanged,
			uint8(entry.odIndex+1),
			entry.nodeId,
			entry.nmtState,
		)
	}
	entry.nmtStatePrev = entry.nmtState
	entry.mu.Unlock()

	consumer.checkAllMonitored()
}

func (entry *hbConsumerEntry) restartTimeoutTimer() {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.timeoutPeriod == 0 {
		return
	}
	if entry.timer == nil {
		entry.timer = time.AfterFunc(entry.timeoutPeriod, entry.timeoutHandler)
	} else {
		entry.timer.Reset(entry.timeoutPeriod)
	}
}

func (entry *hbConsumerEntry) timeoutHandler() {
	entry.mu.Lock()
	parent := entry.parent

	var eventType uint8

	// Check timeout
	if entry.hbState == HeartbeatActive {
		// Timeout is expired
		parent.emcy.ErrorReport(emergency.EmHeartbeatConsumer, emergency.ErrHeartbeat, uint32(entry.odIndex))
		entry.nmtState = nmt.StateUnknown
		entry.hbState = HeartbeatTimeout
		eventType = EventTimeout
	}
	entry.mu.Unlock()

	if eventType != 0 && parent.eventCallback != nil {
		parent.eventCallback(
			EventTimeout,
			uint8(entry.odIndex+1),
			entry.nodeId,
			nmt.StateUnknown,
		)
	}
	parent.checkAllMonitored()
}

// waitForHeartbeat blocks until the next heartbeat from this entry's node
// arrives, or returns [canopen.ErrTimeout] if none arrives within timeout.
// On success it returns the observed NMT state byte.
func (entry *hbConsumerEntry) waitForHeartbeat(timeout time.Duration) (uint8, error) {
	entry.mu.Lock()
	if entry.wake == nil {
		entry.wake = make(chan struct{})
	}
	ch := entry.wake
	entry.mu.Unlock()

	select {
	case <-ch:
		entry.mu.Lock()
		state := entry.nmtState
		entry.mu.Unlock()
		return state, nil
	case <-time.After(timeout):
		return 0, canopen.ErrTimeout
	}
}

// Update a heartbeat consumer entry to monitor a new node id & with expected period
func (entry *hbConsumerEntry) update(nodeId uint8, period time.Duration) {
	entry.nodeId = nodeId
	entry.timeoutPeriod = period
	entry.nmtState = nmt.StateUnknown
	entry.nmtStatePrev = nmt.StateUnknown

	if entry.nodeId != 0 && entry.timeoutPeriod != 0 {
		entry.cobId = uint16(entry.nodeId) + ServiceId
		entry.hbState = HeartbeatUnknown
	} else {
		entry.cobId = 0
		entry.timeoutPeriod = 0
		entry.hbState = HeartbeatUnconfigured
	}
}
