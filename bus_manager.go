package canopen

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// Max Standard CAN ID is 0x7FF (2047).
	MaxCanId = 0x7FF

	// The array must hold standard frames + RTR frames (so 2x size).
	LookupArraySize = (MaxCanId + 1) * 2
)

type subscriber struct {
	id       uint64
	callback FrameListener
}

// Scanner observes frames the dispatcher could not match to any
// subscriber. Implementations must not block.
type Scanner interface {
	Observe(frame Frame)
}

// BusManager is the single ingress/egress point for CAN frames. It fans
// out inbound frames to subscribers by COB-ID and serializes outbound
// sends through the underlying [Bus].
type BusManager struct {
	logger *slog.Logger
	mu     sync.Mutex
	bus    Bus
	// CAN id indexed subscribers, standard ids in [0,MaxCanId], RTR
	// variants offset by MaxCanId+1.
	listeners [LookupArraySize][]subscriber
	nextSubId uint64
	canError  uint16
	scanner   Scanner
	periodic  map[uint64]*periodicTask
	nextPerId uint64
}

type periodicTask struct {
	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
	frame  Frame
	bm     *BusManager
}

// Implements [FrameListener]. Dispatch runs on the receive thread and
// must never block: callbacks enqueue to waiter structures or fire user
// callbacks, they do not themselves wait on anything.
func (bm *BusManager) Handle(frame Frame) {
	canId := frame.ID & CanSffMask
	if canId > MaxCanId {
		return
	}

	idx := canId
	if frame.ID&CanRtrFlag != 0 {
		idx += MaxCanId + 1
	}

	bm.mu.Lock()
	listeners := bm.listeners[idx]
	scanner := bm.scanner
	bm.mu.Unlock()

	if len(listeners) == 0 {
		if scanner != nil {
			scanner.Observe(frame)
		}
		return
	}

	for _, sub := range listeners {
		sub.callback.Handle(frame)
	}
}

// Notify injects a frame as if it had been received from the transport.
// Exposed for tests that need to drive the dispatcher without a real bus.
func (bm *BusManager) Notify(frame Frame) {
	bm.Handle(frame)
}

// SetScanner installs the passive-discovery scanner that observes frames
// with no matching subscriber.
func (bm *BusManager) SetScanner(scanner Scanner) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.scanner = scanner
}

func (bm *BusManager) SetBus(bus Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Send a CAN message. Transport errors are surfaced to the caller and
// never deregister subscribers.
func (bm *BusManager) Send(frame Frame) error {
	err := bm.Bus().Send(frame)
	if err != nil {
		bm.logger.Warn("error sending frame", "id", frame.ID, "err", err)
	}
	return err
}

// Process should be called cyclically to refresh the cached bus error
// state. The [Bus] interface exposes no error bits, so Process always
// resets the cached bitmask to zero.
func (bm *BusManager) Process() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.canError = 0
	return nil
}

// Subscribe registers callback for frames matching ident. Returns a
// cancel func that removes the subscription; cancel is idempotent.
func (bm *BusManager) Subscribe(ident uint32, mask uint32, rtr bool, callback FrameListener) (cancel func(), err error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if int(ident) > MaxCanId {
		return nil, errors.New("bus manager only supports standard 11-bit ids")
	}

	idx := ident
	if rtr {
		idx += MaxCanId + 1
	}

	bm.nextSubId++
	subId := bm.nextSubId
	bm.listeners[idx] = append(bm.listeners[idx], subscriber{
		id:       subId,
		callback: callback,
	})

	cancel = func() {
		bm.mu.Lock()
		defer bm.mu.Unlock()
		subs := bm.listeners[idx]
		for i, sub := range subs {
			if sub.id == subId {
				bm.listeners[idx] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}

	return cancel, nil
}

// Unsubscribe removes the first subscription matching ident/rtr whose
// callback is callback. Most callers should prefer the cancel func
// returned by Subscribe; this exists for callers that only kept the
// identifier.
func (bm *BusManager) Unsubscribe(ident uint32, rtr bool, callback FrameListener) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	idx := ident & CanSffMask
	if rtr {
		idx += MaxCanId + 1
	}
	subs := bm.listeners[idx]
	for i, sub := range subs {
		if sub.callback == callback {
			bm.listeners[idx] = append(subs[:i], subs[i+1:]...)
			return nil
		}
	}
	return errors.New("no matching subscription found")
}

// AddPeriodic registers a frame to be sent every period until Stop is
// called on the returned handle. Stopping is synchronous: it guarantees
// no further sends occur after it returns.
func (bm *BusManager) AddPeriodic(frame Frame, period time.Duration) *PeriodicHandle {
	bm.mu.Lock()
	bm.nextPerId++
	id := bm.nextPerId
	bm.mu.Unlock()

	task := &periodicTask{
		ticker: time.NewTicker(period),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		frame:  frame,
		bm:     bm,
	}
	bm.mu.Lock()
	if bm.periodic == nil {
		bm.periodic = map[uint64]*periodicTask{}
	}
	bm.periodic[id] = task
	bm.mu.Unlock()

	go task.run()
	return &PeriodicHandle{bm: bm, id: id, task: task}
}

func (t *periodicTask) run() {
	defer close(t.done)
	for {
		select {
		case <-t.ticker.C:
			t.mu.Lock()
			frame := t.frame
			t.mu.Unlock()
			_ = t.bm.Send(frame)
		case <-t.stop:
			t.ticker.Stop()
			return
		}
	}
}

// Update replaces the frame payload sent on each tick.
func (t *periodicTask) Update(frame Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frame = frame
}

// PeriodicHandle controls a periodic transmit task registered via
// [BusManager.AddPeriodic].
type PeriodicHandle struct {
	bm   *BusManager
	id   uint64
	task *periodicTask
}

// Update replaces the frame payload sent on each tick.
func (h *PeriodicHandle) Update(frame Frame) {
	h.task.Update(frame)
}

// Stop cancels the periodic task and blocks until the underlying
// goroutine has exited, guaranteeing no further sends will occur.
func (h *PeriodicHandle) Stop() {
	close(h.task.stop)
	<-h.task.done
	h.bm.mu.Lock()
	delete(h.bm.periodic, h.id)
	h.bm.mu.Unlock()
}

// Error returns the last observed bus error bitmask.
func (bm *BusManager) Error() uint16 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.canError
}

func NewBusManager(bus Bus) *BusManager {
	return &BusManager{
		bus:      bus,
		logger:   slog.Default(),
		periodic: map[uint64]*periodicTask{},
	}
}
