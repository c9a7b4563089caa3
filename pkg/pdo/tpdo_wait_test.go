package pdo

import (
	"testing"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/emergency"
	"github.com/vireo-systems/canopen/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopBus satisfies [canopen.Bus] without needing a live transport, for
// tests that only care about a TPDO's internal state after a send.
type noopBus struct{}

func (noopBus) Connect(...any) error                  { return nil }
func (noopBus) Disconnect() error                     { return nil }
func (noopBus) Send(canopen.Frame) error              { return nil }
func (noopBus) Subscribe(canopen.FrameListener) error { return nil }

func newTestTPDO(t *testing.T) *TPDO {
	t.Helper()
	bm := canopen.NewBusManager(noopBus{})
	dict := od.Default()
	emcy := emergency.NewEMCYForLogging(nil)
	tpdo, err := NewTPDO(bm, nil, dict, emcy, nil, dict.Index(0x1800), dict.Index(0x1A00), 0)
	require.NoError(t, err)
	return tpdo
}

// WaitForReception must unblock as soon as this TPDO is transmitted, and
// return the transmission time.
func TestTPDOWaitForReception(t *testing.T) {
	tpdo := newTestTPDO(t)

	done := make(chan time.Time, 1)
	go func() {
		ts, err := tpdo.WaitForReception(time.Second)
		assert.NoError(t, err)
		done <- ts
	}()

	time.Sleep(10 * time.Millisecond)
	before := time.Now()
	require.NoError(t, tpdo.send())

	select {
	case ts := <-done:
		assert.False(t, ts.Before(before))
	case <-time.After(time.Second):
		t.Fatal("WaitForReception did not return after a send")
	}
}

// With no transmission, WaitForReception must fail with ErrTimeout once
// the deadline passes.
func TestTPDOWaitForReceptionTimeout(t *testing.T) {
	tpdo := newTestTPDO(t)

	_, err := tpdo.WaitForReception(20 * time.Millisecond)
	assert.Equal(t, canopen.ErrTimeout, err)
}
