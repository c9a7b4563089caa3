package pdo

import (
	"testing"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/emergency"
	"github.com/vireo-systems/canopen/pkg/nmt"
	"github.com/vireo-systems/canopen/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRPDO(t *testing.T) *RPDO {
	t.Helper()
	bm := canopen.NewBusManager(nil)
	dict := od.Default()
	emcy := emergency.NewEMCYForLogging(nil)
	rpdo, err := NewRPDO(bm, nil, dict, emcy, nil, dict.Index(0x1400), dict.Index(0x1600), 0)
	require.NoError(t, err)
	rpdo.OnStateChange(nmt.StateOperational)
	return rpdo
}

// WaitForReception must unblock as soon as a frame for this RPDO's COB-ID
// is handled, and return the reception time.
func TestRPDOWaitForReception(t *testing.T) {
	rpdo := newTestRPDO(t)

	done := make(chan time.Time, 1)
	go func() {
		ts, err := rpdo.WaitForReception(time.Second)
		assert.NoError(t, err)
		done <- ts
	}()

	time.Sleep(10 * time.Millisecond)
	before := time.Now()
	rpdo.Handle(canopen.NewFrame(uint32(rpdo.pdo.configuredId), 0, 0))

	select {
	case ts := <-done:
		assert.False(t, ts.Before(before))
	case <-time.After(time.Second):
		t.Fatal("WaitForReception did not return after a frame was handled")
	}
}

// With no frame handled, WaitForReception must fail with ErrTimeout once
// the deadline passes.
func TestRPDOWaitForReceptionTimeout(t *testing.T) {
	rpdo := newTestRPDO(t)

	_, err := rpdo.WaitForReception(20 * time.Millisecond)
	assert.Equal(t, canopen.ErrTimeout, err)
}
