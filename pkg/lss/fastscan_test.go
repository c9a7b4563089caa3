package lss

import (
	"context"
	"testing"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/can/virtual"
	"github.com/vireo-systems/canopen/pkg/od"
	"github.com/stretchr/testify/require"
)

// CAN server should be running for this to work.
func newFastscanBus(t *testing.T, channel string) *canopen.BusManager {
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

func identityEntry(t *testing.T, dict *od.ObjectDictionary, vendor, product, revision, serial uint32) *od.Entry {
	t.Helper()
	entry := dict.Index(0x1018)
	require.NotNil(t, entry)
	require.NoError(t, entry.PutUint32(1, vendor, false))
	require.NoError(t, entry.PutUint32(2, product, false))
	require.NoError(t, entry.PutUint32(3, revision, false))
	require.NoError(t, entry.PutUint32(4, serial, false))
	return entry
}

func TestFastscanFindsUnconfiguredSlave(t *testing.T) {
	masterBus := newFastscanBus(t, "localhost:18902")
	slaveBus := newFastscanBus(t, "localhost:18902")

	master, err := NewLSSMaster(masterBus, nil, DefaultTimeout)
	require.NoError(t, err)

	dict := od.Default()
	identity := identityEntry(t, dict, 0x11, 0x22, 0x33, 0x44)
	slave, err := NewLSSSlave(slaveBus, nil, identity, 0x10)
	require.NoError(t, err)
	require.Equal(t, StateWaiting, slave.GetState())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go slave.Process(ctx)
	time.Sleep(50 * time.Millisecond)

	address, err := master.Fastscan()
	require.NoError(t, err)
	require.EqualValues(t, 0x11, address.VendorId)
	require.EqualValues(t, 0x22, address.ProductCode)
	require.EqualValues(t, 0x33, address.RevisionNumber)
	require.EqualValues(t, 0x44, address.SerialNumber)
	require.Equal(t, StateConfiguration, slave.GetState())
}

func TestFastscanTimesOutWithNoSlave(t *testing.T) {
	masterBus := newFastscanBus(t, "localhost:18903")
	master, err := NewLSSMaster(masterBus, nil, DefaultTimeout)
	require.NoError(t, err)

	_, err = master.Fastscan()
	require.ErrorIs(t, err, ErrTimeout)
}
