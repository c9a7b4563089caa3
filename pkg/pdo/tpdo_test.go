package pdo

import (
	"testing"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/can/virtual"
	"github.com/vireo-systems/canopen/pkg/emergency"
	"github.com/vireo-systems/canopen/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func BenchmarkXxx(b *testing.B) {
	b.StopTimer()
	bus, err := virtual.NewVirtualCanBus("localhost:18888")
	require.NoError(b, err)
	require.NoError(b, bus.Connect())
	bm := canopen.NewBusManager(bus)
	dict := od.Default()
	emcy := emergency.NewEMCYForLogging(nil)
	tpdo, err := NewTPDO(bm, nil, dict, emcy, nil, dict.Index(0x1801), dict.Index(0x1A01), 0)
	require.NoError(b, err)
	b.StartTimer()
	for n := 0; n < b.N; n++ {
		err := tpdo.send()
		assert.NoError(b, err)
	}
}

// packBits/unpackBits must round-trip non-byte-aligned, LSB-first mappings :
// three sub-byte fields (1, 3 and 4 bits) packed contiguously into a single
// byte must recover their original values exactly.
func TestPackUnpackBitsRoundTrip(t *testing.T) {
	frame := make([]byte, 1)

	packBits(frame, 0, 1, []byte{1})    // bit 0
	packBits(frame, 1, 3, []byte{0x05}) // bits 1-3 : 0b101
	packBits(frame, 4, 4, []byte{0x09}) // bits 4-7 : 0b1001

	require.Equal(t, byte(1|(0x05<<1)|(0x09<<4)), frame[0])

	got := make([]byte, 1)
	unpackBits(got, frame, 0, 1)
	assert.Equal(t, byte(1), got[0])

	unpackBits(got, frame, 1, 3)
	assert.Equal(t, byte(0x05), got[0])

	unpackBits(got, frame, 4, 4)
	assert.Equal(t, byte(0x09), got[0])
}
