package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test raw <-> phys linear scaling (phys = raw*factor + offset).
func TestEntryPhys(t *testing.T) {
	od := Default()
	entry := od.Index(0x2005)
	assert.NotNil(t, entry)

	phys, err := entry.Phys(0)
	assert.Nil(t, err)
	assert.InDelta(t, 10.0, phys, 1e-9)

	err = entry.PutPhys(0, 21.5, false)
	assert.Nil(t, err)

	raw, err := entry.Int16(0)
	assert.Nil(t, err)
	assert.EqualValues(t, 615, raw) // round((21.5-(-40))/0.1)

	phys, err = entry.Phys(0)
	assert.Nil(t, err)
	assert.InDelta(t, 21.5, phys, 1e-9)
}

// A variable with no Factor/Offset declared in its EDS section is
// unscaled: phys equals raw.
func TestEntryPhysDefaultsToUnscaled(t *testing.T) {
	od := Default()
	entry := od.Index(0x2003)
	assert.NotNil(t, entry)

	phys, err := entry.Phys(0)
	assert.Nil(t, err)
	assert.InDelta(t, float64(0x4444), phys, 1e-9)
}

// Test raw <-> desc round trip through a variable's value-description table.
func TestEntryDesc(t *testing.T) {
	od := Default()
	entry := od.Index(0x2004)
	assert.NotNil(t, entry)

	desc, err := entry.Desc(0)
	assert.Nil(t, err)
	assert.Equal(t, "Idle", desc)

	err = entry.PutDesc(0, "Running", false)
	assert.Nil(t, err)

	raw, err := entry.Uint8(0)
	assert.Nil(t, err)
	assert.EqualValues(t, 1, raw)

	desc, err = entry.Desc(0)
	assert.Nil(t, err)
	assert.Equal(t, "Running", desc)

	err = entry.PutDesc(0, "Unknown", false)
	assert.Equal(t, ErrNoData, err)
}

func TestEntryDescNoMatchingValue(t *testing.T) {
	od := Default()
	entry := od.Index(0x2004)
	assert.NotNil(t, entry)

	err := entry.PutUint8(0, 99, false)
	assert.Nil(t, err)

	_, err = entry.Desc(0)
	assert.Equal(t, ErrNoData, err)
}

// Test arbitrary bitfield slicing of a raw integer value.
func TestEntryBits(t *testing.T) {
	od := Default()
	entry := od.Index(0x2003)
	assert.NotNil(t, entry)

	err := entry.PutUint16(0, 0b1011_0000_1111_0000, false)
	assert.Nil(t, err)

	low, err := entry.Bits(0, 0, 3)
	assert.Nil(t, err)
	assert.EqualValues(t, 0, low)

	mid, err := entry.Bits(0, 4, 7)
	assert.Nil(t, err)
	assert.EqualValues(t, 0b1111, mid)

	high, err := entry.Bits(0, 12, 15)
	assert.Nil(t, err)
	assert.EqualValues(t, 0b1011, high)

	err = entry.PutBits(0, 4, 7, 0b0101, false)
	assert.Nil(t, err)

	raw, err := entry.Uint16(0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0b1011_0000_0101_0000, raw)

	// Untouched bits outside [4:7] survive the read-modify-write.
	high, err = entry.Bits(0, 12, 15)
	assert.Nil(t, err)
	assert.EqualValues(t, 0b1011, high)
}

func TestEntryBitsRejectsInvertedRange(t *testing.T) {
	od := Default()
	entry := od.Index(0x2003)
	assert.NotNil(t, entry)

	_, err := entry.Bits(0, 5, 2)
	assert.Equal(t, ErrDevIncompat, err)
}
