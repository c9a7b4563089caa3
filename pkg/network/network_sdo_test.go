package network

import (
	"math"
	"testing"

	"github.com/vireo-systems/canopen/pkg/od"
	"github.com/stretchr/testify/assert"
)

var networkUnsignedReadMap = map[string]uint64{
	"UNSIGNED8 value":  uint64(0x10),
	"UNSIGNED16 value": uint64(0x1111),
	"UNSIGNED32 value": uint64(0x22222222),
	"UNSIGNED64 value": uint64(0x55555555),
}

var networkIntegerReadMap = map[string]int64{
	"INTEGER8 value":  int64(0x33),
	"INTEGER16 value": int64(0x4444),
	"INTEGER32 value": int64(0x55555555),
	"INTEGER64 value": int64(0x55555555),
}

var networkFloatReadMap = map[string]float64{
	"REAL32 value": float64(math.Float32frombits(uint32(0x55555555))),
	"REAL64 value": math.Float64frombits(0x55555555),
}

func TestRead(t *testing.T) {
	network := CreateNetworkTest()
	defer network.Disconnect()
	for indexName, key := range networkUnsignedReadMap {
		val, _ := network.Read(NodeIdTest, indexName, "")
		assert.Equal(t, key, val)
	}
	for indexName, key := range networkIntegerReadMap {
		val, _ := network.Read(NodeIdTest, indexName, "")
		assert.Equal(t, key, val)
	}
	for indexName, key := range networkFloatReadMap {
		val, _ := network.Read(NodeIdTest, indexName, "")
		assert.Equal(t, key, val)
	}
}

func TestReadUint(t *testing.T) {
	network := CreateNetworkTest()
	defer network.Disconnect()
	for indexName, key := range networkUnsignedReadMap {
		val, _ := network.ReadUint(NodeIdTest, indexName, "")
		assert.Equal(t, key, val)
	}
	_, err := network.ReadUint(NodeIdTest, "INTEGER8 value", "")
	assert.Equal(t, od.ErrTypeMismatch, err)
}

func TestReadInt(t *testing.T) {
	network := CreateNetworkTest()
	defer network.Disconnect()
	for indexName, key := range networkIntegerReadMap {
		val, _ := network.ReadInt(NodeIdTest, indexName, "")
		assert.Equal(t, key, val)
	}
	_, err := network.ReadInt(NodeIdTest, "UNSIGNED8 value", "")
	assert.Equal(t, od.ErrTypeMismatch, err)
}

func TestReadFloat(t *testing.T) {
	network := CreateNetworkTest()
	defer network.Disconnect()
	for indexName, key := range networkFloatReadMap {
		val, _ := network.ReadFloat(NodeIdTest, indexName, "")
		assert.InDelta(t, key, val, 0.01)
	}
	_, err := network.ReadFloat(NodeIdTest, "UNSIGNED8 value", "")
	assert.Equal(t, od.ErrTypeMismatch, err)
}

func TestReadString(t *testing.T) {
	network := CreateNetworkTest()
	defer network.Disconnect()
	val, err := network.ReadString(NodeIdTest, "VISIBLE STRING value", "")
	assert.Equal(t, "AStringCannotBeLongerThanTheDefaultValue", val)
	assert.Equal(t, nil, err, err)
}

func TestWrite(t *testing.T) {
	network := CreateNetworkTest()
	defer network.Disconnect()
	err := network.Write(NodeIdTest, "REAL32 value", "", float32(1500.1))
	assert.Nil(t, err)
	val, _ := network.ReadFloat(NodeIdTest, "REAL32 value", "")
	assert.InDelta(t, 1500.1, val, 0.01)
}
