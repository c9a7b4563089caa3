package network

import (
	"io"
	"sync"
	"testing"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/sdo"
	"github.com/stretchr/testify/assert"
)

// frameCounter counts frames dispatched to it, used to tell an expedited
// download (one client->server frame) apart from a segmented one (an
// initiate frame followed by at least one segment frame).
type frameCounter struct {
	mu    sync.Mutex
	count int
}

func (f *frameCounter) Handle(frame canopen.Frame) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
}

func (f *frameCounter) reset() {
	f.mu.Lock()
	f.count = 0
	f.mu.Unlock()
}

func (f *frameCounter) value() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func TestReaderWriter(t *testing.T) {
	network := CreateNetworkTest()
	network2 := CreateNetworkEmptyTest()
	defer network2.Disconnect()
	defer network.Disconnect()
	node, err := network2.AddRemoteNode(NodeIdTest, nil)
	assert.Nil(t, err)
	client := node.SDOClient
	rw, err := client.NewRawReader(NodeIdTest, 0x2001, 0, false, 0)
	assert.Nil(t, err)
	buffer := make([]byte, 10)
	n, err := rw.Read(buffer)
	assert.Equal(t, io.EOF, err)
	assert.EqualValues(t, 1, n)
	// Attempt to re-read should result in EOF
	n, err = rw.Read(buffer)
	assert.EqualValues(t, 0, n)
	assert.Equal(t, io.EOF, err)
	buffer = make([]byte, 4)
	rw, err = client.NewRawReader(NodeIdTest, 0x2003, 0, false, 0)
	assert.Nil(t, err)
	// Attempt to read 4 bytes, but only 2 in reality
	n, err = io.ReadFull(rw, buffer)
	assert.EqualValues(t, io.ErrUnexpectedEOF, err)
	assert.Equal(t, 2, n)
	// Attempt to write corrrect length (1 byte)
	time.Sleep(1 * time.Second)
	w, err := client.NewRawWriter(NodeIdTest, 0x2001, 0, false, 1, false)
	assert.Nil(t, err)
	n, err = w.Write([]byte{0})
	assert.Nil(t, err)
	assert.Equal(t, 1, n)
	// Attempt to write in two times
	w, err = client.NewRawWriter(NodeIdTest, 0x2003, 0, true, 2, false)
	assert.Nil(t, err)
	n, err = w.Write([]byte{0, 1})
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
}

// A 2 byte payload on a manufacturer-specific UNSIGNED16 entry fits in a
// single expedited frame. forceSegmented must push it through the
// segmented path instead, which takes an initiate frame plus at least one
// segment frame.
func TestWriteRawForceSegmented(t *testing.T) {
	network := CreateNetworkTest()
	network2 := CreateNetworkEmptyTest()
	defer network2.Disconnect()
	defer network.Disconnect()
	node, err := network2.AddRemoteNode(NodeIdTest, nil)
	assert.Nil(t, err)
	client := node.SDOClient

	counter := &frameCounter{}
	cancel, err := client.Subscribe(uint32(sdo.ClientServiceId)+uint32(NodeIdTest), 0x7FF, false, counter)
	assert.Nil(t, err)
	defer cancel()

	err = client.WriteRaw(NodeIdTest, 0x2003, 0, uint16(0x1234), false)
	assert.Nil(t, err)
	assert.Equal(t, 1, counter.value())

	counter.reset()

	err = client.WriteRaw(NodeIdTest, 0x2003, 0, uint16(0x5678), true)
	assert.Nil(t, err)
	assert.GreaterOrEqual(t, counter.value(), 2)
}
