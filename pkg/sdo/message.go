package sdo

import (
	"bytes"
	"encoding/binary"

	"github.com/vireo-systems/canopen/internal/crc"
)

// sdoBuffer is a bytes.Buffer with room-remaining visibility, used to size
// segmented/block transfer writes against a fixed backing capacity.
type sdoBuffer struct {
	*bytes.Buffer
}

func newSDOBuffer(capacity int) *sdoBuffer {
	return &sdoBuffer{bytes.NewBuffer(make([]byte, 0, capacity))}
}

func (b *sdoBuffer) Available() int {
	return b.Cap() - b.Len()
}

// SDOMessage wraps a raw incoming SDO CAN frame and exposes the command
// byte fields used to route it through the server state machine.
type SDOMessage struct {
	raw [8]byte
}

// IsExpedited reports the "e" bit of a download initiate request.
func (m *SDOMessage) IsExpedited() bool {
	return (m.raw[0] & 0x02) != 0
}

// IsSizeIndicated reports the "s" bit of a download/upload initiate request.
func (m *SDOMessage) IsSizeIndicated() bool {
	return (m.raw[0] & 0x01) != 0
}

// IsSizeIndicatedBlock reports the size-indicated bit of a block download
// initiate request, which sits at the same position "e" occupies for
// regular transfers.
func (m *SDOMessage) IsSizeIndicatedBlock() bool {
	return (m.raw[0] & 0x02) != 0
}

// SegmentRemaining reports whether more segments follow in the current
// sub-block, i.e. the "c" (last segment) bit is not set.
func (m *SDOMessage) SegmentRemaining() bool {
	return (m.raw[0] & 0x80) == 0
}

// Seqno returns the block transfer sequence number of this segment.
func (m *SDOMessage) Seqno() uint8 {
	return m.raw[0] & 0x7F
}

// SizeIndicated returns the announced transfer size, valid when
// IsSizeIndicated/IsSizeIndicatedBlock is set.
func (m *SDOMessage) SizeIndicated() uint32 {
	return binary.LittleEndian.Uint32(m.raw[4:])
}

// GetToggle returns the toggle bit of a segmented transfer request.
func (m *SDOMessage) GetToggle() uint8 {
	return m.raw[0] & 0x10
}

// GetBlockSize returns the requested block size.
func (m *SDOMessage) GetBlockSize() uint8 {
	return m.raw[4]
}

// GetCRCClient returns the CRC sent by the client at the end of a block
// transfer.
func (m *SDOMessage) GetCRCClient() crc.CRC16 {
	return crc.CRC16(binary.LittleEndian.Uint16(m.raw[1:3]))
}

// IsCRCEnabled reports whether the client requested CRC checking for a
// block transfer.
func (m *SDOMessage) IsCRCEnabled() bool {
	return (m.raw[0] & 0x04) != 0
}

// GetIndex returns the OD index being accessed.
func (m *SDOMessage) GetIndex() uint16 {
	return binary.LittleEndian.Uint16(m.raw[1:3])
}

// GetSubindex returns the OD subindex being accessed.
func (m *SDOMessage) GetSubindex() uint8 {
	return m.raw[3]
}
