package lss

import (
	"encoding/binary"
	"time"

	canopen "github.com/vireo-systems/canopen"
	"github.com/vireo-systems/canopen/pkg/config"
)

// FastscanProbeTimeout is the per-probe wait for a CmdFastscanResponse before
// the bit under test is assumed to be 1.
const FastscanProbeTimeout = 100 * time.Millisecond

// sendFastscanProbe transmits one fastscan frame and waits up to
// FastscanProbeTimeout for a CmdFastscanResponse. bitCheck is the count of
// low-order bits of idNumber that are NOT compared by the responding slave
// (0 means every bit of idNumber is compared); 0x80 is used as the "confirm
// whole field" sentinel once all 32 bits have been determined.
func (l *LSSMaster) sendFastscanProbe(idNumber uint32, bitCheck uint8, sub, next fastscanField) bool {
	frame := canopen.NewFrame(ServiceMasterId, 0, 8)
	frame.Data[0] = byte(CmdFastscan)
	binary.LittleEndian.PutUint32(frame.Data[1:5], idNumber)
	frame.Data[5] = bitCheck
	frame.Data[6] = byte(sub)
	frame.Data[7] = byte(next)

	prevTimeout := l.timeout
	l.SetTimeout(FastscanProbeTimeout)
	defer l.SetTimeout(prevTimeout)

	if err := l.Send(frame); err != nil {
		return false
	}
	_, err := l.WaitForResponse(CmdFastscanResponse)
	return err == nil
}

// Fastscan runs the CiA 305 fastscan binary search to identify a single
// unconfigured slave on the bus without prior knowledge of its identity,
// narrowing each of the four 32-bit identity fields (vendor, product,
// revision, serial) one bit at a time from MSB to LSB. On success, the
// matched slave is left selected and in LSS configuration state, and its
// full address is returned.
func (l *LSSMaster) Fastscan() (LSSAddress, error) {
	var values [4]uint32

	fields := []fastscanField{fastscanVendor, fastscanProduct, fastscanRevision, fastscanSerial}
	for idx, field := range fields {
		// Probe every bit from MSB (31) to LSB (0), assuming 0 first; if no
		// slave confirms, the real bit must be 1.
		for bit := int8(31); bit >= 0; bit-- {
			bitCheck := uint8(bit)
			if !l.sendFastscanProbe(values[idx], bitCheck, field, field) {
				values[idx] |= 1 << uint(bit)
			}
		}
		// Confirm the fully determined field and advance to the next one
		// (or re-confirm the last field against itself when done).
		next := field
		if idx+1 < len(fields) {
			next = fields[idx+1]
		}
		if !l.sendFastscanProbe(values[idx], 0x80, field, next) {
			return LSSAddress{}, ErrTimeout
		}
	}

	address := LSSAddress{config.Identity{
		VendorId:       values[fastscanVendor],
		ProductCode:    values[fastscanProduct],
		RevisionNumber: values[fastscanRevision],
		SerialNumber:   values[fastscanSerial],
	}}
	return address, nil
}
