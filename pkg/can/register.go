// Package can is the driver registry for concrete CAN transports. Drivers
// (pkg/can/virtual, pkg/can/socketcan) register themselves from an init()
// function; callers pick one by name with NewBus.
package can

import (
	"fmt"

	canopen "github.com/vireo-systems/canopen"
)

type NewInterfaceFunc func(channel string) (canopen.Bus, error)

var AvailableInterfaces = make(map[string]NewInterfaceFunc)

var ImplementedInterfaces = []string{
	"socketcan",
	"virtual",
}

// RegisterInterface makes a driver available under interfaceType. Called
// from a driver package's init().
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	AvailableInterfaces[interfaceType] = newInterface
}

// NewBus constructs a [canopen.Bus] for the named interface type. Bitrate
// is accepted for symmetry with transports that need it at construction
// time; drivers that configure it out-of-band (e.g. socketcan, which reads
// it from the OS-level interface config) ignore it.
func NewBus(canInterface string, channel string, bitrate int) (canopen.Bus, error) {
	createInterface, ok := AvailableInterfaces[canInterface]
	if !ok {
		return nil, fmt.Errorf("unsupported interface : %v", canInterface)
	}
	return createInterface(channel)
}
