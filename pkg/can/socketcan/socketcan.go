// Package socketcan wraps github.com/brutella/can to provide a Linux
// SocketCAN backed [canopen.Bus].
package socketcan

import (
	sockcan "github.com/brutella/can"

	canopen "github.com/vireo-systems/canopen"
	can "github.com/vireo-systems/canopen/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

type SocketcanBus struct {
	bus        *sockcan.Bus
	rxCallback canopen.FrameListener
}

// Connect implements [canopen.Bus].
func (socketcan *SocketcanBus) Connect(...any) error {
	go socketcan.bus.ConnectAndPublish()
	return nil
}

// Disconnect implements [canopen.Bus].
func (socketcan *SocketcanBus) Disconnect() error {
	return socketcan.bus.Disconnect()
}

// Send implements [canopen.Bus].
func (socketcan *SocketcanBus) Send(frame canopen.Frame) error {
	return socketcan.bus.Publish(
		sockcan.Frame{
			ID:     frame.ID,
			Length: frame.DLC,
			Flags:  frame.Flags,
			Res0:   0,
			Res1:   0,
			Data:   frame.Data,
		})
}

// Subscribe implements [canopen.Bus].
func (socketcan *SocketcanBus) Subscribe(rxCallback canopen.FrameListener) error {
	socketcan.rxCallback = rxCallback
	// brutella/can defines its own Handle-based subscriber interface
	socketcan.bus.Subscribe(socketcan)
	return nil
}

// Handle satisfies brutella/can's frame handler interface and forwards to
// the registered canopen listener.
func (socketcan *SocketcanBus) Handle(frame sockcan.Frame) {
	socketcan.rxCallback.Handle(canopen.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data})
}

func NewSocketCanBus(name string) (canopen.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	return &SocketcanBus{bus: bus}, err
}
