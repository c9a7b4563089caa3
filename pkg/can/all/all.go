// Package all registers every built-in transport driver. Blank-import it
// to make "socketcan" and "virtual" available to [can.NewBus] without
// naming each driver package individually.
package all

import (
	_ "github.com/vireo-systems/canopen/pkg/can/socketcan"
	_ "github.com/vireo-systems/canopen/pkg/can/virtual"
)
