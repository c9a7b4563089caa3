// Command canopen-scan discovers nodes on a CAN bus: it watches for
// bootup/heartbeat traffic while an active SDO probe walks the node id
// range and reports any id that answers an identity read.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/vireo-systems/canopen/pkg/can/all"
	"github.com/vireo-systems/canopen/pkg/network"
	"github.com/vireo-systems/canopen/pkg/scanner"
)

func main() {
	iface := flag.String("interface", "virtual", "CAN interface type (socketcan, virtual)")
	channel := flag.String("channel", "can0", "interface channel, e.g. can0 or host:port for virtual")
	bitrate := flag.Int("bitrate", 500000, "bus bitrate, ignored by transports that configure it out of band")
	idMin := flag.Uint("id-min", 1, "lowest node id to actively probe")
	idMax := flag.Uint("id-max", 127, "highest node id to actively probe")
	probeTimeout := flag.Duration("probe-timeout", 200*time.Millisecond, "SDO round trip timeout per probed id")
	listen := flag.Duration("listen", 2*time.Second, "how long to passively listen for heartbeat/bootup traffic before probing")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	bus, err := network.NewBus(*iface, *channel, *bitrate)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create bus:", err)
		os.Exit(1)
	}
	net := network.NewNetwork(bus)
	net.SetLogger(logger)
	if err := net.Connect(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to connect:", err)
		os.Exit(1)
	}
	defer net.Disconnect()

	passive := scanner.NewPassive(logger, nil)
	net.BusManager.SetScanner(passive)

	fmt.Printf("listening for bootup/heartbeat traffic for %s...\n", *listen)
	time.Sleep(*listen)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*idMax-*idMin+1)*(*probeTimeout)+5*time.Second)
	defer cancel()

	active := scanner.NewActive(net.BusManager, logger)
	fmt.Printf("probing node ids %d-%d...\n", *idMin, *idMax)
	found, err := active.Probe(ctx, uint8(*idMin), uint8(*idMax), *probeTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "probe error:", err)
	}

	results := map[uint8]scanner.NodeInfo{}
	for _, info := range passive.Nodes() {
		results[info.ID] = info
	}
	for _, info := range found {
		existing, ok := results[info.ID]
		if ok {
			existing.Active = true
			existing.VendorID = info.VendorID
			existing.ProductCode = info.ProductCode
			results[info.ID] = existing
		} else {
			results[info.ID] = info
		}
	}

	if len(results) == 0 {
		fmt.Println("no nodes found")
		return
	}

	fmt.Printf("%-6s %-10s %-12s %-12s %-10s\n", "ID", "NMT STATE", "VENDOR", "PRODUCT", "ACTIVE")
	for id := uint8(0); ; id++ {
		if info, ok := results[id]; ok {
			fmt.Printf("0x%-4X %-10d 0x%-10X 0x%-10X %-10t\n", info.ID, info.NMTState, info.VendorID, info.ProductCode, info.Active)
		}
		if id == 127 {
			break
		}
	}
}
