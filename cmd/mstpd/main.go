// Command mstpd wires a real RS-485 serial port (or a virtual loopback
// medium, for demonstration without hardware) into an MS/TP Port. It is
// demonstrative only: the tested core lives entirely in the pkg/ packages
// above it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mstp "github.com/bacnet-stack/mstp-core"
	"github.com/bacnet-stack/mstp-core/pkg/port"
	"github.com/bacnet-stack/mstp-core/pkg/serial"
	"github.com/bacnet-stack/mstp-core/pkg/serial/rs485"
	_ "github.com/bacnet-stack/mstp-core/pkg/serial/virtual"
)

func main() {
	iface := flag.String("i", "rs485", `transport interface: "rs485" or "virtual"`)
	device := flag.String("d", "/dev/ttyUSB0", "device path (rs485) or medium address (virtual)")
	station := flag.Uint("s", 1, "this station's MAC address (0..127), or 255 for zero-config acquisition")
	maxMaster := flag.Uint("N", 127, "Nmax_master: highest master address on the ring")
	baud := flag.Int("b", 38400, "UART baud rate")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var bus serial.Bus
	var err error
	if *iface == "rs485" {
		bus, err = rs485.Open(*device, *baud)
	} else {
		bus, err = serial.NewBus(*iface, *device)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mstpd: could not open %s interface %q: %v\n", *iface, *device, err)
		os.Exit(1)
	}

	cfg := mstp.NewPortConfig(uint8(*station))
	cfg.MaxMaster = uint8(*maxMaster)
	cfg.Baud = *baud
	if !mstp.ValidBaud(cfg.Baud) {
		fmt.Fprintf(os.Stderr, "mstpd: unsupported baud rate %d\n", cfg.Baud)
		os.Exit(1)
	}

	p := port.New(cfg, bus, 0, logger)
	p.OnReceive(func(fr mstp.Frame) {
		logger.Info("received application PDU", "source", fr.Source, "len", len(fr.Data))
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p.Start(ctx)
	logger.Info("mstpd running", "station", cfg.ThisStation, "interface", *iface, "device", *device)
	<-ctx.Done()

	p.Stop()
	p.Wait()
	p.Close()
}
