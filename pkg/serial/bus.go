// Package serial defines the Bus abstraction the MS/TP core polls octets
// from and sends frames through, plus a name-keyed registry so callers can
// select a transport at runtime by name.
package serial

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnsupportedBaud is returned by a Factory asked to configure a baud
// rate outside the core's supported set (see mstp.SupportedBaudRates).
var ErrUnsupportedBaud = errors.New("serial: unsupported baud rate")

// Bus is the half-duplex octet transport a port drives. Implementations
// never block Send past the time needed to hand bytes to the driver, and
// PollOctet never blocks: it returns ok=false when nothing is waiting.
// This is the only interface the datalink core depends on; a real UART, a
// loopback test double, or anything else implementing it is
// interchangeable.
type Bus interface {
	// Send transmits a complete, already-framed buffer.
	Send(frame []byte) error
	// PollOctet returns the next received octet, if any is buffered.
	PollOctet() (b byte, ok bool)
	// SignalError reports whether the driver observed a framing/overrun
	// condition since the last call (C4's ReceiveError).
	SignalError() bool
	Close() error
}

// Factory constructs a Bus from a driver-specific configuration string
// (e.g. a device path or host:port pair).
type Factory func(config string) (Bus, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// RegisterInterface makes a transport available under name for NewBus.
// Drivers call this from an init func.
func RegisterInterface(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewBus constructs the named transport with the given configuration.
func NewBus(name, config string) (Bus, error) {
	registryMu.Lock()
	factory, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("serial: unknown interface %q", name)
	}
	return factory(config)
}
