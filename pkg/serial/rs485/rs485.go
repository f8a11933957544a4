// Package rs485 implements the real half-duplex RS-485 UART transport
// behind the serial.Bus interface, wrapping github.com/daedaluz/goserial:
// a thin adapter translating the core's octet-oriented contract onto the
// underlying driver's Open/SetAttr/SetRS485 API.
package rs485

import (
	"sync"
	"time"

	goserial "github.com/daedaluz/goserial"

	"github.com/bacnet-stack/mstp-core/pkg/serial"
)

func init() {
	serial.RegisterInterface("rs485", func(config string) (serial.Bus, error) {
		return Open(config, 38400)
	})
}

// baudFlags maps the core's supported baud set onto the termios speed
// constants the driver understands.
var baudFlags = map[int]goserial.CFlag{
	9600:   goserial.B9600,
	19200:  goserial.B19200,
	38400:  goserial.B38400,
	57600:  goserial.B57600,
	76800:  goserial.CFlag(0010003), // B76800 is not a POSIX-standard rate
	115200: goserial.B115200,
}

// Bus is a real RS-485 UART transport. Construct with Open.
type Bus struct {
	mu     sync.Mutex
	port   *goserial.Port
	rxBuf  []byte
	errSig bool
	stop   chan struct{}
}

// Open opens the named device (e.g. "/dev/ttyUSB0"), configures it for
// raw 8-N-1 operation at baud, and enables the driver's half-duplex
// RS-485 direction control (RTS asserted only while transmitting) so the
// MS/TP core never has to touch a GPIO directly.
func Open(name string, baud int) (*Bus, error) {
	flag, ok := baudFlags[baud]
	if !ok {
		return nil, serial.ErrUnsupportedBaud
	}

	port, err := goserial.Open(name, goserial.NewOptions().SetReadTimeout(50*time.Millisecond))
	if err != nil {
		return nil, err
	}

	attrs, err := port.GetAttr()
	if err != nil {
		port.Close()
		return nil, err
	}
	attrs.MakeRaw()
	attrs.Cflag = (attrs.Cflag &^ goserial.CBAUD) | flag | goserial.CS8 | goserial.CREAD | goserial.CLOCAL
	if err := port.SetAttr(goserial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, err
	}

	if err := port.SetRS485(&goserial.RS485{
		Flags: goserial.RS485Enabled | goserial.RS485RTSOnSend,
	}); err != nil {
		// Not every UART exposes RS-485 direction control in hardware;
		// the core still functions over a plain full-duplex link in
		// that case, so this is not fatal.
		_ = err
	}

	b := &Bus{port: port, stop: make(chan struct{})}
	go b.receiveLoop()
	return b, nil
}

func (b *Bus) receiveLoop() {
	buf := make([]byte, 256)
	for {
		select {
		case <-b.stop:
			return
		default:
		}
		n, err := b.port.Read(buf)
		if n > 0 {
			b.mu.Lock()
			b.rxBuf = append(b.rxBuf, buf[:n]...)
			b.mu.Unlock()
		}
		if err != nil && err != goserial.ErrClosed {
			b.mu.Lock()
			b.errSig = true
			b.mu.Unlock()
		}
	}
}

// Send writes a complete, already-framed buffer. The kernel driver
// asserts RTS for the duration of the write per the RS485Enabled config
// set in Open.
func (b *Bus) Send(frame []byte) error {
	_, err := b.port.Write(frame)
	return err
}

// PollOctet returns the next received octet, if any is buffered.
func (b *Bus) PollOctet() (byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rxBuf) == 0 {
		return 0, false
	}
	octet := b.rxBuf[0]
	b.rxBuf = b.rxBuf[1:]
	return octet, true
}

// SignalError reports a UART framing/overrun/IO error observed since the
// last call.
func (b *Bus) SignalError() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sig := b.errSig
	b.errSig = false
	return sig
}

// Close stops the receive goroutine and closes the underlying port.
func (b *Bus) Close() error {
	close(b.stop)
	return b.port.Close()
}
