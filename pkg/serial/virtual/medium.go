// Package virtual implements a TCP-loopback test double for the MS/TP
// Bus abstraction: a small broadcast hub that every connected Bus relays
// octets through, so multiple in-process or cross-process test nodes can
// share one simulated RS-485 segment without real hardware.
package virtual

import (
	"net"
	"sync"

	"github.com/bacnet-stack/mstp-core/pkg/serial"
)

func init() {
	serial.RegisterInterface("virtual", func(config string) (serial.Bus, error) {
		return Dial(config)
	})
}

// Medium is a shared virtual bus segment. Every octet written by one
// connected Bus is broadcast to every other connected Bus, the way all
// stations on a real RS-485 segment observe the same wire.
type Medium struct {
	mu       sync.Mutex
	listener net.Listener
	addr     string
	peers    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewMedium starts a loopback-only TCP listener on an ephemeral port and
// returns the Medium accepting connections on it.
func NewMedium() (*Medium, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	m := &Medium{
		listener: ln,
		addr:     ln.Addr().String(),
		peers:    make(map[net.Conn]struct{}),
	}
	m.wg.Add(1)
	go m.acceptLoop()
	return m, nil
}

// Addr returns the address Bus instances should Dial to join this medium.
func (m *Medium) Addr() string {
	return m.addr
}

func (m *Medium) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		m.mu.Lock()
		m.peers[conn] = struct{}{}
		m.mu.Unlock()
		m.wg.Add(1)
		go m.relay(conn)
	}
}

func (m *Medium) relay(conn net.Conn) {
	defer m.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			m.broadcast(conn, buf[:n])
		}
		if err != nil {
			m.mu.Lock()
			delete(m.peers, conn)
			m.mu.Unlock()
			conn.Close()
			return
		}
	}
}

func (m *Medium) broadcast(from net.Conn, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.peers {
		if conn == from {
			continue
		}
		conn.Write(data)
	}
}

// Close stops accepting new connections and waits for relay goroutines to
// drain once their peers disconnect.
func (m *Medium) Close() error {
	err := m.listener.Close()
	m.wg.Wait()
	return err
}

// Bus is a client-side connection to a shared Medium: every octet it
// Sends is broadcast to every other Bus connected to the same Medium, and
// every octet another peer sends arrives through PollOctet, the way every
// station on a real RS-485 segment observes the same wire.
type Bus struct {
	mu     sync.Mutex
	conn   net.Conn
	rxBuf  []byte
	errSig bool
}

// Dial connects to a Medium listening at addr (see Medium.Addr).
func Dial(addr string) (*Bus, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	b := &Bus{conn: conn}
	go b.receiveLoop()
	return b, nil
}

func (b *Bus) receiveLoop() {
	buf := make([]byte, 256)
	for {
		n, err := b.conn.Read(buf)
		if n > 0 {
			b.mu.Lock()
			b.rxBuf = append(b.rxBuf, buf[:n]...)
			b.mu.Unlock()
		}
		if err != nil {
			b.mu.Lock()
			b.errSig = true
			b.mu.Unlock()
			return
		}
	}
}

// Send writes a complete, already-framed buffer onto the medium.
func (b *Bus) Send(frame []byte) error {
	_, err := b.conn.Write(frame)
	return err
}

// PollOctet returns the next octet relayed from another peer, if any has
// arrived since the last call.
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

// SignalError reports a connection failure observed since the last call,
// the loopback double's stand-in for a UART framing/overrun condition.
func (b *Bus) SignalError() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sig := b.errSig
	b.errSig = false
	return sig
}

// Close disconnects from the Medium.
func (b *Bus) Close() error {
	return b.conn.Close()
}
