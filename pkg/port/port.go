// Package port implements the per-physical-port orchestrator: it owns a
// serial.Bus, the silence timer, the Receive FSM, the PDU queue, and
// whichever of {master, slave, zeroconfig} FSM currently owns TS, wiring
// octets from the Bus into the Receive FSM and dispatching its events to
// whichever FSM is active. Construction and the ticker-driven background
// loop follow a Start/Stop/Wait lifecycle: Start launches a goroutine
// that ticks the FSMs until the context is canceled, Stop cancels it, and
// Wait blocks until the goroutine has exited.
package port

import (
	"context"
	"log/slog"
	"sync"
	"time"

	mstp "github.com/bacnet-stack/mstp-core"
	"github.com/bacnet-stack/mstp-core/pkg/frame"
	"github.com/bacnet-stack/mstp-core/pkg/master"
	"github.com/bacnet-stack/mstp-core/pkg/queue"
	"github.com/bacnet-stack/mstp-core/pkg/receiver"
	"github.com/bacnet-stack/mstp-core/pkg/serial"
	"github.com/bacnet-stack/mstp-core/pkg/silence"
	"github.com/bacnet-stack/mstp-core/pkg/slave"
	"github.com/bacnet-stack/mstp-core/pkg/zeroconfig"
)

// pollPeriod is how often the background loop ticks when no octet is
// waiting, bounding the latency of timeout-driven transitions
// (T_frame_abort, T_no_token, ...) without busy-spinning the host CPU. A
// bare-metal cooperative build instead calls Port.Tick directly from its
// own main loop at whatever rate it already runs.
const pollPeriod = time.Millisecond

// Port is one physical MS/TP port: a Bus, the Receive FSM together with
// whichever of the master, slave and zero-config FSMs its station address
// calls for, and the PDU queue the network layer submits outgoing traffic
// through. Construct with New.
type Port struct {
	mu     sync.Mutex
	logger *slog.Logger

	cfg      *mstp.PortConfig
	bus      serial.Bus
	silence  *silence.Timer
	receiver *receiver.FSM
	queue    *queue.Queue
	txBuf    []byte

	master     *master.FSM
	slaveFSM   *slave.FSM
	zeroconfig *zeroconfig.FSM

	onReceive master.PDUHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Port driving bus according to cfg. If cfg.ThisStation is
// mstp.ZeroConfigUnset, the port starts in zero-config address acquisition
// (C7); otherwise it starts directly as a master or slave FSM depending on
// the address range, since TS is fixed for pre-configured nodes.
func New(cfg *mstp.PortConfig, bus serial.Bus, queueCapacity int, logger *slog.Logger) *Port {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Port{
		logger:  logger.With("service", "[PORT]"),
		cfg:     cfg,
		bus:     bus,
		silence: silence.New(),
		queue:   queue.New(queueCapacity),
		txBuf:   make([]byte, frame.Size(mstp.MaxDataLength)),
	}
	p.receiver = receiver.New(cfg.ThisStation, mstp.MinReceiveBufferCapacity, p.silence, cfg.TFrameAbort, logger)

	if cfg.ThisStation == mstp.ZeroConfigUnset {
		p.zeroconfig = zeroconfig.New(cfg, p.silence, p, logger)
		p.zeroconfig.OnCommit(p.commitStation)
	} else if mstp.IsMaster(cfg.ThisStation) {
		p.startMaster()
	} else {
		p.slaveFSM = slave.New(cfg.ThisStation, cfg.TReplyDelay, p.queue, p, logger)
		p.slaveFSM.SetReplyMatcher(replyMatch)
	}
	return p
}

func (p *Port) startMaster() {
	p.master = master.New(p.cfg, p.silence, p.queue, p, p.logger)
	p.master.SetReplyMatcher(replyMatch)
	if p.onReceive != nil {
		p.master.OnReceive(p.onReceive)
	}
}

// commitStation is the Zero-Config FSM's OnCommit callback: it fixes TS
// on the receiver and stands up the Master FSM the acquired address
// always belongs to (the zero-config range 64..127 is entirely within the
// master address space).
func (p *Port) commitStation(ts uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.ThisStation = ts
	p.receiver.SetStation(ts)
	p.startMaster()
}

// replyMatch is the NPDU-aware DER matcher wired into both the master and
// slave FSMs in place of their coarse destination-only default.
func replyMatch(entry queue.Entry, request mstp.Frame) bool {
	if entry.DestinationMAC != request.Source {
		return false
	}
	return isReplyTo(decodeNPDUPrefix(entry.Data), decodeNPDUPrefix(request.Data))
}

// OnReceive registers the callback invoked for application PDUs (DNER)
// addressed to this station. Safe to call before or after the station
// address is known; if zero-config acquisition is still in progress the
// handler is applied once the Master FSM is created.
func (p *Port) OnReceive(h master.PDUHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReceive = h
	if p.master != nil {
		p.master.OnReceive(h)
	}
}

// SubmitPDU enqueues an outgoing PDU for transmission on the next token
// hold (master) or reply opportunity (slave). Returns mstp.ErrQueueFull if
// the ring is at capacity; the network layer decides whether to retry or
// drop.
func (p *Port) SubmitPDU(destinationMAC uint8, data []byte, dataExpectingReply bool) error {
	if len(data) > mstp.MaxDataLength {
		return mstp.ErrBufferExceeded
	}
	return p.queue.Enqueue(queue.Entry{
		DestinationMAC:     destinationMAC,
		DataExpectingReply: dataExpectingReply,
		Data:               append([]byte(nil), data...),
	})
}

// Station returns the current TS, mstp.ZeroConfigUnset if acquisition has
// not yet committed an address.
func (p *Port) Station() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.ThisStation
}

// Send implements the master.Sender / slave.Sender / zeroconfig.Sender
// contract shared by all three FSMs: it lays the frame down with the wire
// codec (C2) and hands it to the Bus, then resets the silence timer per
// send_frame's contract.
func (p *Port) Send(frameType mstp.FrameType, destination uint8, data []byte) error {
	p.mu.Lock()
	ts := p.cfg.ThisStation
	n, err := frame.Build(p.txBuf, frameType, destination, ts, data)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if err := p.bus.Send(p.txBuf[:n]); err != nil {
		return err
	}
	p.silence.Reset()
	return nil
}

// Tick drives one iteration of the cooperative loop: poll at most one
// octet from the Bus into the Receive FSM, check for a frame-abort
// timeout, dispatch any surfaced event to whichever FSM owns TS, and step
// that FSM. Call repeatedly from a bare-metal main loop, or let Start do
// it on a ticker.
func (p *Port) Tick() {
	if p.bus.SignalError() {
		p.receiver.SignalReceiveError()
	}
	if octet, ok := p.bus.PollOctet(); ok {
		p.receiver.Step(octet)
	}
	p.receiver.Poll()

	if evt, fr := p.receiver.TakeEvent(); evt != receiver.EventNone {
		p.dispatch(evt, fr)
	}
	p.step()
}

func (p *Port) dispatch(evt receiver.Event, fr mstp.Frame) {
	p.mu.Lock()
	m, s, z := p.master, p.slaveFSM, p.zeroconfig
	p.mu.Unlock()

	switch {
	case z != nil && z.State() != zeroconfig.StateUse:
		z.HandleEvent(evt, fr)
	case m != nil:
		m.HandleEvent(evt, fr)
	case s != nil:
		s.HandleEvent(evt, fr)
	}
}

func (p *Port) step() {
	p.mu.Lock()
	m, s, z := p.master, p.slaveFSM, p.zeroconfig
	p.mu.Unlock()

	if z != nil && z.State() != zeroconfig.StateUse {
		z.Step()
		return
	}
	if m != nil {
		m.Step()
	}
	if s != nil {
		s.Step()
	}
}

// Start runs the Tick loop on a background goroutine until the context is
// canceled or Stop is called, mirroring NodeProcessor.Start's
// ticker-driven background process.
func (p *Port) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(pollPeriod)
		defer ticker.Stop()
		p.logger.Info("starting port background process")
		for {
			select {
			case <-ctx.Done():
				p.logger.Info("exited port background process")
				return
			case <-ticker.C:
				p.Tick()
			}
		}
	}()
}

// Stop cancels the background loop. Wait blocks until it has exited.
func (p *Port) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until the background loop started by Start has exited.
func (p *Port) Wait() {
	p.wg.Wait()
}

// Close releases the underlying Bus.
func (p *Port) Close() error {
	return p.bus.Close()
}
