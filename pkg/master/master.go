// Package master implements the token-passing Master FSM (C5), the
// largest and most timing-sensitive of the four MS/TP state machines. Its
// shape - an explicit state field behind a mutex, a *slog.Logger injected
// at construction, and callback registration for delivering received PDUs
// upward - matches the other state machines in this module.
package master

import (
	"log/slog"
	"sync"
	"time"

	mstp "github.com/bacnet-stack/mstp-core"
	"github.com/bacnet-stack/mstp-core/pkg/queue"
	"github.com/bacnet-stack/mstp-core/pkg/receiver"
	"github.com/bacnet-stack/mstp-core/pkg/silence"
)

// State names the nine Master FSM states of C5.
type State int

const (
	StateInitialize State = iota
	StateIdle
	StateUseToken
	StateWaitForReply
	StateDoneWithToken
	StatePassToken
	StateNoToken
	StatePollForMaster
	StateAnswerDataRequest
)

func (s State) String() string {
	switch s {
	case StateInitialize:
		return "INITIALIZE"
	case StateIdle:
		return "IDLE"
	case StateUseToken:
		return "USE_TOKEN"
	case StateWaitForReply:
		return "WAIT_FOR_REPLY"
	case StateDoneWithToken:
		return "DONE_WITH_TOKEN"
	case StatePassToken:
		return "PASS_TOKEN"
	case StateNoToken:
		return "NO_TOKEN"
	case StatePollForMaster:
		return "POLL_FOR_MASTER"
	case StateAnswerDataRequest:
		return "ANSWER_DATA_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// Sender transmits a frame and resets the port's silence timer, per C2's
// send_frame contract. pkg/port supplies the concrete implementation
// wired to a Bus.
type Sender interface {
	Send(frameType mstp.FrameType, destination uint8, data []byte) error
}

// PDUHandler is invoked with DNER frames addressed to this station,
// including the reply that ends WAIT_FOR_REPLY. TEST_REQUEST and DER frames
// are handled internally and are not passed to it.
type PDUHandler func(fr mstp.Frame)

// ReplyMatchFunc decides whether a queued outgoing entry is the reply the
// core should transmit for an outstanding DER request. pkg/port supplies
// the NPDU-aware implementation; the zero value here falls back to a
// coarse destination-only match.
type ReplyMatchFunc func(entry queue.Entry, request mstp.Frame) bool

// FSM is one port's Master FSM. Construct with New.
type FSM struct {
	mu     sync.Mutex
	logger *slog.Logger

	cfg     *mstp.PortConfig
	silence *silence.Timer
	queue   *queue.Queue
	sender  Sender

	state State

	ns, ps                 uint8
	tokenCount, eventCount int
	retryCount, frameCount int
	soleMaster             bool
	stateEnteredAt         time.Time
	pendingRequest         mstp.Frame
	onReceive              PDUHandler
	matchReply             ReplyMatchFunc
}

// New returns a Master FSM for the given config, sharing the port's
// silence timer, PDU queue, and frame sender.
func New(cfg *mstp.PortConfig, silenceTimer *silence.Timer, q *queue.Queue, sender Sender, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{
		logger:  logger.With("service", "[MASTER]", "station", cfg.ThisStation),
		cfg:     cfg,
		silence: silenceTimer,
		queue:   q,
		sender:  sender,
		state:   StateInitialize,
		matchReply: func(entry queue.Entry, request mstp.Frame) bool {
			return entry.DestinationMAC == request.Source && !entry.DataExpectingReply
		},
	}
}

// OnReceive registers the callback invoked for application PDUs (DNER)
// addressed to this station.
func (m *FSM) OnReceive(h PDUHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReceive = h
}

// SetReplyMatcher overrides the default destination-only reply match with
// an NPDU-aware one (see pkg/port's DER matcher).
func (m *FSM) SetReplyMatcher(fn ReplyMatchFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchReply = fn
}

// State returns the current FSM state.
func (m *FSM) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SoleMaster reports whether this station believes it is the only master
// on the ring.
func (m *FSM) SoleMaster() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.soleMaster
}

// Ns returns the current next-station pointer.
func (m *FSM) Ns() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ns
}

// HandleEvent delivers a Receive FSM event. Per C4's contract, the FSM
// that owns TS is responsible for clearing the event; calling this method
// is that clearing step.
func (m *FSM) HandleEvent(evt receiver.Event, fr mstp.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if evt == receiver.EventValidFrame {
		if fr.Source == m.cfg.ThisStation {
			m.logger.Warn("address conflict: frame from own station", "source", fr.Source)
			return
		}
		m.soleMaster = false
	}

	switch m.state {
	case StateIdle:
		switch evt {
		case receiver.EventValidFrame:
			m.dispatchValidFrame(fr)
		case receiver.EventValidFrameNotForUs, receiver.EventInvalidFrame:
			// clear only
		}

	case StateWaitForReply:
		switch evt {
		case receiver.EventValidFrame:
			if isReplyFrameType(fr.Type) {
				m.logger.Debug("reply received", "type", fr.Type.String())
				if fr.Type == mstp.FrameDataNotExpectingReply && fr.Destination == m.cfg.ThisStation && m.onReceive != nil {
					m.onReceive(fr)
				}
				m.state = StateDoneWithToken
			}
		case receiver.EventInvalidFrame:
			m.state = StateDoneWithToken
		}

	case StatePassToken:
		if evt == receiver.EventValidFrame || evt == receiver.EventValidFrameNotForUs {
			m.state = StateIdle
			if evt == receiver.EventValidFrame {
				m.dispatchValidFrame(fr)
			}
		}

	case StateNoToken:
		if evt == receiver.EventValidFrame || evt == receiver.EventValidFrameNotForUs {
			m.state = StateIdle
			if evt == receiver.EventValidFrame {
				m.dispatchValidFrame(fr)
			}
		}

	case StatePollForMaster:
		if evt == receiver.EventValidFrame && fr.Type == mstp.FrameReplyToPollForMaster && fr.Source == m.ps {
			m.ns = m.ps
			m.tokenCount = 0
			m.transmit(mstp.FrameToken, m.ns, nil)
			m.state = StatePassToken
			m.stateEnteredAt = time.Now()
		}
	}
}

func isReplyFrameType(t mstp.FrameType) bool {
	switch t {
	case mstp.FrameDataNotExpectingReply, mstp.FrameReplyPostponed:
		return true
	default:
		return false
	}
}

func (m *FSM) dispatchValidFrame(fr mstp.Frame) {
	switch fr.Type {
	case mstp.FrameToken:
		if fr.Destination == m.cfg.ThisStation {
			m.frameCount = 0
			m.state = StateUseToken
			m.logger.Info("token received", "from", fr.Source)
		}
	case mstp.FramePollForMaster:
		if fr.Destination == m.cfg.ThisStation {
			m.transmit(mstp.FrameReplyToPollForMaster, fr.Source, nil)
		}
	case mstp.FrameDataExpectingReply:
		if fr.Destination == m.cfg.ThisStation {
			m.pendingRequest = fr
			m.stateEnteredAt = time.Now()
			m.state = StateAnswerDataRequest
		}
	case mstp.FrameTestRequest:
		if fr.Destination == m.cfg.ThisStation {
			m.transmit(mstp.FrameTestResponse, fr.Source, fr.Data)
		}
	case mstp.FrameDataNotExpectingReply:
		if fr.Destination == m.cfg.ThisStation && m.onReceive != nil {
			m.onReceive(fr)
		}
	}
}

// Step advances the FSM without a new receive event; call it repeatedly
// from the port's main loop alongside HandleEvent, matching C5's
// cooperative scheduling model.
func (m *FSM) Step() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateInitialize:
		m.ns = m.cfg.ThisStation
		m.ps = m.cfg.ThisStation
		m.tokenCount = 0
		m.eventCount = 0
		m.retryCount = 0
		m.frameCount = 0
		m.soleMaster = false
		m.state = StateIdle

	case StateIdle:
		if m.silence.Exceeds(m.cfg.TNoToken()) {
			m.state = StateNoToken
			m.stateEnteredAt = time.Now()
		}

	case StateUseToken:
		entry, ok := m.queue.Peek()
		if !ok {
			m.state = StateDoneWithToken
			return
		}
		if entry.DestinationMAC == m.cfg.ThisStation {
			m.queue.Dequeue()
			return
		}
		entry, _ = m.queue.Dequeue()
		frameType := mstp.FrameDataNotExpectingReply
		if entry.DataExpectingReply {
			frameType = mstp.FrameDataExpectingReply
		}
		m.transmit(frameType, entry.DestinationMAC, entry.Data)
		if entry.DataExpectingReply {
			m.state = StateWaitForReply
			m.stateEnteredAt = time.Now()
			return
		}
		m.frameCount++
		if m.frameCount >= int(m.cfg.MaxInfoFrames) || m.queue.Len() == 0 {
			m.state = StateDoneWithToken
		}

	case StateWaitForReply:
		if m.silence.Exceeds(m.cfg.TReplyTimeout) {
			m.retryCount++
			m.state = StateDoneWithToken
		}

	case StateDoneWithToken:
		m.advanceAfterToken()

	case StatePassToken:
		if m.silence.Exceeds(m.cfg.TUsageTimeout) {
			if m.retryCount < m.cfg.NretryToken {
				m.transmit(mstp.FrameToken, m.ns, nil)
				m.retryCount++
				m.stateEnteredAt = time.Now()
				return
			}
			m.ns = m.nextStation(m.ns)
			m.retryCount = 0
			m.ps = m.ns
			m.state = StatePollForMaster
			m.transmit(mstp.FramePollForMaster, m.ps, nil)
			m.stateEnteredAt = time.Now()
		}

	case StateNoToken:
		threshold := m.cfg.TNoToken() + m.cfg.TSlot*time.Duration(m.cfg.ThisStation)
		if m.silence.Exceeds(threshold) {
			m.eventCount = 0
			m.ps = m.nextStation(m.cfg.ThisStation)
			m.state = StatePollForMaster
			m.transmit(mstp.FramePollForMaster, m.ps, nil)
			m.stateEnteredAt = time.Now()
		}

	case StatePollForMaster:
		if m.silence.Exceeds(m.cfg.TUsageTimeout) {
			m.ps = m.nextStation(m.ps)
			if m.ps == m.cfg.ThisStation {
				m.soleMaster = true
				m.ns = m.cfg.ThisStation
				m.state = StateUseToken
				m.logger.Info("sole master declared")
				return
			}
			m.transmit(mstp.FramePollForMaster, m.ps, nil)
			m.stateEnteredAt = time.Now()
		}

	case StateAnswerDataRequest:
		if entry, ok := m.queue.GetReply(func(e queue.Entry) bool {
			return m.matchReply(e, m.pendingRequest)
		}); ok {
			m.transmit(mstp.FrameDataNotExpectingReply, entry.DestinationMAC, entry.Data)
			m.state = StateIdle
			return
		}
		if time.Since(m.stateEnteredAt) >= m.cfg.TReplyDelay {
			m.transmit(mstp.FrameReplyPostponed, m.pendingRequest.Source, nil)
			m.state = StateIdle
		}
	}
}

func (m *FSM) advanceAfterToken() {
	if m.frameCount < int(m.cfg.MaxInfoFrames) && m.queue.Len() > 0 {
		m.state = StateUseToken
		return
	}
	if !m.soleMaster && m.ns != m.nextStation(m.cfg.ThisStation) {
		m.transmit(mstp.FrameToken, m.ns, nil)
		m.tokenCount++
		m.state = StatePassToken
		m.stateEnteredAt = time.Now()
		return
	}
	if m.tokenCount < m.cfg.Npoll && m.ps != m.ns {
		m.ps = m.nextStation(m.ps)
		m.state = StatePollForMaster
		m.transmit(mstp.FramePollForMaster, m.ps, nil)
		m.stateEnteredAt = time.Now()
		return
	}
	m.tokenCount = 0
	m.state = StateIdle
}

func (m *FSM) nextStation(from uint8) uint8 {
	return uint8((int(from) + 1) % (int(m.cfg.MaxMaster) + 1))
}

func (m *FSM) transmit(frameType mstp.FrameType, dest uint8, data []byte) {
	if err := m.sender.Send(frameType, dest, data); err != nil {
		m.logger.Warn("send failed", "type", frameType.String(), "dest", dest, "err", err)
		return
	}
	m.silence.Reset()
}
