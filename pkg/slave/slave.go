// Package slave implements the minimal Slave FSM (C6): a non-master
// responder that answers Data-Expecting-Reply frames addressed to it and
// otherwise stays out of the way. It never holds the token and never
// initiates a transmission, so it is a deliberately thin variant of the
// master package's pattern.
package slave

import (
	"log/slog"
	"sync"
	"time"

	mstp "github.com/bacnet-stack/mstp-core"
	"github.com/bacnet-stack/mstp-core/pkg/queue"
	"github.com/bacnet-stack/mstp-core/pkg/receiver"
)

// State names the Slave FSM's two states.
type State int

const (
	StateIdle State = iota
	StateAnswerDataRequest
)

func (s State) String() string {
	if s == StateAnswerDataRequest {
		return "ANSWER_DATA_REQUEST"
	}
	return "IDLE"
}

// Sender transmits a frame, per C2's send_frame contract.
type Sender interface {
	Send(frameType mstp.FrameType, destination uint8, data []byte) error
}

// ReplyMatchFunc decides whether a queued entry is the reply to transmit
// for an outstanding request; see pkg/master's identical contract.
type ReplyMatchFunc func(entry queue.Entry, request mstp.Frame) bool

// FSM is one port's Slave FSM. Construct with New.
type FSM struct {
	mu     sync.Mutex
	logger *slog.Logger

	ts          uint8
	tReplyDelay time.Duration
	queue       *queue.Queue
	sender      Sender
	matchReply  ReplyMatchFunc

	state          State
	pendingRequest mstp.Frame
	stateEnteredAt time.Time
}

// New returns a Slave FSM for station ts.
func New(ts uint8, tReplyDelay time.Duration, q *queue.Queue, sender Sender, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{
		logger:      logger.With("service", "[SLAVE]", "station", ts),
		ts:          ts,
		tReplyDelay: tReplyDelay,
		queue:       q,
		sender:      sender,
		state:       StateIdle,
		matchReply: func(entry queue.Entry, request mstp.Frame) bool {
			return entry.DestinationMAC == request.Source && !entry.DataExpectingReply
		},
	}
}

// SetReplyMatcher overrides the default destination-only reply match.
func (f *FSM) SetReplyMatcher(fn ReplyMatchFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchReply = fn
}

// State returns the current FSM state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// HandleEvent delivers a Receive FSM event addressed to this station.
func (f *FSM) HandleEvent(evt receiver.Event, fr mstp.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateIdle {
		return
	}
	if evt != receiver.EventValidFrame || fr.Destination != f.ts {
		return
	}
	if fr.Type != mstp.FrameDataExpectingReply {
		return
	}
	f.pendingRequest = fr
	f.stateEnteredAt = time.Now()
	f.state = StateAnswerDataRequest
}

// Step advances the FSM without a new event.
func (f *FSM) Step() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateAnswerDataRequest {
		return
	}
	if entry, ok := f.queue.GetReply(func(e queue.Entry) bool {
		return f.matchReply(e, f.pendingRequest)
	}); ok {
		f.send(mstp.FrameDataNotExpectingReply, entry.DestinationMAC, entry.Data)
		f.state = StateIdle
		return
	}
	if time.Since(f.stateEnteredAt) >= f.tReplyDelay {
		f.send(mstp.FrameReplyPostponed, f.pendingRequest.Source, nil)
		f.state = StateIdle
	}
}

func (f *FSM) send(frameType mstp.FrameType, dest uint8, data []byte) {
	if err := f.sender.Send(frameType, dest, data); err != nil {
		f.logger.Warn("send failed", "type", frameType.String(), "dest", dest, "err", err)
	}
}
