// Package zeroconfig implements the Zero-Configuration FSM (C7): dynamic
// MAC acquisition in [64,127] by passive learning plus a single active
// probe, for nodes that start with TS=255.
package zeroconfig

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	mstp "github.com/bacnet-stack/mstp-core"
	"github.com/bacnet-stack/mstp-core/pkg/receiver"
	"github.com/bacnet-stack/mstp-core/pkg/silence"
)

// State names the six Zero-Config FSM states.
type State int

const (
	StateInit State = iota
	StateIdle
	StateLurk
	StateClaim
	StateConfirm
	StateUse
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateIdle:
		return "IDLE"
	case StateLurk:
		return "LURK"
	case StateClaim:
		return "CLAIM"
	case StateConfirm:
		return "CONFIRM"
	case StateUse:
		return "USE"
	default:
		return "UNKNOWN"
	}
}

// Sender transmits a frame, per C2's send_frame contract.
type Sender interface {
	Send(frameType mstp.FrameType, destination uint8, data []byte) error
}

// CommitFunc is invoked exactly once, when the FSM reaches USE, with the
// station address it has claimed.
type CommitFunc func(ts uint8)

// FSM is one port's Zero-Config FSM. Construct with New.
type FSM struct {
	mu     sync.Mutex
	logger *slog.Logger

	cfg     *mstp.PortConfig
	silence *silence.Timer
	sender  Sender

	npoll int

	state          State
	candidate      uint8
	npollSlot      int
	pollCount      int
	maxMaster      uint8
	ts             uint8
	stateEnteredAt time.Time
	onCommit       CommitFunc
}

// New returns a Zero-Config FSM. cfg supplies T_no_token, T_slot,
// T_usage_timeout, and T_reply_timeout; Npoll defaults to 1 (a single
// sweep of all slots before claim) and can be overridden with SetNpoll.
func New(cfg *mstp.PortConfig, silenceTimer *silence.Timer, sender Sender, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FSM{
		logger:  logger.With("service", "[ZEROCONFIG]"),
		cfg:     cfg,
		silence: silenceTimer,
		sender:  sender,
		npoll:   1,
		ts:      mstp.ZeroConfigUnset,
		state:   StateInit,
	}
	return f
}

// SetNpoll overrides the default Npoll sweep count.
func (f *FSM) SetNpoll(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.npoll = n
}

// OnCommit registers the callback fired when TS is claimed.
func (f *FSM) OnCommit(fn CommitFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCommit = fn
}

// State returns the current FSM state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Station returns the committed station address, or mstp.ZeroConfigUnset
// if acquisition has not reached USE yet.
func (f *FSM) Station() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ts
}

func (f *FSM) zeroConfigSilence() time.Duration {
	return f.cfg.TNoToken() + f.cfg.TSlot*time.Duration(128+f.npollSlot)
}

// HandleEvent delivers a Receive FSM event while TS is still unclaimed.
func (f *FSM) HandleEvent(evt receiver.Event, fr mstp.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateIdle:
		if evt == receiver.EventValidFrame || evt == receiver.EventValidFrameNotForUs {
			f.state = StateLurk
			f.stateEnteredAt = time.Now()
		}

	case StateLurk:
		if evt != receiver.EventValidFrame && evt != receiver.EventValidFrameNotForUs {
			return
		}
		if fr.Source == f.candidate {
			f.candidate = advanceCandidate(f.candidate)
			f.pollCount = 0
			f.logger.Debug("candidate in use, advancing", "candidate", f.candidate)
		}
		if fr.Type == mstp.FramePollForMaster {
			if fr.Source == 0 && fr.Destination > f.maxMaster {
				f.maxMaster = fr.Destination
			}
			f.pollCount++
			if f.pollCount >= f.npoll+f.npollSlot {
				f.state = StateClaim
				f.stateEnteredAt = time.Now()
				f.transmit(mstp.FramePollForMaster, f.candidate, nil)
			}
		}

	case StateClaim:
		if evt == receiver.EventValidFrame && fr.Type == mstp.FrameReplyToPollForMaster && fr.Source == f.candidate {
			f.candidate = advanceCandidate(f.candidate)
			f.pollCount = 0
			f.state = StateLurk
			f.stateEnteredAt = time.Now()
		}

	case StateConfirm:
		if evt == receiver.EventValidFrame && fr.Type == mstp.FrameTestResponse && fr.Destination == f.candidate {
			f.commit()
		}
	}
}

// Step advances the FSM without a new event; call it repeatedly alongside
// HandleEvent until Station() returns a committed address.
func (f *FSM) Step() {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateInit:
		f.candidate = mstp.ZeroConfigMinMAC
		f.npollSlot = deriveNpollSlot()
		f.pollCount = 0
		f.maxMaster = 0
		f.state = StateIdle
		f.stateEnteredAt = time.Now()

	case StateIdle:
		if f.silence.Exceeds(f.zeroConfigSilence()) {
			f.state = StateConfirm
			f.stateEnteredAt = time.Now()
			f.transmit(mstp.FrameTestRequest, f.candidate, nil)
		}

	case StateLurk:
		if f.silence.Exceeds(f.zeroConfigSilence()) {
			f.state = StateIdle
			f.stateEnteredAt = time.Now()
		}

	case StateClaim:
		if f.silence.Exceeds(f.cfg.TUsageTimeout) {
			f.commit()
		}

	case StateConfirm:
		if f.silence.Exceeds(f.cfg.TReplyTimeout) {
			f.commit()
		}
	}
}

func (f *FSM) commit() {
	f.ts = f.candidate
	f.state = StateUse
	f.logger.Info("zero-config address claimed", "station", f.ts)
	if f.onCommit != nil {
		f.onCommit(f.ts)
	}
}

func (f *FSM) transmit(frameType mstp.FrameType, dest uint8, data []byte) {
	if err := f.sender.Send(frameType, dest, data); err != nil {
		f.logger.Warn("send failed", "type", frameType.String(), "dest", dest, "err", err)
		return
	}
	f.silence.Reset()
}

// advanceCandidate wraps the candidate within [64,127].
func advanceCandidate(c uint8) uint8 {
	if c >= mstp.ZeroConfigMaxMAC {
		return mstp.ZeroConfigMinMAC
	}
	return c + 1
}

// deriveNpollSlot folds a random 128-bit value down to [1,64], a
// per-device constant used to stagger the claim threshold across
// instances contending for the same candidate address.
func deriveNpollSlot() int {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	var acc byte
	for _, v := range b {
		acc ^= v
	}
	return int(acc%64) + 1
}
