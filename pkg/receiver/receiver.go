// Package receiver implements the octet-driven Receive FSM (C4): the
// parser that turns a stream of octets from the serial driver into frame
// events. It never blocks and never allocates beyond one receive buffer;
// state is an explicit field guarded by a mutex, with an injected
// *slog.Logger defaulting to slog.Default.
package receiver

import (
	"log/slog"
	"sync"
	"time"

	mstp "github.com/bacnet-stack/mstp-core"
	"github.com/bacnet-stack/mstp-core/internal/crc"
	"github.com/bacnet-stack/mstp-core/pkg/silence"
)

// State names the six Receive FSM states of C4.
type State int

const (
	StateIdle State = iota
	StatePreamble
	StateHeader
	StateHeaderCRC
	StateData
	StateDataCRC
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePreamble:
		return "PREAMBLE"
	case StateHeader:
		return "HEADER"
	case StateHeaderCRC:
		return "HEADER_CRC"
	case StateData:
		return "DATA"
	case StateDataCRC:
		return "DATA_CRC"
	default:
		return "UNKNOWN"
	}
}

// Event is the tagged "last event" value the FSM surfaces. Exactly one of
// these is live between a TakeEvent call and the next frame boundary;
// EventNone means nothing is pending.
type Event int

const (
	EventNone Event = iota
	EventValidFrame
	EventValidFrameNotForUs
	EventInvalidFrame
)

// FSM is one port's Receive FSM. Construct with New.
type FSM struct {
	mu     sync.Mutex
	logger *slog.Logger

	ts          uint8
	bufCapacity int
	tFrameAbort time.Duration
	silence     *silence.Timer

	state State

	headerCRC crc.Header8
	headerBuf [5]byte
	headerIdx int

	dataCRC    crc.Data16
	dataLen    int
	dataIdx    int
	dataCRCIdx int
	dataBuf    []byte
	tooLong    bool

	pending mstp.Frame

	errorFlag  bool
	eventCount int
	lastEvent  Event
	lastFrame  mstp.Frame
}

// New returns a Receive FSM for station ts, with a receive buffer of
// bufCapacity data octets and the given silence timer (shared with the
// rest of the port). A nil logger defaults to slog.Default.
func New(ts uint8, bufCapacity int, silenceTimer *silence.Timer, tFrameAbort time.Duration, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{
		logger:      logger.With("service", "[RECEIVER]", "station", ts),
		ts:          ts,
		bufCapacity: bufCapacity,
		tFrameAbort: tFrameAbort,
		silence:     silenceTimer,
		state:       StateIdle,
	}
}

// SetStation updates the address frame events are matched against, used
// once the Zero-Config FSM commits TS after acquisition.
func (f *FSM) SetStation(ts uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ts = ts
}

// State returns the current FSM state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// EventCount returns the diagnostic counter incremented on every Step
// call.
func (f *FSM) EventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventCount
}

// SignalReceiveError notifies the FSM of a UART framing/overrun error
// reported by the serial driver. In IDLE this is consumed silently; in any
// other state it aborts the in-flight frame.
func (f *FSM) SignalReceiveError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorFlag = true
}

// TakeEvent returns the pending event and its frame (if any), clearing it.
// This is the explicit take-on-consume step that avoids a lost or
// overwritten event between this FSM and whichever of {master, slave,
// zeroconfig} owns TS.
func (f *FSM) TakeEvent() (Event, mstp.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, fr := f.lastEvent, f.lastFrame
	f.lastEvent = EventNone
	f.lastFrame = mstp.Frame{}
	return e, fr
}

// Step consumes one received octet. Call only when the serial driver has
// signaled data_available.
func (f *FSM) Step(octet byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.eventCount++

	if f.errorFlag {
		f.errorFlag = false
		if f.state == StateIdle {
			f.silence.Reset()
			return
		}
		f.abort(true)
		return
	}

	switch f.state {
	case StateIdle:
		f.silence.Reset()
		if octet == 0x55 {
			f.state = StatePreamble
		}

	case StatePreamble:
		f.silence.Reset()
		switch octet {
		case 0xFF:
			f.state = StateHeader
			f.headerCRC = crc.NewHeader8()
			f.headerIdx = 0
		case 0x55:
			// stay
		default:
			f.state = StateIdle
		}

	case StateHeader:
		f.silence.Reset()
		f.headerBuf[f.headerIdx] = octet
		f.headerCRC = f.headerCRC.Single(octet)
		f.headerIdx++
		if f.headerIdx == len(f.headerBuf) {
			f.state = StateHeaderCRC
		}

	case StateHeaderCRC:
		f.silence.Reset()
		f.headerCRC = f.headerCRC.Single(octet)
		if !f.headerCRC.Valid() {
			f.abort(true)
			return
		}
		f.beginBody()

	case StateData:
		f.silence.Reset()
		f.dataCRC = f.dataCRC.Single(octet)
		if !f.tooLong {
			f.dataBuf = append(f.dataBuf, octet)
		}
		f.dataIdx++
		if f.dataIdx == f.dataLen {
			if f.tooLong {
				f.abort(true)
				return
			}
			f.state = StateDataCRC
			f.dataCRCIdx = 0
		}

	case StateDataCRC:
		f.silence.Reset()
		f.dataCRC = f.dataCRC.Single(octet)
		f.dataCRCIdx++
		if f.dataCRCIdx == 2 {
			if !f.dataCRC.Valid() {
				f.abort(true)
				return
			}
			f.complete(f.dataBuf)
		}
	}
}

// Poll checks for a frame-abort timeout even when no octet has arrived;
// call it periodically from the port's main loop alongside Step.
func (f *FSM) Poll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateIdle || !f.silence.Exceeds(f.tFrameAbort) {
		return
	}
	if f.state == StatePreamble {
		f.state = StateIdle
		return
	}
	f.abort(true)
}

// beginBody decodes the five header octets folded in so far and either
// completes a zero-length frame immediately or transitions into DATA.
func (f *FSM) beginBody() {
	frameType := mstp.FrameType(f.headerBuf[0])
	dest := f.headerBuf[1]
	src := f.headerBuf[2]
	dataLen := int(f.headerBuf[3])<<8 | int(f.headerBuf[4])

	f.pending = mstp.Frame{Type: frameType, Destination: dest, Source: src}
	f.dataLen = dataLen

	if dataLen == 0 {
		f.complete(nil)
		return
	}

	f.dataCRC = crc.NewData16()
	f.dataIdx = 0
	f.tooLong = dataLen > f.bufCapacity
	if f.tooLong {
		f.dataBuf = nil
	} else {
		f.dataBuf = make([]byte, 0, dataLen)
	}
	f.state = StateData
}

// complete finishes a validated frame, classifying it as addressed to this
// station or not, and returns the FSM to IDLE.
func (f *FSM) complete(data []byte) {
	fr := f.pending
	if len(data) > 0 {
		fr.Data = append([]byte(nil), data...)
	}
	f.state = StateIdle
	if mstp.AddressedTo(fr.Destination, f.ts) {
		f.setEvent(EventValidFrame, fr)
		f.logger.Debug("received valid frame", "type", fr.Type.String(), "src", fr.Source)
	} else {
		f.setEvent(EventValidFrameNotForUs, fr)
	}
}

// abort returns the FSM to IDLE, optionally surfacing ReceivedInvalidFrame.
func (f *FSM) abort(invalid bool) {
	if invalid {
		f.setEvent(EventInvalidFrame, mstp.Frame{})
	}
	f.state = StateIdle
	f.headerIdx = 0
	f.dataBuf = nil
	f.dataIdx = 0
	f.dataCRCIdx = 0
	f.tooLong = false
}

func (f *FSM) setEvent(e Event, fr mstp.Frame) {
	f.lastEvent = e
	f.lastFrame = fr
}
