// Package mstp defines the shared data contracts of the MS/TP datalink
// core: frame types, station addresses, and per-port configuration. The
// state machines and codecs that operate on these types live in the
// sibling pkg/ packages.
package mstp

// FrameType identifies the MS/TP frame types named in the standard. Codes
// 128-255 are proprietary and are forwarded transparently by callers that
// only need to recognize the six core types.
type FrameType uint8

const (
	FrameToken                  FrameType = 0
	FramePollForMaster          FrameType = 1
	FrameReplyToPollForMaster   FrameType = 2
	FrameTestRequest            FrameType = 3
	FrameTestResponse           FrameType = 4
	FrameDataExpectingReply     FrameType = 5
	FrameDataNotExpectingReply  FrameType = 6
	FrameReplyPostponed         FrameType = 7
	FrameProprietaryRangeStart  FrameType = 128
)

func (t FrameType) String() string {
	switch t {
	case FrameToken:
		return "TOKEN"
	case FramePollForMaster:
		return "POLL_FOR_MASTER"
	case FrameReplyToPollForMaster:
		return "REPLY_TO_POLL_FOR_MASTER"
	case FrameTestRequest:
		return "TEST_REQUEST"
	case FrameTestResponse:
		return "TEST_RESPONSE"
	case FrameDataExpectingReply:
		return "BACNET_DATA_EXPECTING_REPLY"
	case FrameDataNotExpectingReply:
		return "BACNET_DATA_NOT_EXPECTING_REPLY"
	case FrameReplyPostponed:
		return "REPLY_POSTPONED"
	default:
		if t >= FrameProprietaryRangeStart {
			return "PROPRIETARY"
		}
		return "UNKNOWN"
	}
}

// Address space constants, per the standard's MAC assignment.
const (
	Broadcast          uint8 = 0xFF
	MaxMasterAddress   uint8 = 127
	MinSlaveAddress    uint8 = 128
	MaxSlaveAddress    uint8 = 254
	ZeroConfigUnset    uint8 = 0xFF
	ZeroConfigMinMAC   uint8 = 64
	ZeroConfigMaxMAC   uint8 = 127
)

// Frame sizing limits.
const (
	MaxDataLength            = 1476
	MinReceiveBufferCapacity = 501
)

// Frame is the semantic record the codec and FSMs exchange once a frame has
// been validated (or is about to be built for transmission). header_crc and
// data_crc are not carried here: they are wire-only fields the codec
// computes and verifies.
type Frame struct {
	Type        FrameType
	Destination uint8
	Source      uint8
	Data        []byte
}

// IsMaster reports whether addr falls in the master address range.
func IsMaster(addr uint8) bool {
	return addr <= MaxMasterAddress
}

// AddressedTo reports whether a frame destined for dst should be consumed by
// a station owning ts (exact match or broadcast).
func AddressedTo(dst, ts uint8) bool {
	return dst == ts || dst == Broadcast
}
