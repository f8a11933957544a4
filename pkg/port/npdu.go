package port

// npduPrefix is the minimum NPDU/APDU prefix the DER matcher needs:
// protocol version, invoke_id, and service_choice, without pulling in a
// full application-layer decoder. Routing fields (DNET/DLEN/DADR/SNET/
// SLEN/SADR/hop count) are not decoded: MS/TP MAC-level source/
// destination already serves as the address-equality check C8 needs for
// directly-connected stations.
type npduPrefix struct {
	valid          bool
	protocolVer    uint8
	pduType        apduType
	invokeID       uint8
	serviceChoice  uint8
	hasServiceID   bool
}

type apduType uint8

const (
	apduConfirmedRequest apduType = 0x0
	apduUnconfirmed      apduType = 0x1
	apduSimpleACK        apduType = 0x2
	apduComplexACK       apduType = 0x3
	apduSegmentACK       apduType = 0x4
	apduError            apduType = 0x5
	apduReject           apduType = 0x6
	apduAbort            apduType = 0x7
)

// networkLayerMessageBit is NPCI control bit 0x80: when set, the NSDU
// carries a network-layer message rather than an APDU, and there is
// nothing for the DER matcher to compare.
const networkLayerMessageBit = 0x80

// decodeNPDUPrefix parses the two-octet NPCI header (protocol version,
// control) and, when an APDU follows, the handful of leading APDU octets
// the matcher needs. It assumes unsegmented PDUs.
func decodeNPDUPrefix(data []byte) npduPrefix {
	if len(data) < 2 {
		return npduPrefix{}
	}
	p := npduPrefix{valid: true, protocolVer: data[0]}
	control := data[1]
	if control&networkLayerMessageBit != 0 {
		return npduPrefix{} // network-layer message, not an APDU exchange
	}

	apdu := data[2:]
	if len(apdu) == 0 {
		return npduPrefix{}
	}
	p.pduType = apduType(apdu[0] >> 4)

	switch p.pduType {
	case apduConfirmedRequest:
		if len(apdu) < 4 {
			return npduPrefix{}
		}
		p.invokeID = apdu[2]
		p.serviceChoice = apdu[3]
		p.hasServiceID = true
	case apduSimpleACK, apduComplexACK, apduError:
		if len(apdu) < 3 {
			return npduPrefix{}
		}
		p.invokeID = apdu[1]
		p.serviceChoice = apdu[2]
		p.hasServiceID = true
	case apduSegmentACK:
		if len(apdu) < 2 {
			return npduPrefix{}
		}
		p.invokeID = apdu[1]
	case apduReject, apduAbort:
		if len(apdu) < 2 {
			return npduPrefix{}
		}
		p.invokeID = apdu[1]
	default:
		return npduPrefix{}
	}
	return p
}

// isReplyTo reports whether reply is the queued reply the core should
// transmit for request: the request must decode as a confirmed request,
// the reply as one of {simple-ack, complex-ack, error, reject, abort}, and
// invoke_id plus protocol_version must match. service_choice is compared
// only for simple-ack/complex-ack/error: abort and reject replies match
// on invoke_id alone.
func isReplyTo(reply, request npduPrefix) bool {
	if !reply.valid || !request.valid {
		return false
	}
	if request.pduType != apduConfirmedRequest {
		return false
	}
	switch reply.pduType {
	case apduSimpleACK, apduComplexACK, apduError, apduReject, apduAbort:
	default:
		return false
	}
	if reply.protocolVer != request.protocolVer || reply.invokeID != request.invokeID {
		return false
	}
	if reply.pduType == apduReject || reply.pduType == apduAbort {
		return true
	}
	return reply.hasServiceID && request.hasServiceID && reply.serviceChoice == request.serviceChoice
}
