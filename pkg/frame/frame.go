// Package frame implements the MS/TP wire codec (C2): building a complete
// frame buffer for transmission, and parsing a complete buffer back into a
// mstp.Frame for round-trip testing. The octet-at-a-time incremental parse
// used on the receive path lives in pkg/receiver, which folds the same CRC
// rules in as octets arrive rather than over a fully-buffered slice.
package frame

import (
	"encoding/binary"
	"errors"

	mstp "github.com/bacnet-stack/mstp-core"
	"github.com/bacnet-stack/mstp-core/internal/crc"
)

const (
	Preamble1 = 0x55
	Preamble2 = 0xFF

	// headerLen is the number of header octets the header CRC folds in:
	// frame_type, destination, source, length_hi, length_lo.
	headerLen = 5
	// minFrameLen is preamble + header + header CRC, the shortest legal
	// frame (no data).
	minFrameLen = 2 + headerLen + 1
)

var (
	ErrShortBuffer = errors.New("frame: buffer too small")
	ErrBadPreamble = errors.New("frame: bad preamble")
	ErrHeaderCRC   = errors.New("frame: header CRC mismatch")
	ErrDataCRC     = errors.New("frame: data CRC mismatch")
)

// Build lays down a complete frame into dst and returns the number of
// bytes written. dst must be at least Size(len(data)) bytes.
func Build(dst []byte, frameType mstp.FrameType, destination, source uint8, data []byte) (int, error) {
	if len(data) > mstp.MaxDataLength {
		return 0, mstp.ErrBufferExceeded
	}
	total := Size(len(data))
	if len(dst) < total {
		return 0, ErrShortBuffer
	}

	dst[0] = Preamble1
	dst[1] = Preamble2
	dst[2] = byte(frameType)
	dst[3] = destination
	dst[4] = source
	binary.BigEndian.PutUint16(dst[5:7], uint16(len(data)))

	hc := crc.NewHeader8()
	for _, b := range dst[2:7] {
		hc = hc.Single(b)
	}
	dst[7] = crc.HeaderOctet(hc)

	n := minFrameLen
	if len(data) > 0 {
		copy(dst[n:], data)
		dc := crc.NewData16()
		for _, b := range data {
			dc = dc.Single(b)
		}
		octets := crc.DataOctets(dc)
		dst[n+len(data)] = octets[0]
		dst[n+len(data)+1] = octets[1]
		n += len(data) + 2
	}
	return n, nil
}

// Size returns the total wire length of a frame carrying dataLen data
// octets, including preamble, header, and CRCs.
func Size(dataLen int) int {
	if dataLen == 0 {
		return minFrameLen
	}
	return minFrameLen + dataLen + 2
}

// Decode parses a single complete frame (including preamble) from buf and
// returns the frame and the number of bytes consumed. It exists for
// round-trip testing of Build and for callers that already have a whole
// frame buffered; the incremental receive path does not use it.
func Decode(buf []byte) (mstp.Frame, int, error) {
	if len(buf) < minFrameLen {
		return mstp.Frame{}, 0, ErrShortBuffer
	}
	if buf[0] != Preamble1 || buf[1] != Preamble2 {
		return mstp.Frame{}, 0, ErrBadPreamble
	}

	hc := crc.NewHeader8()
	for _, b := range buf[2:7] {
		hc = hc.Single(b)
	}
	hc = hc.Single(buf[7])
	if !hc.Valid() {
		return mstp.Frame{}, 0, ErrHeaderCRC
	}

	f := mstp.Frame{
		Type:        mstp.FrameType(buf[2]),
		Destination: buf[3],
		Source:      buf[4],
	}
	dataLen := int(binary.BigEndian.Uint16(buf[5:7]))
	if dataLen == 0 {
		return f, minFrameLen, nil
	}

	total := minFrameLen + dataLen + 2
	if len(buf) < total {
		return mstp.Frame{}, 0, ErrShortBuffer
	}
	data := buf[minFrameLen : minFrameLen+dataLen]
	dc := crc.NewData16()
	for _, b := range data {
		dc = dc.Single(b)
	}
	dc = dc.Single(buf[minFrameLen+dataLen])
	dc = dc.Single(buf[minFrameLen+dataLen+1])
	if !dc.Valid() {
		return mstp.Frame{}, 0, ErrDataCRC
	}
	f.Data = append([]byte(nil), data...)
	return f, total, nil
}
