// Package crc implements the two checksum accumulators used on the MS/TP
// wire: an 8-bit header CRC and a 16-bit data CRC, per the BACnet Annex G
// definitions.
package crc

// Header8 accumulates the 8-bit header CRC over frame_type, destination,
// source and the two length octets. Seed a new accumulator with
// NewHeader8 before folding in octets.
type Header8 uint8

const header8Poly = 0x4C

// NewHeader8 returns the seed value for a header CRC accumulation.
func NewHeader8() Header8 {
	return 0xFF
}

// Single folds one octet into the accumulator and returns the updated
// value.
func (c Header8) Single(dataValue uint8) Header8 {
	crc := uint8(c) ^ dataValue
	for i := 0; i < 8; i++ {
		if crc&1 != 0 {
			crc = (crc >> 1) ^ header8Poly
		} else {
			crc >>= 1
		}
	}
	return Header8(crc)
}

// Valid reports whether the accumulator, after folding in the received
// header CRC octet, equals the fixed point required by the protocol.
func (c Header8) Valid() bool {
	return c == 0x55
}

// HeaderOctet returns the ones-complement octet to transmit as the
// header CRC, given the accumulator over the five preceding header octets.
func HeaderOctet(c Header8) uint8 {
	return uint8(^c)
}

// Data16 accumulates the 16-bit data CRC over the frame's data octets.
// Seed a new accumulator with NewData16.
type Data16 uint16

// NewData16 returns the seed value for a data CRC accumulation.
func NewData16() Data16 {
	return 0xFFFF
}

// Single folds one octet into the accumulator and returns the updated
// value.
func (c Data16) Single(dataValue uint8) Data16 {
	crcLow := uint8(c) ^ dataValue
	crcLow ^= crcLow << 4
	crc := (uint16(c) >> 8) ^ (uint16(crcLow) << 8) ^ (uint16(crcLow) << 3) ^ (uint16(crcLow) >> 4)
	return Data16(crc)
}

// Valid reports whether the accumulator, after folding in the two received
// data CRC octets, equals the fixed point required by the protocol.
func (c Data16) Valid() bool {
	return c == 0xF0B8
}

// DataOctets returns the two little-endian ones-complement octets to
// transmit as the data CRC, given the accumulator over all data octets.
func DataOctets(c Data16) [2]byte {
	v := ^uint16(c)
	return [2]byte{byte(v), byte(v >> 8)}
}
