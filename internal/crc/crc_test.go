package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeader8AnnexGExample(t *testing.T) {
	// 0x55 0xFF 0x00 0x10 0x05 0x00 0x00 0x8C - Annex G sample frame,
	// header octets frame_type=0x00, dest=0x10, src=0x05, len=0x0000.
	// The accumulator over the five header octets is 0x73; the
	// transmitted CRC octet is its ones-complement, 0x8C.
	c := NewHeader8()
	for _, b := range []uint8{0x00, 0x10, 0x05, 0x00, 0x00} {
		c = c.Single(b)
	}
	assert.Equal(t, Header8(0x73), c)
	assert.Equal(t, uint8(0x8C), HeaderOctet(c))

	c = c.Single(0x8C)
	assert.True(t, c.Valid())
}

func TestHeader8RejectsCorruptCRC(t *testing.T) {
	c := NewHeader8()
	for _, b := range []uint8{0x00, 0x10, 0x05, 0x00, 0x00} {
		c = c.Single(b)
	}
	c = c.Single(0x00)
	assert.False(t, c.Valid())
}

func TestData16ResidueInvariant(t *testing.T) {
	data := []uint8{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03}
	c := NewData16()
	for _, b := range data {
		c = c.Single(b)
	}
	octets := DataOctets(c)
	c = c.Single(octets[0])
	c = c.Single(octets[1])
	assert.True(t, c.Valid())
}

func TestData16EmptyPayloadResidue(t *testing.T) {
	c := NewData16()
	octets := DataOctets(c)
	c = c.Single(octets[0])
	c = c.Single(octets[1])
	assert.True(t, c.Valid())
}
