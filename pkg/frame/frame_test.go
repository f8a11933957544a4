package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mstp "github.com/bacnet-stack/mstp-core"
)

func TestBuildAnnexGTokenFrame(t *testing.T) {
	buf := make([]byte, Size(0))
	n, err := Build(buf, mstp.FrameToken, 0x10, 0x05, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55, 0xFF, 0x00, 0x10, 0x05, 0x00, 0x00, 0x8C}, buf[:n])
}

func TestBuildDecodeRoundTrip(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03}
	buf := make([]byte, Size(len(data)))
	n, err := Build(buf, mstp.FrameDataExpectingReply, 0x7A, 0x05, data)
	require.NoError(t, err)

	got, consumed, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, n, consumed)
	assert.Equal(t, mstp.FrameDataExpectingReply, got.Type)
	assert.Equal(t, uint8(0x7A), got.Destination)
	assert.Equal(t, uint8(0x05), got.Source)
	assert.Equal(t, data, got.Data)
}

func TestDecodeRejectsCorruptHeaderCRC(t *testing.T) {
	buf := []byte{0x55, 0xFF, 0x00, 0x10, 0x05, 0x00, 0x00, 0x00}
	_, _, err := Decode(buf)
	assert.ErrorIs(t, err, ErrHeaderCRC)
}

func TestDecodeRejectsBadPreamble(t *testing.T) {
	buf := []byte{0x55, 0x00, 0x00, 0x10, 0x05, 0x00, 0x00, 0x73}
	_, _, err := Decode(buf)
	assert.ErrorIs(t, err, ErrBadPreamble)
}

func TestBuildRejectsOversizedData(t *testing.T) {
	buf := make([]byte, Size(0))
	_, err := Build(buf, mstp.FrameDataExpectingReply, 0x10, 0x05, make([]byte, mstp.MaxDataLength+1))
	assert.ErrorIs(t, err, mstp.ErrBufferExceeded)
}
