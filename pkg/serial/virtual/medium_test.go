package virtual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusRelaysBetweenPeers(t *testing.T) {
	medium, err := NewMedium()
	require.NoError(t, err)
	defer medium.Close()

	a, err := Dial(medium.Addr())
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(medium.Addr())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send([]byte{0x55, 0xFF, 0x00}))

	assert.Eventually(t, func() bool {
		octet, ok := b.PollOctet()
		return ok && octet == 0x55
	}, time.Second, time.Millisecond)
}

func TestBusDoesNotEchoOwnTraffic(t *testing.T) {
	medium, err := NewMedium()
	require.NoError(t, err)
	defer medium.Close()

	a, err := Dial(medium.Addr())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Send([]byte{0x01}))
	time.Sleep(20 * time.Millisecond)
	_, ok := a.PollOctet()
	assert.False(t, ok)
}
