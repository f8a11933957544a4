package silence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResetAndSince(t *testing.T) {
	timer := New()
	time.Sleep(5 * time.Millisecond)
	assert.True(t, timer.Exceeds(4*time.Millisecond))

	timer.Reset()
	assert.False(t, timer.Exceeds(4*time.Millisecond))
}

func TestMillisecondsMonotonicallyIncreases(t *testing.T) {
	timer := New()
	first := timer.Milliseconds()
	time.Sleep(3 * time.Millisecond)
	second := timer.Milliseconds()
	assert.GreaterOrEqual(t, second, first)
}
