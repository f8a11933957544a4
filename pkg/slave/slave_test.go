package slave

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mstp "github.com/bacnet-stack/mstp-core"
	"github.com/bacnet-stack/mstp-core/pkg/queue"
	"github.com/bacnet-stack/mstp-core/pkg/receiver"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []mstp.FrameType
}

func (s *fakeSender) Send(frameType mstp.FrameType, destination uint8, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, frameType)
	return nil
}

func (s *fakeSender) count(t mstp.FrameType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.sent {
		if f == t {
			n++
		}
	}
	return n
}

func TestIgnoresFramesNotForIt(t *testing.T) {
	f := New(130, 5*time.Millisecond, queue.New(4), &fakeSender{}, nil)
	f.HandleEvent(receiver.EventValidFrame, mstp.Frame{Type: mstp.FrameDataExpectingReply, Destination: 131, Source: 5})
	assert.Equal(t, StateIdle, f.State())
}

func TestDERAddressedToUsEntersAnswerState(t *testing.T) {
	f := New(130, 5*time.Millisecond, queue.New(4), &fakeSender{}, nil)
	f.HandleEvent(receiver.EventValidFrame, mstp.Frame{Type: mstp.FrameDataExpectingReply, Destination: 130, Source: 5})
	assert.Equal(t, StateAnswerDataRequest, f.State())
}

func TestAnswersWithQueuedReply(t *testing.T) {
	q := queue.New(4)
	require.NoError(t, q.Enqueue(queue.Entry{DestinationMAC: 5, Data: []byte("ack")}))
	sender := &fakeSender{}
	f := New(130, 5*time.Millisecond, q, sender, nil)
	f.HandleEvent(receiver.EventValidFrame, mstp.Frame{Type: mstp.FrameDataExpectingReply, Destination: 130, Source: 5})
	f.Step()
	assert.Equal(t, StateIdle, f.State())
	assert.Equal(t, 1, sender.count(mstp.FrameDataNotExpectingReply))
}

func TestPostponesWhenNoMatchBeforeDeadline(t *testing.T) {
	sender := &fakeSender{}
	f := New(130, 2*time.Millisecond, queue.New(4), sender, nil)
	f.HandleEvent(receiver.EventValidFrame, mstp.Frame{Type: mstp.FrameDataExpectingReply, Destination: 130, Source: 5})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.Step()
		if f.State() == StateIdle {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, StateIdle, f.State())
	assert.Equal(t, 1, sender.count(mstp.FrameReplyPostponed))
}
