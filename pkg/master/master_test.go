package master

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mstp "github.com/bacnet-stack/mstp-core"
	"github.com/bacnet-stack/mstp-core/pkg/queue"
	"github.com/bacnet-stack/mstp-core/pkg/receiver"
	"github.com/bacnet-stack/mstp-core/pkg/silence"
)

// fakeSender records every frame the FSM transmits; it never synthesizes a
// reply, modeling a silent ring.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentFrame
}

type sentFrame struct {
	Type mstp.FrameType
	Dest uint8
	Data []byte
}

func (s *fakeSender) Send(frameType mstp.FrameType, destination uint8, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentFrame{frameType, destination, data})
	return nil
}

func (s *fakeSender) count(t mstp.FrameType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.sent {
		if f.Type == t {
			n++
		}
	}
	return n
}

func testConfig(ts, maxMaster uint8) *mstp.PortConfig {
	cfg := mstp.NewPortConfig(ts)
	cfg.MaxMaster = maxMaster
	cfg.TUsageTimeout = 3 * time.Millisecond
	cfg.TReplyTimeout = 3 * time.Millisecond
	cfg.TSlot = 1 * time.Millisecond
	cfg.TFrameAbort = 3 * time.Millisecond
	cfg.TReplyDelay = 3 * time.Millisecond
	cfg.TNoTokenBase = 5 * time.Millisecond
	cfg.NretryToken = 1
	return cfg
}

func runUntil(t *testing.T, tick func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tick() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestInitializeEntersIdle(t *testing.T) {
	cfg := testConfig(5, 10)
	s := silence.New()
	m := New(cfg, s, queue.New(8), &fakeSender{}, nil)
	m.Step()
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, uint8(5), m.Ns())
}

// TestSilentRingDeclaresSoleMaster mirrors scenario 5: on a silent ring the
// lone master eventually sweeps the full address range with
// POLL_FOR_MASTER and declares itself sole master.
func TestSilentRingDeclaresSoleMaster(t *testing.T) {
	cfg := testConfig(5, 10)
	s := silence.New()
	sender := &fakeSender{}
	m := New(cfg, s, queue.New(8), sender, nil)

	runUntil(t, func() bool {
		m.Step()
		return m.SoleMaster()
	}, 2*time.Second)

	assert.Equal(t, StateUseToken, m.State())
	assert.Equal(t, uint8(5), m.Ns())
	assert.GreaterOrEqual(t, sender.count(mstp.FramePollForMaster), 1)
}

func TestTokenReceiptEntersUseToken(t *testing.T) {
	cfg := testConfig(5, 10)
	s := silence.New()
	m := New(cfg, s, queue.New(8), &fakeSender{}, nil)
	m.Step() // INITIALIZE -> IDLE

	m.HandleEvent(receiver.EventValidFrame, mstp.Frame{Type: mstp.FrameToken, Destination: 5, Source: 4})
	assert.Equal(t, StateUseToken, m.State())
}

func TestPollForMasterRepliesWithRPFM(t *testing.T) {
	cfg := testConfig(5, 10)
	s := silence.New()
	sender := &fakeSender{}
	m := New(cfg, s, queue.New(8), sender, nil)
	m.Step()

	m.HandleEvent(receiver.EventValidFrame, mstp.Frame{Type: mstp.FramePollForMaster, Destination: 5, Source: 2})
	assert.Equal(t, 1, sender.count(mstp.FrameReplyToPollForMaster))
	assert.Equal(t, StateIdle, m.State())
}

func TestUseTokenTransmitsQueuedDNER(t *testing.T) {
	cfg := testConfig(5, 10)
	s := silence.New()
	q := queue.New(8)
	require.NoError(t, q.Enqueue(queue.Entry{DestinationMAC: 9, Data: []byte("hi")}))
	sender := &fakeSender{}
	m := New(cfg, s, q, sender, nil)
	m.Step() // -> IDLE
	m.HandleEvent(receiver.EventValidFrame, mstp.Frame{Type: mstp.FrameToken, Destination: 5, Source: 4})
	require.Equal(t, StateUseToken, m.State())

	m.Step()
	assert.Equal(t, 1, sender.count(mstp.FrameDataNotExpectingReply))
	assert.Equal(t, 0, q.Len())
}

func TestAnswerDataRequestSendsReplyPostponedWhenNoMatch(t *testing.T) {
	cfg := testConfig(5, 10)
	s := silence.New()
	sender := &fakeSender{}
	m := New(cfg, s, queue.New(8), sender, nil)
	m.Step()
	m.HandleEvent(receiver.EventValidFrame, mstp.Frame{Type: mstp.FrameDataExpectingReply, Destination: 5, Source: 9})
	require.Equal(t, StateAnswerDataRequest, m.State())

	runUntil(t, func() bool {
		m.Step()
		return sender.count(mstp.FrameReplyPostponed) == 1
	}, time.Second)
	assert.Equal(t, StateIdle, m.State())
}
