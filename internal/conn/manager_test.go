package conn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatlink/internal/protocol"
)

type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *recorder) handle(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeDialer, *fakeScheduler, *recorder) {
	t.Helper()
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	rec := &recorder{}
	base := []Option{WithDialer(dialer), WithScheduler(sched), WithEventHandler(rec.handle)}
	m := NewManager("ws://test/ws/chat", append(base, opts...)...)
	t.Cleanup(m.Disconnect)
	return m, dialer, sched, rec
}

func drainStatuses(m *Manager) []Status {
	var out []Status
	for {
		select {
		case s := <-m.StatusChanges():
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for n, d := range want {
		assert.Equal(t, d, b.Delay(n), "attempt %d", n)
	}
	assert.Equal(t, 10*time.Second, b.Delay(1000))
	assert.Equal(t, time.Second, b.Delay(-1))
	assert.Equal(t, time.Second, Backoff{}.Delay(0))

	custom := Backoff{Base: 100 * time.Millisecond, Max: 250 * time.Millisecond}
	assert.Equal(t, 200*time.Millisecond, custom.Delay(1))
	assert.Equal(t, 250*time.Millisecond, custom.Delay(2))
}

func TestConnectOpens(t *testing.T) {
	m, dialer, sched, _ := newTestManager(t)
	assert.Equal(t, StatusDisconnected, m.Status())

	m.Connect(context.Background())

	assert.Equal(t, StatusConnected, m.Status())
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, 0, m.Attempt())
	assert.Empty(t, sched.delays())
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, drainStatuses(m))
}

func TestConnectIsIdempotent(t *testing.T) {
	m, dialer, _, _ := newTestManager(t)

	m.Connect(context.Background())
	m.Connect(context.Background())
	m.Connect(context.Background())

	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, StatusConnected, m.Status())
}

func TestReconnectDelaysDoubleUntilOpen(t *testing.T) {
	m, dialer, sched, _ := newTestManager(t)
	dialer.setFail(true)

	m.Connect(context.Background())
	for i := 0; i < 3; i++ {
		sched.fireLast()
	}

	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
	}, sched.delays())
	assert.Equal(t, 4, m.Attempt())
	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Equal(t, 4, dialer.dialCount())

	t.Run("Capped At Ten Seconds", func(t *testing.T) {
		sched.fireLast()
		sched.fireLast()
		delays := sched.delays()
		assert.Equal(t, 10*time.Second, delays[len(delays)-1])
		assert.Equal(t, 10*time.Second, delays[len(delays)-2])
	})

	t.Run("Resets After Open", func(t *testing.T) {
		dialer.setFail(false)
		sched.fireLast()
		require.Equal(t, StatusConnected, m.Status())
		assert.Equal(t, 0, m.Attempt())

		before := len(sched.delays())
		dialer.last().Close()

		require.Eventually(t, func() bool {
			return len(sched.delays()) == before+1
		}, time.Second, 5*time.Millisecond)
		delays := sched.delays()
		assert.Equal(t, time.Second, delays[len(delays)-1])
		assert.Equal(t, StatusDisconnected, m.Status())
	})
}

func TestStatusTransitionsFollowLifecycle(t *testing.T) {
	m, dialer, sched, _ := newTestManager(t)

	m.Connect(context.Background())
	dialer.last().Close()
	require.Eventually(t, func() bool { return m.Status() == StatusDisconnected }, time.Second, 5*time.Millisecond)

	dialer.setFail(true)
	sched.fireLast()
	dialer.setFail(false)
	sched.fireLast()

	assert.Equal(t, []Status{
		StatusConnecting, StatusConnected,
		StatusDisconnected,
		StatusConnecting, StatusDisconnected,
		StatusConnecting, StatusConnected,
	}, drainStatuses(m))
}

func TestEveryCloseSchedulesRetry(t *testing.T) {
	m, dialer, sched, _ := newTestManager(t)

	m.Connect(context.Background())
	tr := dialer.last()
	tr.Close()

	require.Eventually(t, func() bool { return sched.pending() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Equal(t, 1, m.Attempt())

	sched.fireLast()
	assert.Equal(t, StatusConnected, m.Status())
	assert.Equal(t, 2, dialer.dialCount())
	assert.NotSame(t, tr, dialer.last())
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	m, dialer, sched, _ := newTestManager(t)
	dialer.setFail(true)

	m.Connect(context.Background())
	sched.fireLast()
	require.Equal(t, 1, sched.pending())
	pending := sched.lastTimer()

	m.Disconnect()

	assert.Equal(t, 0, sched.pending())
	assert.True(t, pending.stopped)
	assert.Equal(t, 0, m.Attempt())
	assert.Equal(t, StatusDisconnected, m.Status())

	// A callback that raced the cancel must not reconnect.
	pending.fn()
	assert.Equal(t, 2, dialer.dialCount())
	assert.Equal(t, StatusDisconnected, m.Status())

	dialer.setFail(false)
	m.Connect(context.Background())
	assert.Equal(t, StatusConnected, m.Status())
}

func TestDisconnectClosesTransport(t *testing.T) {
	m, dialer, sched, _ := newTestManager(t)

	m.Connect(context.Background())
	tr := dialer.last()
	m.Disconnect()

	assert.True(t, tr.isClosed())
	assert.Equal(t, StatusDisconnected, m.Status())

	// The superseded read loop must not schedule a retry.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sched.delays())
}

func TestMaxAttempts(t *testing.T) {
	m, dialer, sched, _ := newTestManager(t, WithMaxAttempts(2))
	dialer.setFail(true)

	m.Connect(context.Background())
	sched.fireLast()
	sched.fireLast()

	assert.Len(t, sched.delays(), 2)
	assert.Equal(t, 0, sched.pending())
	assert.Equal(t, StatusDisconnected, m.Status())

	// Manual connect is still possible.
	dialer.setFail(false)
	m.Connect(context.Background())
	assert.Equal(t, StatusConnected, m.Status())
}

func TestInboundEvents(t *testing.T) {
	m, dialer, _, rec := newTestManager(t)
	m.Connect(context.Background())
	tr := dialer.last()

	tr.in <- []byte(`{"type":"rag_context","data":{"results_count":2}}`)
	tr.in <- []byte(`{not json`)
	tr.in <- []byte(`{"type":"typing","data":{}}`)
	tr.in <- []byte(`{"type":"reply","data":{"content":"hi there"}}`)

	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, 5*time.Millisecond)
	events := rec.all()
	assert.Equal(t, protocol.TypeRagContext, events[0].Type)
	assert.Equal(t, protocol.TypeReply, events[1].Type)

	require.Eventually(t, func() bool { return m.Stats().DecodeFailures == 2 }, time.Second, 5*time.Millisecond)
	stats := m.Stats()
	assert.Equal(t, int64(2), stats.EventsReceived)
	assert.Equal(t, StatusConnected, stats.Status)
	assert.Equal(t, StatusConnected, m.Status())
}

func TestSend(t *testing.T) {
	t.Run("Dropped When Not Open", func(t *testing.T) {
		m, _, _, _ := newTestManager(t)

		assert.ErrorIs(t, m.Send("hello", "alice", ""), ErrNotConnected)
		assert.ErrorIs(t, m.SendRaw(map[string]any{"type": "auth_completed"}), ErrNotConnected)
		assert.Equal(t, int64(2), m.Stats().OutboundDropped)
	})

	t.Run("Dropped After Failed Dial", func(t *testing.T) {
		m, dialer, _, _ := newTestManager(t)
		dialer.setFail(true)
		m.Connect(context.Background())

		assert.ErrorIs(t, m.Send("hello", "alice", ""), ErrNotConnected)
		assert.Equal(t, 1, dialer.dialCount())
	})

	t.Run("Writes When Open", func(t *testing.T) {
		m, dialer, _, _ := newTestManager(t)
		m.Connect(context.Background())

		require.NoError(t, m.Send("hello", "alice", ""))
		require.NoError(t, m.Send("again", "alice", "conv_1"))
		require.NoError(t, m.SendRaw(protocol.NewAuthCompleted("alice", "conv_1").Payload()))

		msgs := dialer.last().messages()
		require.Len(t, msgs, 3)
		assert.JSONEq(t, `{"message":"hello","user_id":"alice"}`, msgs[0])
		assert.JSONEq(t, `{"message":"again","user_id":"alice","conversation_id":"conv_1"}`, msgs[1])
		assert.JSONEq(t, `{"type":"auth_completed","user_id":"alice","conversation_id":"conv_1"}`, msgs[2])
	})

	t.Run("Write Failure Closes Transport", func(t *testing.T) {
		m, dialer, sched, _ := newTestManager(t)
		m.Connect(context.Background())
		tr := dialer.last()
		tr.writeErr = errTransportClosed

		assert.Error(t, m.Send("hello", "alice", ""))
		assert.True(t, tr.isClosed())
		require.Eventually(t, func() bool { return sched.pending() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, StatusDisconnected, m.Status())
	})
}
