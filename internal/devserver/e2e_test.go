package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatlink/internal/conn"
	"github.com/xiaot623/gogo/chatlink/internal/protocol"
	"github.com/xiaot623/gogo/chatlink/internal/session"
	"github.com/xiaot623/gogo/chatlink/internal/transcript"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

type harness struct {
	server  *Server
	http    *httptest.Server
	manager *conn.Manager
	session *session.Session
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	srv := NewServer(opts, nil)
	ts := httptest.NewServer(srv.Handler())

	h := &harness{server: srv, http: ts}
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	h.manager = conn.NewManager(wsURL,
		conn.WithBackoff(conn.Backoff{Base: 20 * time.Millisecond, Max: 80 * time.Millisecond}),
		conn.WithEventHandler(func(ev protocol.Event) { h.session.HandleEvent(ev) }),
	)
	h.session = session.New(h.manager, nil, nil)

	t.Cleanup(func() {
		h.manager.Disconnect()
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return h
}

func (h *harness) lastMessage() (transcript.MessageItem, bool) {
	items := h.session.Snapshot().Items
	for i := len(items) - 1; i >= 0; i-- {
		if m, ok := items[i].(transcript.MessageItem); ok {
			return m, true
		}
	}
	return transcript.MessageItem{}, false
}

func (h *harness) activityKinds() []protocol.EventType {
	var kinds []protocol.EventType
	for _, it := range h.session.Snapshot().Items {
		if a, ok := it.(transcript.ActivityItem); ok {
			kinds = append(kinds, a.Kind)
		}
	}
	return kinds
}

func TestEndToEnd(t *testing.T) {
	t.Run("Plain Reply", func(t *testing.T) {
		h := newHarness(t, Options{})

		require.NoError(t, h.session.SubmitUserID(context.Background(), "u1"))
		require.Equal(t, conn.StatusConnected, h.manager.Status())

		require.NoError(t, h.session.SendText("hello"))
		assert.True(t, h.session.State().Loading)

		require.Eventually(t, func() bool {
			m, ok := h.lastMessage()
			return ok && m.Role == transcript.RoleAssistant
		}, waitFor, tick)

		m, _ := h.lastMessage()
		assert.Equal(t, "You said: hello", m.Content)

		state := h.session.State()
		assert.False(t, state.Loading)
		assert.True(t, strings.HasPrefix(state.ActiveConversationID, "conv_"))
		assert.Equal(t, []protocol.EventType{protocol.TypeRagContext}, h.activityKinds())

		// The follow-up reuses the pinned conversation.
		convID := state.ActiveConversationID
		require.NoError(t, h.session.SendText("again"))
		require.Eventually(t, func() bool {
			m, ok := h.lastMessage()
			return ok && m.Content == "You said: again"
		}, waitFor, tick)
		assert.Equal(t, convID, h.session.State().ActiveConversationID)
	})

	t.Run("Authorization Round Trip", func(t *testing.T) {
		h := newHarness(t, Options{Toolkits: []string{"gmail"}})

		require.NoError(t, h.session.SubmitUserID(context.Background(), "u1"))
		require.NoError(t, h.session.SendText("check my gmail"))

		require.Eventually(t, func() bool {
			return h.session.Pending().Phase == transcript.AuthAwaitingAction
		}, waitFor, tick)

		prompt := h.session.Pending()
		assert.Equal(t, "gmail", prompt.Toolkit)
		assert.Equal(t, h.http.URL+"/auth/gmail?user_id=u1", prompt.RedirectURL)
		assert.True(t, h.session.State().Loading)

		redirect, err := h.session.OpenAuthWindow()
		require.NoError(t, err)
		resp, err := http.Get(redirect)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		require.NoError(t, h.session.ConfirmAuthCompleted())

		require.Eventually(t, func() bool {
			m, ok := h.lastMessage()
			return ok && m.Role == transcript.RoleAssistant
		}, waitFor, tick)

		m, _ := h.lastMessage()
		assert.Equal(t, "Done with gmail: check my gmail", m.Content)
		assert.False(t, h.session.State().Loading)
		assert.Equal(t, []protocol.EventType{
			protocol.TypeRagContext,
			protocol.TypeToolSearch,
			protocol.TypeConnectionStatus,
			protocol.TypeConnectionRequired,
			protocol.TypeConnectionWaiting,
			protocol.TypeConnectionEstablished,
			protocol.TypeToolCall,
			protocol.TypeToolResult,
		}, h.activityKinds())

		// Once authorized, the toolkit runs without a prompt.
		require.NoError(t, h.session.SendText("gmail again"))
		require.Eventually(t, func() bool {
			m, ok := h.lastMessage()
			return ok && m.Content == "Done with gmail: gmail again"
		}, waitFor, tick)
		assert.False(t, h.session.Pending().Pending())
	})

	t.Run("Reconnects After Drop", func(t *testing.T) {
		h := newHarness(t, Options{})

		require.NoError(t, h.session.SubmitUserID(context.Background(), "u1"))
		require.Equal(t, conn.StatusConnected, h.manager.Status())

		resp, err := http.Post(h.http.URL+"/internal/drop", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()

		require.Eventually(t, func() bool {
			return h.manager.Stats().ReconnectsScheduled >= 1 && h.manager.Status() == conn.StatusConnected
		}, waitFor, tick)
		assert.Equal(t, 0, h.manager.Attempt())

		require.NoError(t, h.session.SendText("still there?"))
		require.Eventually(t, func() bool {
			m, ok := h.lastMessage()
			return ok && m.Content == "You said: still there?"
		}, waitFor, tick)
	})

	t.Run("Pushed Events Reach Session", func(t *testing.T) {
		h := newHarness(t, Options{})

		require.NoError(t, h.session.SubmitUserID(context.Background(), "u1"))
		// The hub learns the user from the first frame.
		require.NoError(t, h.session.SendText("hi"))
		require.Eventually(t, func() bool {
			return h.server.Hub().HasActiveConnections("u1")
		}, waitFor, tick)

		body := `{"user_id":"u1","event":{"type":"error","data":{"message":"boom"}}}`
		resp, err := http.Post(h.http.URL+"/internal/send", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()

		require.Eventually(t, func() bool {
			m, ok := h.lastMessage()
			return ok && m.Content == "Error: boom"
		}, waitFor, tick)

		// Unknown tags are dropped by the connection layer.
		body = `{"user_id":"u1","event":{"type":"mystery","data":{}}}`
		resp, err = http.Post(h.http.URL+"/internal/send", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()

		require.Eventually(t, func() bool {
			return h.manager.Stats().DecodeFailures == 1
		}, waitFor, tick)
	})
}

func TestMalformedFrame(t *testing.T) {
	srv := NewServer(Options{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	}()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/chat", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitFor)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "error", ev["type"])
	assert.Contains(t, ev["data"].(map[string]any)["message"], "invalid message")

	// An auth_completed with nothing parked is answered with an error.
	frame := `{"type":"auth_completed","user_id":"u1","conversation_id":"conv_x"}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
	_, data, err = ws.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "error", ev["type"])
}

func TestShutdownReleasesConnections(t *testing.T) {
	srv := NewServer(Options{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/chat", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return srv.Hub().GetConnectionCount() == 1
	}, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	// The connection left the hub before it stopped, so its send queue was
	// closed and the client sees the socket end.
	assert.Equal(t, 0, srv.Hub().GetConnectionCount())
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
}
