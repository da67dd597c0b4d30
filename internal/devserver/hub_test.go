package devserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(id string, buffer int) *Connection {
	return &Connection{ID: id, Send: make(chan []byte, buffer)}
}

func TestHub(t *testing.T) {
	t.Run("Register And Bind User", func(t *testing.T) {
		h := NewHub(nil)
		go h.Run()
		defer h.Stop()

		c := newTestConnection("c1", 4)
		h.Register(c)
		assert.Equal(t, 1, h.GetConnectionCount())
		assert.Equal(t, 0, h.GetUserCount())
		assert.False(t, h.HasActiveConnections("u1"))

		h.BindUser(c, "u1")
		assert.Equal(t, 1, h.GetUserCount())
		assert.True(t, h.HasActiveConnections("u1"))

		h.BindUser(c, "u2")
		assert.False(t, h.HasActiveConnections("u1"))
		assert.True(t, h.HasActiveConnections("u2"))
		assert.Equal(t, 1, h.GetUserCount())
	})

	t.Run("Send To Connection", func(t *testing.T) {
		h := NewHub(nil)
		go h.Run()
		defer h.Stop()

		c := newTestConnection("c1", 1)
		h.Register(c)

		require.NoError(t, h.SendJSONToConnection(c, map[string]string{"type": "reply"}))
		assert.ErrorIs(t, h.SendJSONToConnection(c, map[string]string{"type": "reply"}), ErrBufferFull)

		var got map[string]string
		require.NoError(t, json.Unmarshal(<-c.Send, &got))
		assert.Equal(t, "reply", got["type"])
	})

	t.Run("Broadcast Reaches Every Connection Of User", func(t *testing.T) {
		h := NewHub(nil)
		go h.Run()
		defer h.Stop()

		a := newTestConnection("a", 4)
		b := newTestConnection("b", 4)
		other := newTestConnection("other", 4)
		for _, c := range []*Connection{a, b, other} {
			h.Register(c)
		}
		h.BindUser(a, "u1")
		h.BindUser(b, "u1")
		h.BindUser(other, "u2")

		require.NoError(t, h.BroadcastJSON("u1", map[string]string{"type": "error"}))

		for _, c := range []*Connection{a, b} {
			select {
			case msg := <-c.Send:
				assert.JSONEq(t, `{"type":"error"}`, string(msg))
			case <-time.After(time.Second):
				t.Fatalf("connection %s received nothing", c.ID)
			}
		}
		assert.Empty(t, other.Send)
	})

	t.Run("Unregister Closes Send Channel", func(t *testing.T) {
		h := NewHub(nil)
		go h.Run()
		defer h.Stop()

		c := newTestConnection("c1", 1)
		h.Register(c)
		h.BindUser(c, "u1")
		h.Unregister(c)

		assert.Eventually(t, func() bool {
			return h.GetConnectionCount() == 0 && h.GetUserCount() == 0
		}, time.Second, 10*time.Millisecond)

		_, ok := <-c.Send
		assert.False(t, ok)

		// Sending to a removed connection is silently skipped.
		assert.NoError(t, h.SendJSONToConnection(c, map[string]string{"type": "reply"}))
	})

	t.Run("Stop Unblocks Callers", func(t *testing.T) {
		h := NewHub(nil)
		go h.Run()
		h.Stop()
		h.Stop()

		done := make(chan struct{})
		go func() {
			h.Unregister(newTestConnection("c1", 1))
			_ = h.BroadcastJSON("u1", map[string]string{})
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("hub calls blocked after Stop")
		}
	})
}

func TestScript(t *testing.T) {
	t.Run("Mentioned Toolkit", func(t *testing.T) {
		s := newScript([]string{" Gmail ", "", "github"})
		assert.Equal(t, "gmail", s.mentionedToolkit("check my GMAIL inbox"))
		assert.Equal(t, "github", s.mentionedToolkit("open a github issue"))
		assert.Empty(t, s.mentionedToolkit("hello there"))
	})

	t.Run("Authorize Is Per User", func(t *testing.T) {
		s := newScript([]string{"gmail"})
		s.authorize("u1", "gmail")
		assert.True(t, s.isAuthorized("u1", "gmail"))
		assert.False(t, s.isAuthorized("u2", "gmail"))
	})

	t.Run("Resume Requires Matching User", func(t *testing.T) {
		s := newScript([]string{"gmail"})
		s.park("conv_1", pendingTurn{UserID: "u1", Toolkit: "gmail", Message: "check gmail"})

		_, ok := s.resume("conv_1", "u2")
		assert.False(t, ok)

		turn, ok := s.resume("conv_1", "u1")
		require.True(t, ok)
		assert.Equal(t, "gmail", turn.Toolkit)

		_, ok = s.resume("conv_1", "u1")
		assert.False(t, ok, "a turn resumes once")
	})
}
