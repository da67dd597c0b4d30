package conn

import (
	"time"

	"github.com/gorilla/websocket"
)

// WatchPongs arms a read deadline on ws and pushes it forward on every pong,
// so a peer that stops answering pings fails the next read.
func WatchPongs(ws *websocket.Conn, timeout time.Duration) {
	ws.SetReadDeadline(time.Now().Add(timeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(timeout))
	})
}
