package devserver

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/chatlink/internal/conn"
)

// receive hands each client frame to onFrame until the socket fails and
// returns that failure. Frames and pongs both keep the socket alive.
func (c *Connection) receive(idle time.Duration, onFrame func([]byte)) error {
	conn.WatchPongs(c.Conn, idle)
	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			return err
		}
		c.Conn.SetReadDeadline(time.Now().Add(idle))
		onFrame(frame)
	}
}

// drain writes queued frames and periodic pings. It returns nil once the hub
// closes Send, or the first write error.
func (c *Connection) drain(ping, writeTimeout time.Duration) error {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			if !ok {
				bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = c.write(websocket.CloseMessage, bye, writeTimeout)
				return nil
			}
			if err := c.write(websocket.TextMessage, frame, writeTimeout); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, writeTimeout); err != nil {
				return err
			}
		}
	}
}

func (c *Connection) write(kind int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.Conn.WriteMessage(kind, data)
}
