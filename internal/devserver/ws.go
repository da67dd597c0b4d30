package devserver

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatlink/internal/metrics"
	"github.com/xiaot623/gogo/chatlink/internal/protocol"
)

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	authBase := s.opts.AuthBaseURL
	if authBase == "" {
		authBase = "http://" + c.Request().Host
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.opts.MaxMessageSize)

	go s.serve(conn, authBase)

	return nil
}

// serve runs one client until its socket fails, then removes it from the hub.
func (s *Server) serve(conn *Connection, authBase string) {
	go func() {
		if err := conn.drain(s.opts.PingInterval, s.opts.WriteTimeout); err != nil {
			s.logger.Debug("write loop ended", zap.String("conn_id", conn.ID), zap.Error(err))
		}
	}()

	err := conn.receive(s.opts.ReadTimeout, func(frame []byte) {
		s.handleMessage(conn, frame, authBase)
	})
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
		s.logger.Warn("websocket error", zap.String("conn_id", conn.ID), zap.Error(err))
	}

	s.hub.Unregister(conn)
	conn.Close()
}

// handleMessage dispatches a client frame to the chat or resume handler.
func (s *Server) handleMessage(conn *Connection, data []byte, authBase string) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		s.emit(conn, protocol.TypeError, protocol.Payload{"message": "invalid message: " + err.Error()})
		return
	}

	s.hub.BindUser(conn, msg.UserID)

	if msg.IsAuthCompleted() {
		s.handleAuthCompleted(conn, msg)
		return
	}
	s.handleChat(conn, msg, authBase)
}

// handleChat answers an ordinary chat turn, pausing it when it needs an unauthorized toolkit.
func (s *Server) handleChat(conn *Connection, msg protocol.ClientMessage, authBase string) {
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		s.emit(conn, protocol.TypeError, protocol.Payload{"message": "message is required"})
		return
	}

	convID := msg.ConversationID
	if convID == "" {
		convID = "conv_" + uuid.New().String()[:8]
	}

	s.emit(conn, protocol.TypeRagContext, protocol.Payload{
		"results_count":   0,
		"conversation_id": convID,
	})

	toolkit := s.script.mentionedToolkit(text)
	if toolkit == "" {
		s.emit(conn, protocol.TypeReply, protocol.Payload{
			"content":         "You said: " + text,
			"conversation_id": convID,
		})
		return
	}

	s.emit(conn, protocol.TypeToolSearch, protocol.Payload{
		"query":           text,
		"tools_found":     1,
		"toolkits":        []string{toolkit},
		"conversation_id": convID,
	})

	if s.script.isAuthorized(msg.UserID, toolkit) {
		s.emit(conn, protocol.TypeConnectionStatus, protocol.Payload{
			"toolkit":         toolkit,
			"connected":       true,
			"conversation_id": convID,
		})
		s.runTool(conn, convID, toolkit, text)
		return
	}

	s.emit(conn, protocol.TypeConnectionStatus, protocol.Payload{
		"toolkit":         toolkit,
		"connected":       false,
		"requires_auth":   true,
		"conversation_id": convID,
	})

	s.script.park(convID, pendingTurn{UserID: msg.UserID, Toolkit: toolkit, Message: text})

	redirect := fmt.Sprintf("%s/auth/%s?user_id=%s", strings.TrimSuffix(authBase, "/"), url.PathEscape(toolkit), url.QueryEscape(msg.UserID))
	s.emit(conn, protocol.TypeConnectionRequired, protocol.Payload{
		"toolkit":               toolkit,
		"redirect_url":          redirect,
		"connection_request_id": "cr_" + uuid.New().String()[:8],
		"message":               fmt.Sprintf("Please authorize %s to continue", toolkit),
		"conversation_id":       convID,
	})
}

// handleAuthCompleted resumes the turn paused on the conversation.
func (s *Server) handleAuthCompleted(conn *Connection, msg protocol.ClientMessage) {
	turn, ok := s.script.resume(msg.ConversationID, msg.UserID)
	if !ok {
		s.emit(conn, protocol.TypeError, protocol.Payload{
			"message":         "no authorization pending for this conversation",
			"conversation_id": msg.ConversationID,
		})
		return
	}

	s.script.authorize(turn.UserID, turn.Toolkit)

	s.emit(conn, protocol.TypeConnectionWaiting, protocol.Payload{
		"toolkit": turn.Toolkit,
		"message": fmt.Sprintf("Waiting for %s connection...", turn.Toolkit),
	})
	s.emit(conn, protocol.TypeConnectionEstablished, protocol.Payload{
		"toolkit": turn.Toolkit,
		"message": fmt.Sprintf("%s connected", turn.Toolkit),
	})
	s.runTool(conn, msg.ConversationID, turn.Toolkit, turn.Message)
}

func (s *Server) runTool(conn *Connection, convID, toolkit, request string) {
	name := strings.ToUpper(toolkit) + "_EXECUTE"
	s.emit(conn, protocol.TypeToolCall, protocol.Payload{
		"name":            name,
		"arguments":       map[string]any{"request": request},
		"conversation_id": convID,
	})
	s.emit(conn, protocol.TypeToolResult, protocol.Payload{
		"name":            name,
		"result":          map[string]any{"status": "ok"},
		"conversation_id": convID,
	})
	s.emit(conn, protocol.TypeReply, protocol.Payload{
		"content":         fmt.Sprintf("Done with %s: %s", toolkit, request),
		"conversation_id": convID,
	})
}

func (s *Server) emit(conn *Connection, typ protocol.EventType, data protocol.Payload) {
	if err := s.hub.SendJSONToConnection(conn, protocol.NewEvent(typ, data)); err != nil {
		s.logger.Warn("failed to queue event", zap.String("conn_id", conn.ID), zap.String("type", string(typ)), zap.Error(err))
		return
	}
	metrics.DevserverEventsSent.WithLabelValues(string(typ)).Inc()
}

// handleAuthPage stands in for the third-party authorization page.
func (s *Server) handleAuthPage(c echo.Context) error {
	toolkit := c.Param("toolkit")
	return c.String(http.StatusOK, fmt.Sprintf("Authorization for %s complete. Return to the chat and confirm.", toolkit))
}
