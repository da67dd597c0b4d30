package devserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatlink/internal/metrics"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"connections": s.hub.GetConnectionCount(),
		"users":       s.hub.GetUserCount(),
	})
}

// SendRequest represents the request body for POST /internal/send.
type SendRequest struct {
	UserID string         `json:"user_id"`
	Event  map[string]any `json:"event"`
}

// SendResponse represents the response for POST /internal/send.
type SendResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// DropResponse represents the response for POST /internal/drop.
type DropResponse struct {
	OK     bool `json:"ok"`
	Closed int  `json:"closed"`
}

// handleInternalSend pushes an arbitrary event to every connection of a user.
// The event is forwarded as is so clients can be exercised with bad input.
func (s *Server) handleInternalSend(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}

	if req.Event == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event is required"})
	}

	hasConnections := s.hub.HasActiveConnections(req.UserID)

	if err := s.hub.BroadcastJSON(req.UserID, req.Event); err != nil {
		s.logger.Error("failed to broadcast event", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to broadcast event"})
	}

	typ, _ := req.Event["type"].(string)
	if hasConnections {
		metrics.DevserverEventsSent.WithLabelValues(typ).Inc()
	}
	s.logger.Info("event pushed", zap.String("user_id", req.UserID), zap.String("type", typ), zap.Bool("delivered", hasConnections))

	return c.JSON(http.StatusOK, SendResponse{
		OK:        true,
		Delivered: hasConnections,
	})
}

// handleDrop closes every client connection.
func (s *Server) handleDrop(c echo.Context) error {
	closed := s.hub.CloseAll()
	s.logger.Info("dropped connections", zap.Int("closed", closed))
	return c.JSON(http.StatusOK, DropResponse{OK: true, Closed: closed})
}
