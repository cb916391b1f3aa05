package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/broadcast"
	"github.com/Additional-Code/foodpass/internal/presentation/http/response"
	"github.com/Additional-Code/foodpass/internal/service/policy"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler upgrades subscribers to websockets fed by the broadcast hub.
type Handler struct {
	hub      *broadcast.Hub
	policies *policy.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler constructs a stream Handler.
func NewHandler(hub *broadcast.Hub, policies *policy.Service, logger *zap.Logger) *Handler {
	return &Handler{
		hub:      hub,
		policies: policies,
		logger:   logger.Named("stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/ws/events/:code")
	g.GET("/orders", h.serve(broadcast.OrdersTopic))
	g.GET("/vendor-status", h.serve(broadcast.VendorStatusTopic))
}

func (h *Handler) serve(topicFor func(string) string) echo.HandlerFunc {
	return func(c echo.Context) error {
		event, err := h.policies.Event(c.Request().Context(), c.Param("code"))
		if err != nil {
			return response.New(c).WithError(err).Build()
		}

		conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return nil
		}

		topic := topicFor(event.Code)
		sub := h.hub.Subscribe(topic)
		h.logger.Info("subscriber connected", zap.String("topic", topic), zap.Int("subscribers", h.hub.Subscribers(topic)))

		go h.readPump(conn, sub)
		h.writePump(conn, sub)

		h.logger.Info("subscriber disconnected",
			zap.String("topic", topic),
			zap.Int64("dropped", sub.Dropped()),
		)
		return nil
	}
}

// readPump discards client frames and closes the subscription once the peer
// goes away.
func (h *Handler) readPump(conn *websocket.Conn, sub *broadcast.Subscription) {
	defer sub.Close()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *broadcast.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
