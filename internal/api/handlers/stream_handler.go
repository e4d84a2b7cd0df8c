package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/orchestrator"
)

const (
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser origin checks belong to the CORS layer in front of us.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler pushes widget state events to websocket clients. Each
// connection gets its own subscription on the dashboard's store; a slow
// client drops events rather than stalling the orchestrator.
type StreamHandler struct {
	manager *orchestrator.Manager
	logger  *zap.Logger
}

func NewStreamHandler(manager *orchestrator.Manager, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{manager: manager, logger: logger}
}

func (h *StreamHandler) Stream(c *gin.Context) {
	s, id, ok := h.store(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed",
			zap.String("dashboard_id", id), zap.Error(err))
		return
	}

	events, cancelSub := s.Subscribe()
	defer cancelSub()
	defer conn.Close()

	// Reader goroutine: we never expect client messages, but reading is how
	// websocket close frames surface.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				// Store closed: the dashboard session ended.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "dashboard closed"),
					time.Now().Add(streamWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("Websocket write failed",
					zap.String("dashboard_id", id), zap.Error(err))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *StreamHandler) store(c *gin.Context) (*orchestrator.Store, string, bool) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil, "", false
	}
	s, open := h.manager.Get(id)
	if !open {
		c.JSON(http.StatusNotFound, gin.H{"error": "dashboard is not open"})
		return nil, "", false
	}
	return s, id.String(), true
}
