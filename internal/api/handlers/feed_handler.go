package handlers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

// FeedHub fans created alerts out to connected websocket clients. It
// implements the alert factory's Notifier.
type FeedHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// HandleConnection registers the client and pumps broadcast frames to it
// until the connection drops.
func (h *FeedHub) HandleConnection(c *websocket.Conn) {
	logger.Info("Alert feed connection established")

	send := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[c] = send
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.Close()
		logger.Info("Alert feed connection closed")
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// the feed is write-only; reads only detect disconnects
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-send:
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("Failed to write feed frame", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

// AlertCreated broadcasts the alert to every connected client. Slow clients
// drop frames rather than block the factory.
func (h *FeedHub) AlertCreated(alert *models.IntelligentAlert) {
	frame, err := feedFrame(alert)
	if err != nil {
		logger.Error("Failed to encode feed frame", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- frame:
		default:
			logger.Debug("Dropping feed frame for slow client", zap.String("remote", conn.RemoteAddr().String()))
		}
	}
}

func feedFrame(alert *models.IntelligentAlert) ([]byte, error) {
	msg := map[string]interface{}{
		"type":       "alert",
		"id":         alert.ID,
		"category":   alert.Category,
		"priority":   alert.Priority,
		"title":      alert.Title,
		"message":    alert.Message,
		"insights":   alert.Insights,
		"created_at": alert.CreatedAt.UTC().Format(time.RFC3339),
	}
	return json.Marshal(msg)
}
