package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"taskline/internal/auth"
	"taskline/internal/log"
	"taskline/internal/metrics"
	"taskline/internal/service"

	"github.com/gin-gonic/gin"
)

// StreamHandler exposes a session's event timeline as a Server-Sent-Events
// channel. The push contract is implemented plainly as poll-diff-emit, so
// delivery is at-least-once and consumers must be snapshot-idempotent.
type StreamHandler struct {
	service           *service.TaskService
	pollInterval      time.Duration
	keepAliveInterval time.Duration
}

func NewStreamHandler(svc *service.TaskService, pollInterval, keepAliveInterval time.Duration) *StreamHandler {
	return &StreamHandler{
		service:           svc,
		pollInterval:      pollInterval,
		keepAliveInterval: keepAliveInterval,
	}
}

func (h *StreamHandler) StreamSession(c *gin.Context) {
	sessionID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	userID := auth.UserID(c)
	if err := h.service.AuthorizeSession(c.Request.Context(), userID, sessionID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	keepAlive := time.NewTicker(h.keepAliveInterval)
	defer keepAlive.Stop()

	// Push a frame only when the serialized snapshot changed since the last
	// emitted one.
	var lastSnapshot string
	emit := func() {
		events, err := h.service.SessionEvents(c.Request.Context(), userID, sessionID)
		if err != nil {
			// A fetch fault becomes a typed error frame; the channel stays
			// open and the client decides whether to fall back to polling.
			h.writeErrorFrame(c, err)
			return
		}
		snapshot, err := json.Marshal(events)
		if err != nil {
			h.writeErrorFrame(c, err)
			return
		}
		if string(snapshot) == lastSnapshot {
			return
		}
		lastSnapshot = string(snapshot)
		if _, err := c.Writer.WriteString("data: " + lastSnapshot + "\n\n"); err != nil {
			return
		}
		c.Writer.Flush()
	}

	emit()
	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			log.GetLogger().Debugf("stream for session %s closed", sessionID)
			return
		case <-poll.C:
			emit()
		case <-keepAlive.C:
			// Comment-only frame, keeps idle proxies from dropping us.
			if _, err := c.Writer.WriteString(":\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func (h *StreamHandler) writeErrorFrame(c *gin.Context, cause error) {
	frame, _ := json.Marshal(gin.H{"error": cause.Error()})
	if _, err := c.Writer.WriteString("event: error\ndata: " + string(frame) + "\n\n"); err != nil {
		return
	}
	c.Writer.Flush()
}
