package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

const heartbeatInterval = 15 * time.Second

func setSSEHeaders(w gin.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeEvent(w gin.ResponseWriter, typ string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, b); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.Flush()
	return nil
}

// progressStream sends the current progress snapshot and every later change
// as server-sent events. A slow client only sees the newest snapshot.
func (s *Server) progressStream(c *gin.Context) {
	ch, unsub := s.ctrl.WatchProgress(1)
	defer unsub()

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	// The subscription delivers the current snapshot first.
	s.log.Debug("progress stream opened", logx.String("remote_addr", c.ClientIP()))

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(c.Writer, "progress", newProgressResponse(snap)); err != nil {
				s.log.Debug("progress stream closed", logx.Err(err))
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
