package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/IdanVahab/Temi-Server/internal/logger"
	"github.com/IdanVahab/Temi-Server/internal/session"
)

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// streamScenarioEvents streams pre-serialized scenario events to an SSE client.
// Data is already serialized in both formats by the broadcaster.
func streamScenarioEvents(ctx context.Context, w http.ResponseWriter, eventCh <-chan *session.SerializedEvent, useProtobuf bool, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Add custom header to indicate format
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAliveTimer := time.NewTimer(keepAlive)
	defer keepAliveTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				// Channel closed, client should disconnect
				return
			}

			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}

			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-keepAliveTimer.C:
			// Send keepalive comment to prevent timeout
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
		keepAliveTimer.Reset(keepAlive)
	}
}
