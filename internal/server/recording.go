package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/IdanVahab/Temi-Server/internal/recorder"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

type recordingRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSONWithStatus(w, types.ErrorMessage{Error: "recording is disabled"}, http.StatusNotFound)
		return
	}

	var req recordingRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4096))
	if err != nil {
		writeJSONWithStatus(w, types.ErrorMessage{Error: "Invalid request body"}, http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSONWithStatus(w, types.ErrorMessage{Error: "Invalid request body"}, http.StatusBadRequest)
			return
		}
	}

	name, err := s.recorder.Start(req.Filename)
	switch {
	case err == nil:
	case errors.Is(err, recorder.ErrRecording):
		writeJSONWithStatus(w, types.ErrorMessage{Error: err.Error()}, http.StatusConflict)
		return
	default:
		log.Error("Failed to start recording: %v", err)
		writeJSONWithStatus(w, types.ErrorMessage{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{"status": "recording", "filename": name})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSONWithStatus(w, types.ErrorMessage{Error: "recording is disabled"}, http.StatusNotFound)
		return
	}

	status := s.recorder.Status()
	name, err := s.recorder.Stop()
	switch {
	case err == nil:
	case errors.Is(err, recorder.ErrNotRecording):
		writeJSONWithStatus(w, types.ErrorMessage{Error: err.Error()}, http.StatusConflict)
		return
	default:
		writeError(w, err)
		return
	}

	final := s.recorder.Status()
	writeJSON(w, map[string]any{
		"status":      "stopped",
		"filename":    name,
		"frame_count": final.FrameCount,
		"dropped":     final.Dropped,
		"duration_ms": status.DurationMs,
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSONWithStatus(w, types.ErrorMessage{Error: "recording is disabled"}, http.StatusNotFound)
		return
	}
	writeJSON(w, s.recorder.Status())
}
