// Package server exposes sessions over HTTP, Server-Sent Events and
// WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/IdanVahab/Temi-Server/internal/logger"
	"github.com/IdanVahab/Temi-Server/internal/recorder"
	"github.com/IdanVahab/Temi-Server/internal/scenario"
	"github.com/IdanVahab/Temi-Server/internal/session"
	"github.com/IdanVahab/Temi-Server/internal/webrtc"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

var log = logger.Module("HTTP")

// Config defines the runtime configuration for the HTTP API.
type Config struct {
	// KeepAlive is the interval between SSE keepalive comments.
	KeepAlive time.Duration
	// MaxFrameBytes limits request bodies and WebSocket messages.
	MaxFrameBytes int64
	// OriginPatterns are the WebSocket origins accepted; see websocket.AcceptOptions.
	OriginPatterns []string
	// AllowOrigin is sent as Access-Control-Allow-Origin on API responses.
	AllowOrigin string
}

// DefaultConfig returns the settings used by the robot deployment.
func DefaultConfig() Config {
	return Config{
		KeepAlive:      30 * time.Second,
		MaxFrameBytes:  1 << 20,
		OriginPatterns: []string{"*"},
		AllowOrigin:    "*",
	}
}

// EventLog answers journal queries.
type EventLog interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]types.ScenarioMessage, error)
}

// OfferHandler answers WebRTC offers.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
}

// Deps are the collaborators of a Server. Events, WebRTC and Recorder may be nil.
type Deps struct {
	Sessions    *session.Manager
	Broadcaster *session.Broadcaster
	Events      EventLog
	WebRTC      OfferHandler
	Recorder    *recorder.Recorder
}

// Server serves the scenario API.
type Server struct {
	cfg         Config
	sessions    *session.Manager
	broadcaster *session.Broadcaster
	events      EventLog
	webrtc      OfferHandler
	recorder    *recorder.Recorder
	started     time.Time
}

// NewServer returns a configured API server.
func NewServer(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = def.OriginPatterns
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = session.NewBroadcaster(nil)
	}
	return &Server{
		cfg:         cfg,
		sessions:    deps.Sessions,
		broadcaster: deps.Broadcaster,
		events:      deps.Events,
		webrtc:      deps.WebRTC,
		recorder:    deps.Recorder,
		started:     time.Now(),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleMonitor)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/sessions", s.cors(s.handleSessionCreate))
	mux.HandleFunc("GET /api/sessions", s.cors(s.handleSessionList))
	mux.HandleFunc("GET /api/sessions/{id}", s.cors(s.handleSessionGet))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.cors(s.handleSessionDelete))
	mux.HandleFunc("POST /api/sessions/{id}/frames", s.cors(s.handleFrame))
	mux.HandleFunc("GET /api/scenarios/stream", s.cors(s.handleScenarioStream))
	mux.HandleFunc("GET /api/events", s.cors(s.handleEvents))
	mux.HandleFunc("POST /api/webrtc/offer", s.cors(s.handleWebRTCOffer))
	mux.HandleFunc("POST /api/recording/start", s.cors(s.handleRecordingStart))
	mux.HandleFunc("POST /api/recording/stop", s.cors(s.handleRecordingStop))
	mux.HandleFunc("GET /api/recording/status", s.cors(s.handleRecordingStatus))
	mux.HandleFunc("OPTIONS /api/", s.cors(func(w http.ResponseWriter, r *http.Request) {}))

	return mux
}

func (s *Server) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"sessions":       s.sessions.Len(),
		"stream_clients": s.broadcaster.Clients(),
		"journal":        s.events != nil,
		"recording":      s.recorder != nil && s.recorder.IsRecording(),
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Open(session.KindAPI)
	writeJSONWithStatus(w, map[string]any{"session_id": sess.ID}, http.StatusCreated)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"session": sess.Info(),
		"engine":  sess.Snapshot(),
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxFrameBytes))
	if err != nil {
		writeJSONWithStatus(w, types.ErrorMessage{Error: "frame too large"}, http.StatusRequestEntityTooLarge)
		return
	}
	frame, err := session.DecodeFrame(body)
	if err != nil {
		writeError(w, err)
		return
	}

	msg, err := sess.Process(r.Context(), frame)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"event": msg})
}

func (s *Server) handleScenarioStream(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("session")
	if filter != "" {
		if _, err := s.sessions.Get(filter); err != nil {
			writeError(w, err)
			return
		}
	}

	id, eventCh := s.broadcaster.Subscribe(filter)
	defer s.broadcaster.Unsubscribe(id)

	streamScenarioEvents(r.Context(), w, eventCh, wantsProtobuf(r), s.cfg.KeepAlive)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSONWithStatus(w, types.ErrorMessage{Error: "event journal is disabled"}, http.StatusNotFound)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONWithStatus(w, types.ErrorMessage{Error: fmt.Sprintf("invalid limit %q", v)}, http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.events.Recent(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		log.Error("Journal query failed: %v", err)
		writeJSONWithStatus(w, types.ErrorMessage{Error: "journal query failed"}, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []types.ScenarioMessage{}
	}
	writeJSON(w, map[string]any{"events": events})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.webrtc == nil {
		writeJSONWithStatus(w, types.ErrorMessage{Error: "webrtc is disabled"}, http.StatusNotFound)
		return
	}

	offerJSON, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxFrameBytes))
	if err != nil {
		writeJSONWithStatus(w, types.ErrorMessage{Error: "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answerJSON, err := s.webrtc.HandleOffer(offerJSON)
	switch {
	case err == nil:
	case errors.Is(err, webrtc.ErrInvalidOffer):
		writeJSONWithStatus(w, types.ErrorMessage{Error: err.Error()}, http.StatusBadRequest)
		return
	case errors.Is(err, webrtc.ErrTooManyClients):
		writeJSONWithStatus(w, types.ErrorMessage{Error: err.Error()}, http.StatusServiceUnavailable)
		return
	default:
		logger.Error("WebRTC", "Offer error: %v", err)
		writeJSONWithStatus(w, types.ErrorMessage{Error: "Failed to handle offer"}, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answerJSON)
}

// writeError maps session and validation errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scenario.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		status = http.StatusGone
	default:
		log.Error("Request failed: %v", err)
	}
	writeJSONWithStatus(w, types.ErrorMessage{Error: err.Error()}, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
