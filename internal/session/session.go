// Package session owns one scenario engine per connected client and fans
// the engine's events out to subscribers, the journal and metrics.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IdanVahab/Temi-Server/internal/logger"
	"github.com/IdanVahab/Temi-Server/internal/metrics"
	"github.com/IdanVahab/Temi-Server/internal/scenario"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

var log = logger.Module("Session")

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrClosed is returned when a frame arrives for a closed session.
	ErrClosed = errors.New("session closed")
)

// Session kinds. Only API sessions are reaped; socket sessions end with
// their connection.
const (
	KindAPI       = "api"
	KindWebSocket = "websocket"
	KindWebRTC    = "webrtc"
)

// Journal persists emitted events.
type Journal interface {
	Append(ctx context.Context, msg types.ScenarioMessage) error
}

// FrameRecorder captures accepted frames for later replay.
type FrameRecorder interface {
	Record(sessionID string, frame types.FramePayload, at time.Time) bool
}

// Options configures a Manager. Nil collaborators are skipped.
type Options struct {
	Engine      scenario.Config
	IdleTimeout time.Duration

	Broadcaster *Broadcaster
	Journal     Journal
	Metrics     *metrics.Metrics
	Recorder    FrameRecorder

	Captioner       Captioner
	CaptionInterval time.Duration

	// Clock drives engines and idle tracking; defaults to time.Now.
	Clock func() time.Time
}

// Manager is the registry of open sessions.
type Manager struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty registry.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.CaptionInterval <= 0 {
		opts.CaptionInterval = 3 * time.Second
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open starts a new session with a fresh engine.
func (m *Manager) Open(kind string) *Session {
	now := m.opts.Clock()
	s := &Session{
		ID:         uuid.NewString(),
		Kind:       kind,
		CreatedAt:  now,
		mgr:        m,
		engine:     scenario.New(m.opts.Engine, scenario.WithClock(m.opts.Clock)),
		lastActive: now,
	}
	if m.opts.Captioner != nil {
		s.caption = NewCaptionGuard(m.opts.CaptionInterval)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	total := len(m.sessions)
	m.mu.Unlock()

	m.opts.Metrics.SessionOpened()
	log.Info("Session %s opened (%s, %d open)", s.ID, kind, total)
	return s
}

// Get looks up an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Close removes a session. Frames already being processed finish first.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.markClosed()
	m.opts.Metrics.SessionClosed()
	log.Info("Session %s closed", id)
	return nil
}

// CloseAll closes every open session, used on shutdown.
func (m *Manager) CloseAll() {
	for _, info := range m.List() {
		_ = m.Close(info.ID)
	}
}

// List returns a summary of every open session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap closes API sessions idle for longer than the idle timeout and
// returns how many were closed.
func (m *Manager) Reap() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.opts.Clock().Add(-m.opts.IdleTimeout)

	var stale []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if s.Kind == KindAPI && s.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		if err := m.Close(id); err == nil {
			log.Debug("Reaped idle session %s", id)
		}
	}
	return len(stale)
}

// RunReaper calls Reap every interval until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.opts.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				log.Info("Reaped %d idle sessions", n)
			}
		}
	}
}

// Info summarizes a session for listings.
type Info struct {
	ID         string    `json:"session_id"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Frames     uint64    `json:"frames"`
	Events     uint64    `json:"events"`
	Reporting  string    `json:"reporting,omitempty"`
}

// Session is one monitoring session. Frames are processed one at a time.
type Session struct {
	ID        string
	Kind      string
	CreatedAt time.Time

	mgr     *Manager
	caption *CaptionGuard

	mu         sync.Mutex
	engine     *scenario.Engine
	lastActive time.Time
	frames     uint64
	events     uint64
	closed     bool
}

// Process runs one frame through the engine. It returns the emitted event,
// or nil when the frame produced none. Invalid frames return an error
// wrapping scenario.ErrInvalidInput and leave the engine untouched.
func (s *Session) Process(ctx context.Context, frame types.FramePayload) (*types.ScenarioMessage, error) {
	m := s.mgr.opts.Metrics

	labels, objects, err := Decode(frame)
	if err != nil {
		m.FramesRejected.Add(1)
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrClosed, s.ID)
	}

	m.FramesReceived.Add(1)
	start := time.Now()
	ev, ok, err := s.engine.Step(labels, objects)
	m.UpdateProcessLatency(time.Since(start))
	if err != nil {
		s.mu.Unlock()
		m.FramesRejected.Add(1)
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}

	s.frames++
	s.lastActive = s.mgr.opts.Clock()
	if rec := s.mgr.opts.Recorder; rec != nil {
		rec.Record(s.ID, frame, s.lastActive)
	}
	if !ok {
		if name, reporting := s.engine.Current(); reporting {
			m.ObserveSuppressed(string(name))
		}
		s.mu.Unlock()
		return nil, nil
	}
	s.events++

	// Sinks see a session's events in emission order
	msg := Message(s.ID, ev)
	m.ObserveEmitted(msg.Scenario, msg.IncidentID != nil)
	s.publish(ctx, msg)
	s.mu.Unlock()
	return &msg, nil
}

func (s *Session) publish(ctx context.Context, msg types.ScenarioMessage) {
	opts := s.mgr.opts
	if opts.Broadcaster != nil {
		opts.Broadcaster.Publish(msg)
	}
	if opts.Journal != nil {
		if err := opts.Journal.Append(ctx, msg); err != nil {
			opts.Metrics.JournalErrors.Add(1)
			log.Warn("Journal append failed for session %s: %v", s.ID, err)
		}
	}
}

// Caption forwards the frame's labels to the captioner when the caption
// guard allows it. The request runs in the background and deliver is
// called with the reply. It reports whether a request was started.
func (s *Session) Caption(ctx context.Context, labels []string, deliver func(types.CaptionMessage)) bool {
	if s.caption == nil {
		return false
	}
	set := scenario.NewLabelSet(labels...)
	if !s.caption.TryAcquire(s.mgr.opts.Clock(), set) {
		return false
	}

	m := s.mgr.opts.Metrics
	captioner := s.mgr.opts.Captioner
	m.CaptionRequests.Add(1)
	go func() {
		defer s.caption.Release()
		req := CaptionRequest{
			SessionID: s.ID,
			Labels:    set.Sorted(),
			Question:  Question(set),
		}
		msg, err := captioner.Caption(ctx, req)
		if err != nil {
			m.CaptionErrors.Add(1)
			logger.Warn("Caption", "Caption request for session %s failed: %v", s.ID, err)
			return
		}
		deliver(msg)
	}()
	return true
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:         s.ID,
		Kind:       s.Kind,
		CreatedAt:  s.CreatedAt,
		LastActive: s.lastActive,
		Frames:     s.frames,
		Events:     s.events,
	}
	if name, ok := s.engine.Current(); ok {
		info.Reporting = string(name)
	}
	return info
}

// Snapshot copies the engine state for debugging.
func (s *Session) Snapshot() scenario.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Snapshot()
}

// LastActive returns when the session last accepted a frame.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
