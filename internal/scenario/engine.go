package scenario

import (
	"math"
	"time"

	"github.com/IdanVahab/Temi-Server/internal/logger"
)

var log = logger.Module("Scenario")

// Config tunes one engine. Zero fields fall back to DefaultConfig values,
// except TrackTTL where zero disables eviction.
type Config struct {
	HistorySize       int
	TrackHistorySize  int
	MovementThreshold float64 // pixels
	PourWindow        time.Duration
	PourCooldown      time.Duration
	DefaultCooldown   time.Duration
	Cooldowns         map[Name]time.Duration
	TrackTTL          time.Duration
}

// DefaultConfig returns the tuning used by the kitchen deployment.
func DefaultConfig() Config {
	return Config{
		HistorySize:       10,
		TrackHistorySize:  5,
		MovementThreshold: 15,
		PourWindow:        1500 * time.Millisecond,
		PourCooldown:      4 * time.Second,
		DefaultCooldown:   5 * time.Second,
		// Overrides of DefaultCooldown only.
		Cooldowns: map[Name]time.Duration{
			MetalPotInMicrowave: 1 * time.Second,
		},
		TrackTTL: 10 * time.Second,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, for tests and offline replay.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine is the per-session controller: it owns the label history, the
// track ledger and the cooldown gate, and runs one evaluation per frame.
// An Engine is not safe for concurrent use; callers serialize frames.
type Engine struct {
	cfg     Config
	now     func() time.Time
	history *LabelHistory
	tracks  *TrackLedger
	gate    *Gate

	lastPour time.Time
}

// New creates an engine for one monitoring session.
func New(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.TrackHistorySize <= 0 {
		cfg.TrackHistorySize = def.TrackHistorySize
	}
	if cfg.MovementThreshold <= 0 {
		cfg.MovementThreshold = def.MovementThreshold
	}
	if cfg.PourWindow <= 0 {
		cfg.PourWindow = def.PourWindow
	}
	if cfg.PourCooldown <= 0 {
		cfg.PourCooldown = def.PourCooldown
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = def.DefaultCooldown
	}
	if cfg.Cooldowns == nil {
		cfg.Cooldowns = def.Cooldowns
	}

	e := &Engine{
		cfg:     cfg,
		now:     time.Now,
		history: NewLabelHistory(cfg.HistorySize),
		tracks:  NewTrackLedger(cfg.TrackHistorySize, cfg.MovementThreshold),
		gate:    NewGate(cfg.DefaultCooldown, cfg.Cooldowns),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// RecordLabels appends the label set of the current frame to the history.
func (e *Engine) RecordLabels(labels []string) error {
	set, err := ValidateLabels(labels)
	if err != nil {
		return err
	}
	e.history.Record(e.now(), set)
	return nil
}

// RecordTracks updates the motion ledger with the current frame's tracks.
func (e *Engine) RecordTracks(objects []TrackedObject) error {
	if err := ValidateTracks(objects); err != nil {
		return err
	}
	e.recordTracks(objects)
	return nil
}

func (e *Engine) recordTracks(objects []TrackedObject) {
	now := e.now()
	if e.cfg.TrackTTL > 0 {
		if n := e.tracks.Evict(now.Add(-e.cfg.TrackTTL)); n > 0 {
			log.Debug("Evicted %d stale tracks", n)
		}
	}
	e.tracks.Record(now, objects)
}

// Evaluate runs the rule bank and passes the first match through the gate.
// When nothing matches the gate forgets its last report, so the next match
// is sent even inside its cooldown window.
func (e *Engine) Evaluate() (Event, bool) {
	now := e.now()
	name, ok := e.match(now)
	if !ok {
		e.gate.Reset()
		return Event{}, false
	}

	send, incident := e.gate.ShouldSend(name, now)
	if !send {
		log.Debug("Skipping duplicate scenario: %s", name)
		return Event{}, false
	}

	if incident != "" {
		log.Warn("Emergency scenario %s (incident %s)", name, incident)
	} else {
		log.Debug("Sending scenario: %s", name)
	}
	return Event{Scenario: name, Timestamp: e.now(), IncidentID: incident}, true
}

// Step validates a whole frame, records it and evaluates. A rejected frame
// leaves every ledger untouched.
func (e *Engine) Step(labels []string, objects []TrackedObject) (Event, bool, error) {
	set, err := ValidateLabels(labels)
	if err != nil {
		return Event{}, false, err
	}
	if err := ValidateTracks(objects); err != nil {
		return Event{}, false, err
	}

	e.history.Record(e.now(), set)
	e.recordTracks(objects)
	ev, ok := e.Evaluate()
	return ev, ok, nil
}

// IsMoving exposes the ledger's movement predicate.
func (e *Engine) IsMoving(id string) bool { return e.tracks.IsMoving(id) }

// Current returns the scenario the engine is reporting, if any.
func (e *Engine) Current() (Name, bool) { return e.gate.LastReported() }

// ValidateLabels checks a frame's labels and returns them as a set.
func ValidateLabels(labels []string) (LabelSet, error) {
	for i, l := range labels {
		if l == "" {
			return nil, invalid("labels", "label %d is empty", i)
		}
	}
	return NewLabelSet(labels...), nil
}

// ValidateTracks checks ids, labels and box geometry of every object.
func ValidateTracks(objects []TrackedObject) error {
	for i, obj := range objects {
		if obj.ID == "" {
			return invalid("tracks", "track %d has no id", i)
		}
		if obj.Label == "" {
			return invalid("tracks", "track %s has no label", obj.ID)
		}
		b := obj.BBox
		for _, v := range [...]float64{b.Left, b.Top, b.Width, b.Height} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return invalid("tracks", "track %s bbox is not finite", obj.ID)
			}
		}
		if b.Width < 0 || b.Height < 0 {
			return invalid("tracks", "track %s bbox has negative size %gx%g", obj.ID, b.Width, b.Height)
		}
	}
	return nil
}
