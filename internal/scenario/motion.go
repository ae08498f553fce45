package scenario

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// TrackLedger records recent box centers and the last label of every track id.
type TrackLedger struct {
	capacity  int
	threshold float64

	positions map[string]*ring[r2.Vec]
	labels    map[string]string
	lastSeen  map[string]time.Time
}

// NewTrackLedger creates a ledger keeping capacity centers per track and
// treating a jump larger than threshold pixels as movement.
func NewTrackLedger(capacity int, threshold float64) *TrackLedger {
	return &TrackLedger{
		capacity:  capacity,
		threshold: threshold,
		positions: make(map[string]*ring[r2.Vec]),
		labels:    make(map[string]string),
		lastSeen:  make(map[string]time.Time),
	}
}

// Record pushes the center of every object and overwrites its label.
func (l *TrackLedger) Record(now time.Time, objects []TrackedObject) {
	for _, obj := range objects {
		l.labels[obj.ID] = obj.Label
		l.lastSeen[obj.ID] = now

		pos, ok := l.positions[obj.ID]
		if !ok {
			pos = newRing[r2.Vec](l.capacity)
			l.positions[obj.ID] = pos
		}
		pos.push(obj.BBox.Center())
	}
}

// IsMoving compares the two most recent centers of a track.
// Tracks with fewer than two samples are never moving.
func (l *TrackLedger) IsMoving(id string) bool {
	pos, ok := l.positions[id]
	if !ok || pos.len() < 2 {
		return false
	}
	curr, _ := pos.last(0)
	prev, _ := pos.last(1)
	return r2.Norm(r2.Sub(curr, prev)) > l.threshold
}

// AnyMoving reports whether some track currently labelled label is moving.
func (l *TrackLedger) AnyMoving(label string) bool {
	for id, lbl := range l.labels {
		if lbl == label && l.IsMoving(id) {
			return true
		}
	}
	return false
}

// Label returns the last label seen for id.
func (l *TrackLedger) Label(id string) (string, bool) {
	lbl, ok := l.labels[id]
	return lbl, ok
}

// Positions returns the recorded centers of id, oldest first.
func (l *TrackLedger) Positions(id string) []r2.Vec {
	pos, ok := l.positions[id]
	if !ok {
		return nil
	}
	return pos.slice()
}

// IDs returns the known track ids in lexical order.
func (l *TrackLedger) IDs() []string {
	ids := make([]string, 0, len(l.labels))
	for id := range l.labels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known track ids.
func (l *TrackLedger) Len() int { return len(l.labels) }

// Evict forgets every track last seen before cutoff and returns how many were dropped.
func (l *TrackLedger) Evict(cutoff time.Time) int {
	evicted := 0
	for id, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.lastSeen, id)
			delete(l.labels, id)
			delete(l.positions, id)
			evicted++
		}
	}
	return evicted
}
