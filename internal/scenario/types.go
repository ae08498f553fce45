// Package scenario recognizes kitchen-safety scenarios from a stream of
// per-frame detection labels and tracked-object positions.
package scenario

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// Name identifies a reportable scenario.
type Name string

// Scenario names, listed in detection priority order.
const (
	MetalPotInMicrowave        Name = "metal_pot_in_microwave"
	PouringFood                Name = "pouring_food"
	PlateRemovedFromMicrowave  Name = "plate_removed_from_microwave"
	PotAndPlateOnCounter       Name = "pot_and_plate_on_counter"
	CutleryDetected            Name = "cutlery_detected"
	PlateInsertedIntoMicrowave Name = "plate_inserted_into_microwave"
	PlateMoved                 Name = "plate_moved"
	PotMoved                   Name = "pot_moved"
	CutleryUsed                Name = "cutlery_used"
	PersonInteracts            Name = "person_interacts"
)

// Class names produced by the kitchen detection model.
const (
	LabelPot                 = "pot"
	LabelPlate               = "Plate"
	LabelBowl                = "Bowl"
	LabelCutlery             = "cutlery"
	LabelPerson              = "person"
	LabelOpenMicrowave       = "open microwave"
	LabelMetalPotInMicrowave = "metal_pot_in_microwave"
)

// Names returns every scenario in priority order.
func Names() []Name {
	names := make([]Name, len(ruleBank))
	for i, r := range ruleBank {
		names[i] = r.name
	}
	return names
}

// IsEmergency reports whether the scenario bypasses cooldown suppression.
func (n Name) IsEmergency() bool {
	return n == MetalPotInMicrowave
}

// Valid reports whether n is one of the known scenarios.
func (n Name) Valid() bool {
	for _, r := range ruleBank {
		if r.name == n {
			return true
		}
	}
	return false
}

// LabelSet is the set of class names detected in one frame.
type LabelSet map[string]struct{}

// NewLabelSet builds a set from labels, collapsing duplicates.
func NewLabelSet(labels ...string) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// Has reports whether label is in the set.
func (s LabelSet) Has(label string) bool {
	_, ok := s[label]
	return ok
}

// HasAny reports whether at least one of labels is in the set.
func (s LabelSet) HasAny(labels ...string) bool {
	for _, l := range labels {
		if s.Has(l) {
			return true
		}
	}
	return false
}

// Sorted returns the labels in lexical order.
func (s LabelSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Frame is one entry of the label history.
type Frame struct {
	Timestamp time.Time
	Labels    LabelSet
}

// BBox is an upstream tracker box in pixels.
type BBox struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Center returns the midpoint of the box.
func (b BBox) Center() r2.Vec {
	return r2.Vec{X: b.Left + b.Width/2, Y: b.Top + b.Height/2}
}

// TrackedObject is one confirmed track reported by the upstream tracker.
type TrackedObject struct {
	ID    string
	Label string
	BBox  BBox
}

// Event is a scenario that passed the cooldown gate.
type Event struct {
	Scenario   Name
	Timestamp  time.Time
	IncidentID string // set for emergencies only
}

// Unix returns the event time as fractional seconds since the epoch.
func (e Event) Unix() float64 {
	return float64(e.Timestamp.UnixNano()) / float64(time.Second)
}
