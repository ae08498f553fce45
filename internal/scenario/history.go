package scenario

import "time"

// LabelHistory keeps the label sets of the most recent frames.
type LabelHistory struct {
	frames *ring[Frame]
}

// NewLabelHistory creates a history holding at most capacity frames.
func NewLabelHistory(capacity int) *LabelHistory {
	return &LabelHistory{frames: newRing[Frame](capacity)}
}

// Record appends a frame, evicting the oldest one when full.
func (h *LabelHistory) Record(ts time.Time, labels LabelSet) {
	h.frames.push(Frame{Timestamp: ts, Labels: labels})
}

// Len returns the number of frames held.
func (h *LabelHistory) Len() int { return h.frames.len() }

// Cap returns the maximum number of frames held.
func (h *LabelHistory) Cap() int { return h.frames.cap() }

// Latest returns the most recent frame.
func (h *LabelHistory) Latest() (Frame, bool) { return h.frames.last(0) }

// Previous returns the frame recorded just before the latest one.
func (h *LabelHistory) Previous() (Frame, bool) { return h.frames.last(1) }

// Frames returns a copy of the history, oldest first.
func (h *LabelHistory) Frames() []Frame { return h.frames.slice() }

// LastSeen returns the timestamp of the newest frame containing any of labels.
func (h *LabelHistory) LastSeen(labels ...string) (time.Time, bool) {
	for k := range h.frames.len() {
		f, _ := h.frames.last(k)
		if f.Labels.HasAny(labels...) {
			return f.Timestamp, true
		}
	}
	return time.Time{}, false
}

// AnyContains reports whether label appears in any frame of the window.
func (h *LabelHistory) AnyContains(label string) bool {
	_, ok := h.LastSeen(label)
	return ok
}
