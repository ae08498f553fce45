package scenario

// Snapshot is a read-only view of an engine, used by the debug API.
type Snapshot struct {
	History   []FrameView `json:"history"`
	Tracks    []TrackView `json:"tracks"`
	Reporting string      `json:"reporting,omitempty"`
	Incidents int         `json:"incidents"`
}

// FrameView is one history frame in snapshot form.
type FrameView struct {
	Timestamp float64  `json:"timestamp"`
	Labels    []string `json:"labels"`
}

// TrackView is one ledger entry in snapshot form.
type TrackView struct {
	ID      string       `json:"id"`
	Label   string       `json:"label"`
	Centers [][2]float64 `json:"centers"`
	Moving  bool         `json:"moving"`
}

// Snapshot copies the engine state.
func (e *Engine) Snapshot() Snapshot {
	frames := e.history.Frames()
	s := Snapshot{
		History:   make([]FrameView, len(frames)),
		Tracks:    make([]TrackView, 0, e.tracks.Len()),
		Incidents: e.gate.Incidents(MetalPotInMicrowave),
	}
	for i, f := range frames {
		s.History[i] = FrameView{
			Timestamp: Event{Timestamp: f.Timestamp}.Unix(),
			Labels:    f.Labels.Sorted(),
		}
	}
	for _, id := range e.tracks.IDs() {
		label, _ := e.tracks.Label(id)
		positions := e.tracks.Positions(id)
		centers := make([][2]float64, len(positions))
		for i, p := range positions {
			centers[i] = [2]float64{p.X, p.Y}
		}
		s.Tracks = append(s.Tracks, TrackView{
			ID:      id,
			Label:   label,
			Centers: centers,
			Moving:  e.tracks.IsMoving(id),
		})
	}
	if name, ok := e.Current(); ok {
		s.Reporting = string(name)
	}
	return s
}
