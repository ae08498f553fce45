package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FramePayload is one frame of detector and tracker output sent by a client.
type FramePayload struct {
	Labels []string       `json:"labels"`
	Tracks []TrackPayload `json:"tracks,omitempty"`

	// Timestamp is seconds since the epoch. Live sessions ignore it; the
	// replay command uses it as the engine clock.
	Timestamp float64 `json:"timestamp,omitempty"`
}

// TrackPayload is a confirmed tracker output: bbox is [left, top, width, height].
type TrackPayload struct {
	ID    TrackID   `json:"id"`
	Label string    `json:"label"`
	BBox  []float64 `json:"bbox"`
}

// TrackID accepts either a JSON string or number; trackers disagree.
type TrackID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *TrackID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = TrackID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("track id must be a string or number: %s", data)
	}
	*id = TrackID(n.String())
	return nil
}

// Time converts Timestamp to a time.Time.
func (f FramePayload) Time() time.Time {
	sec := int64(f.Timestamp)
	nsec := int64((f.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// ScenarioMessage is the downstream JSON form of an emitted scenario.
type ScenarioMessage struct {
	SessionID  string  `json:"session_id,omitempty"`
	Scenario   string  `json:"scenario"`
	Timestamp  float64 `json:"timestamp"`
	IncidentID *string `json:"incident_id"`
}

// CaptionMessage relays an external captioner reply to the client.
type CaptionMessage struct {
	Source   string `json:"source"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer"`
}

// ErrorMessage is sent back when a frame is rejected.
type ErrorMessage struct {
	Error string `json:"error"`
}
