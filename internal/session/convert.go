package session

import (
	"encoding/json"
	"fmt"

	"github.com/IdanVahab/Temi-Server/internal/scenario"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

// DecodeFrame parses one JSON frame received on a socket.
func DecodeFrame(data []byte) (types.FramePayload, error) {
	var frame types.FramePayload
	if err := json.Unmarshal(data, &frame); err != nil {
		return types.FramePayload{}, &scenario.InputError{Field: "frame", Reason: err.Error()}
	}
	return frame, nil
}

// Decode converts a wire frame into engine inputs. Box geometry beyond the
// element count is checked by the engine.
func Decode(frame types.FramePayload) ([]string, []scenario.TrackedObject, error) {
	objects := make([]scenario.TrackedObject, 0, len(frame.Tracks))
	for i, t := range frame.Tracks {
		if len(t.BBox) != 4 {
			return nil, nil, &scenario.InputError{
				Field:  "tracks",
				Reason: fmt.Sprintf("track %d bbox has %d values, want 4", i, len(t.BBox)),
			}
		}
		objects = append(objects, scenario.TrackedObject{
			ID:    string(t.ID),
			Label: t.Label,
			BBox: scenario.BBox{
				Left:   t.BBox[0],
				Top:    t.BBox[1],
				Width:  t.BBox[2],
				Height: t.BBox[3],
			},
		})
	}
	return frame.Labels, objects, nil
}

// Message converts an engine event to its wire form.
func Message(sessionID string, ev scenario.Event) types.ScenarioMessage {
	msg := types.ScenarioMessage{
		SessionID: sessionID,
		Scenario:  string(ev.Scenario),
		Timestamp: ev.Unix(),
	}
	if ev.IncidentID != "" {
		id := ev.IncidentID
		msg.IncidentID = &id
	}
	return msg
}
