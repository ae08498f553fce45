package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramePayloadDecodesMixedTrackIDs(t *testing.T) {
	raw := `{"labels":["pot","Plate"],"tracks":[
		{"id":"3","label":"pot","bbox":[1,2,3,4]},
		{"id":17,"label":"Plate","bbox":[5,6,7,8]}
	]}`

	var f FramePayload
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	require.Len(t, f.Tracks, 2)
	assert.Equal(t, TrackID("3"), f.Tracks[0].ID)
	assert.Equal(t, TrackID("17"), f.Tracks[1].ID)
	assert.Equal(t, []float64{5, 6, 7, 8}, f.Tracks[1].BBox)
}

func TestTrackIDRejectsObjects(t *testing.T) {
	var f FramePayload
	err := json.Unmarshal([]byte(`{"tracks":[{"id":{"x":1}}]}`), &f)
	assert.Error(t, err)
}

func TestScenarioMessageNullIncident(t *testing.T) {
	data, err := json.Marshal(ScenarioMessage{Scenario: "pot_moved", Timestamp: 12.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"scenario":"pot_moved","timestamp":12.5,"incident_id":null}`, string(data))
}

func TestFramePayloadTime(t *testing.T) {
	f := FramePayload{Timestamp: 1700000000.25}
	assert.Equal(t, time.Unix(1700000000, 250_000_000), f.Time())
}
