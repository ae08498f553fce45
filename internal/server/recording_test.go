package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IdanVahab/Temi-Server/internal/recorder"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

func TestRecordingDisabled(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	resp, _ := env.do(t, http.MethodPost, "/api/recording/start", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/recording/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordingCapturesFrames(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, envOptions{recordDir: dir})
	id := env.createSession(t)

	resp, body := env.do(t, http.MethodPost, "/api/recording/start", map[string]string{"filename": "kitchen.jsonl"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "kitchen.jsonl", requireString(t, decodeJSONMap(t, body)["filename"], "filename"))

	resp, _ = env.do(t, http.MethodPost, "/api/recording/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	env.do(t, http.MethodPost, "/api/sessions/"+id+"/frames", types.FramePayload{Labels: []string{"cutlery"}})
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/frames", types.FramePayload{Labels: []string{""}})
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/frames", types.FramePayload{
		Labels: []string{"pot"},
		Tracks: []types.TrackPayload{{ID: "4", Label: "pot", BBox: []float64{1, 2, 3, 4}}},
	})

	resp, body = env.do(t, http.MethodGet, "/api/recording/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeJSONMap(t, body)["recording"])

	resp, body = env.do(t, http.MethodPost, "/api/recording/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, 2.0, requireNumber(t, decodeJSONMap(t, body)["frame_count"], "frame_count"))

	resp, _ = env.do(t, http.MethodPost, "/api/recording/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f, err := os.Open(filepath.Join(dir, "kitchen.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var entries []recorder.Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e recorder.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, entries, 2, "rejected frames are not recorded")
	assert.Equal(t, id, entries[0].SessionID)
	assert.Equal(t, []string{"cutlery"}, entries[0].Labels)
	assert.Equal(t, types.TrackID("4"), entries[1].Tracks[0].ID)
	assert.Positive(t, entries[1].Timestamp)
}

func TestRecordingRejectsPathNames(t *testing.T) {
	env := newTestEnv(t, envOptions{recordDir: t.TempDir()})
	resp, _ := env.do(t, http.MethodPost, "/api/recording/start", map[string]string{"filename": "../escape.jsonl"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
