package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IdanVahab/Temi-Server/pkg/types"
)

func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	var data []byte
	switch v := frame.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return string(data)
}

func TestWebSocketBareScenarioName(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := dialWS(t, env, "")

	require.Eventually(t, func() bool { return env.sessions.Len() == 1 }, time.Second, 5*time.Millisecond)

	sendFrame(t, conn, types.FramePayload{Labels: []string{"person"}})
	sendFrame(t, conn, types.FramePayload{Labels: []string{"pot", "Plate"}})
	assert.Equal(t, "pouring_food", readText(t, conn))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return env.sessions.Len() == 0 }, time.Second, 5*time.Millisecond,
		"session closes with the connection")
}

func TestWebSocketJSONReplies(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := dialWS(t, env, "?format=json")

	sendFrame(t, conn, types.FramePayload{Labels: []string{"metal_pot_in_microwave"}})
	payload := decodeJSONMap(t, []byte(readText(t, conn)))
	assertScenarioPayload(t, payload, "metal_pot_in_microwave")
	assert.Equal(t, "metal_pot_in_microwave_incident_1", requireString(t, payload["incident_id"], "incident_id"))
}

func TestWebSocketInvalidFrameKeepsConnection(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := dialWS(t, env, "")

	sendFrame(t, conn, "not json")
	payload := decodeJSONMap(t, []byte(readText(t, conn)))
	assert.Contains(t, requireString(t, payload["error"], "error"), "invalid input")

	sendFrame(t, conn, `{"labels":["cutlery"],"tracks":[{"id":3,"label":"cutlery","bbox":[0,0,1]}]}`)
	payload = decodeJSONMap(t, []byte(readText(t, conn)))
	assert.Contains(t, requireString(t, payload["error"], "error"), "bbox")

	sendFrame(t, conn, types.FramePayload{Labels: []string{"cutlery"}})
	assert.Equal(t, "cutlery_detected", readText(t, conn))
}
