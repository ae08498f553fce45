package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IdanVahab/Temi-Server/internal/journal"
	"github.com/IdanVahab/Temi-Server/internal/metrics"
	"github.com/IdanVahab/Temi-Server/internal/recorder"
	"github.com/IdanVahab/Temi-Server/internal/session"
	"github.com/IdanVahab/Temi-Server/internal/webrtc"
)

type testEnv struct {
	ts          *httptest.Server
	sessions    *session.Manager
	broadcaster *session.Broadcaster
	journal     *journal.Store
	recorder    *recorder.Recorder
}

type envOptions struct {
	journal bool
	webrtc  bool
	// recordDir enables the frame recorder when non-empty.
	recordDir string
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	m := metrics.New()
	b := session.NewBroadcaster(m)
	env := &testEnv{broadcaster: b}

	sessOpts := session.Options{Broadcaster: b, Metrics: m}
	deps := Deps{Broadcaster: b}
	if opts.journal {
		store, err := journal.Open(context.Background(), ":memory:")
		if err != nil {
			t.Fatalf("open journal: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		env.journal = store
		sessOpts.Journal = store
		deps.Events = store
	}
	if opts.recordDir != "" {
		env.recorder = recorder.NewRecorder(opts.recordDir)
		t.Cleanup(func() { env.recorder.Close() })
		sessOpts.Recorder = env.recorder
		deps.Recorder = env.recorder
	}
	env.sessions = session.NewManager(sessOpts)
	deps.Sessions = env.sessions
	if opts.webrtc {
		rtc := webrtc.NewServer(env.sessions, nil, 2)
		t.Cleanup(func() { rtc.Close() })
		deps.WebRTC = rtc
	}

	cfg := DefaultConfig()
	cfg.KeepAlive = 50 * time.Millisecond
	env.ts = httptest.NewServer(NewServer(cfg, deps).Handler())
	t.Cleanup(func() {
		b.Close()
		env.ts.Close()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/sessions status = %d body=%s", resp.StatusCode, body)
	}
	return requireString(t, decodeJSONMap(t, body)["session_id"], "session_id")
}

// sseReader reads data lines from an open event stream.
type sseReader struct {
	resp   *http.Response
	lines  chan string
	cancel context.CancelFunc
}

func openSSE(t *testing.T, url string, accept string) *sseReader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		t.Fatalf("build request: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("request failed: %v", err)
	}

	r := &sseReader{resp: resp, lines: make(chan string, 16), cancel: cancel}
	go func() {
		defer close(r.lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			r.lines <- scanner.Text()
		}
	}()
	t.Cleanup(r.close)
	return r
}

func (r *sseReader) close() {
	r.cancel()
	_ = r.resp.Body.Close()
}

// nextData returns the payload of the next data line, skipping comments.
func (r *sseReader) nextData(timeout time.Duration) (string, error) {
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-r.lines:
			if !ok {
				return "", fmt.Errorf("sse stream closed before event")
			}
			if strings.HasPrefix(line, "data:") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data:")), nil
			}
		case <-deadline:
			return "", fmt.Errorf("timeout waiting for sse event")
		}
	}
}

// nextComment returns the next comment line.
func (r *sseReader) nextComment(timeout time.Duration) (string, error) {
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-r.lines:
			if !ok {
				return "", fmt.Errorf("sse stream closed before comment")
			}
			if strings.HasPrefix(line, ":") {
				return line, nil
			}
		case <-deadline:
			return "", fmt.Errorf("timeout waiting for sse comment")
		}
	}
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertScenarioPayload(t *testing.T, payload map[string]any, wantScenario string) {
	t.Helper()
	if got := requireString(t, payload["scenario"], "scenario"); got != wantScenario {
		t.Fatalf("scenario = %q, want %q", got, wantScenario)
	}
	requireNumber(t, payload["timestamp"], "timestamp")
	if _, ok := payload["incident_id"]; !ok {
		t.Fatalf("incident_id missing from %v", payload)
	}
}
