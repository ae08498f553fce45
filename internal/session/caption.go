package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/IdanVahab/Temi-Server/internal/scenario"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

// CaptionRequest is posted to the external captioner.
type CaptionRequest struct {
	SessionID string   `json:"session_id"`
	Labels    []string `json:"labels"`
	Question  string   `json:"question"`
}

// Captioner asks an external vision model about a frame.
type Captioner interface {
	Caption(ctx context.Context, req CaptionRequest) (types.CaptionMessage, error)
}

// Question picks the prompt for the captioner from the frame's labels.
func Question(labels scenario.LabelSet) string {
	switch {
	case labels.Has(scenario.LabelMetalPotInMicrowave):
		return "Is there a metal pot inside the microwave?"
	case labels.Has(scenario.LabelPot) && labels.Has(scenario.LabelPlate):
		return "Is someone pouring food from a pot to a plate?"
	case labels.Has(scenario.LabelPot) && labels.Has(scenario.LabelBowl):
		return "Is someone pouring food from a pot to a Bowl?"
	default:
		return "Does the image show a kitchen-related action? yes or no?"
	}
}

// CaptionGuard rate-limits captioner requests for one session: at most one
// in flight, at least interval apart, and only for a non-empty label set
// that differs from the last one sent.
type CaptionGuard struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	labels   string
	busy     bool
}

// NewCaptionGuard creates a guard.
func NewCaptionGuard(interval time.Duration) *CaptionGuard {
	return &CaptionGuard{interval: interval}
}

// TryAcquire claims the in-flight slot when a request is due.
func (g *CaptionGuard) TryAcquire(now time.Time, labels scenario.LabelSet) bool {
	if len(labels) == 0 {
		return false
	}
	key := strings.Join(labels.Sorted(), "\x00")

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy || key == g.labels {
		return false
	}
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.busy = true
	g.last = now
	g.labels = key
	return true
}

// Release frees the in-flight slot.
func (g *CaptionGuard) Release() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}

// Busy reports whether a request is in flight.
func (g *CaptionGuard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// HTTPCaptioner posts CaptionRequests as JSON to a captioning service.
type HTTPCaptioner struct {
	URL    string
	Client *http.Client
}

// NewHTTPCaptioner creates a captioner with a request timeout.
func NewHTTPCaptioner(url string, timeout time.Duration) *HTTPCaptioner {
	return &HTTPCaptioner{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Caption implements Captioner.
func (c *HTTPCaptioner) Caption(ctx context.Context, req CaptionRequest) (types.CaptionMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return types.CaptionMessage{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return types.CaptionMessage{}, fmt.Errorf("failed to build caption request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return types.CaptionMessage{}, fmt.Errorf("caption request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.CaptionMessage{}, fmt.Errorf("captioner returned status %d", resp.StatusCode)
	}

	var reply struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return types.CaptionMessage{}, fmt.Errorf("failed to decode caption reply: %w", err)
	}
	if reply.Question == "" {
		reply.Question = req.Question
	}
	return types.CaptionMessage{
		Source:   "caption",
		Question: reply.Question,
		Answer:   reply.Answer,
	}, nil
}
