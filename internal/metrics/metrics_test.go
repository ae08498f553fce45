package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveEmittedAndSuppressed(t *testing.T) {
	m := New()

	m.ObserveEmitted("pouring_food", false)
	m.ObserveEmitted("metal_pot_in_microwave", true)
	m.ObserveSuppressed("pouring_food")

	assert.Equal(t, uint64(2), m.ScenariosEmitted.Load())
	assert.Equal(t, uint64(1), m.Incidents.Load())
	assert.Equal(t, uint64(1), m.ScenariosSuppressed.Load())

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "scenario_events_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var scenario, outcome string
			for _, lp := range metric.GetLabel() {
				switch lp.GetName() {
				case "scenario":
					scenario = lp.GetValue()
				case "outcome":
					outcome = lp.GetValue()
				}
			}
			counts[scenario+"/"+outcome] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, counts["pouring_food/sent"])
	assert.Equal(t, 1.0, counts["pouring_food/suppressed"])
	assert.Equal(t, 1.0, counts["metal_pot_in_microwave/sent"])
}

func TestSessionGauges(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, int64(1), m.ActiveSessions.Load())
	assert.Equal(t, uint64(2), m.TotalSessions.Load())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.FramesReceived.Add(3)
	m.UpdateProcessLatency(250 * time.Microsecond)
	m.ObserveEmitted("cutlery_used", false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	for _, needle := range []string{
		"scenario_frames_received_total 3",
		"scenario_process_latency_us 250",
		`scenario_events_total{outcome="sent",scenario="cutlery_used"} 1`,
	} {
		assert.True(t, strings.Contains(text, needle), "missing %q", needle)
	}
}
