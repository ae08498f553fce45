package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/IdanVahab/Temi-Server/internal/scenario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8000", cfg.Server.HTTPAddr)
	assert.Equal(t, 10, cfg.Engine.HistorySize)
	assert.Equal(t, 5, cfg.Engine.TrackHistorySize)
	assert.Equal(t, 15.0, cfg.Engine.MovementThreshold)
	assert.Equal(t, 4*time.Second, cfg.Engine.PourCooldown)
	assert.Equal(t, time.Second, cfg.Engine.Cooldowns["metal_pot_in_microwave"])
	assert.Len(t, cfg.Engine.Cooldowns, 1, "only overrides of default_cooldown")
	assert.Empty(t, cfg.Journal.Path, "journal is opt-in")
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9999"
log:
  level: debug
  color: false
engine:
  history_size: 20
  pour_cooldown: 6s
  track_ttl: 0s
  cooldowns:
    pot_moved: 2s
journal:
  path: /tmp/events.db
record:
  path: /tmp/recordings
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Color)
	assert.Equal(t, 20, cfg.Engine.HistorySize)
	assert.Equal(t, 6*time.Second, cfg.Engine.PourCooldown)
	assert.Zero(t, cfg.Engine.TrackTTL)
	assert.Equal(t, 2*time.Second, cfg.Engine.Cooldowns["pot_moved"])
	assert.Equal(t, time.Second, cfg.Engine.Cooldowns["metal_pot_in_microwave"], "cooldown table merges")
	assert.Equal(t, "/tmp/events.db", cfg.Journal.Path)
	assert.Equal(t, "/tmp/recordings", cfg.Record.Path)

	sc := cfg.Engine.Scenario()
	assert.Equal(t, 2*time.Second, sc.Cooldowns[scenario.PotMoved])
	assert.Equal(t, 5*time.Second, scenario.NewGate(sc.DefaultCooldown, sc.Cooldowns).Cooldown(scenario.PlateMoved))
	assert.Equal(t, 20, sc.HistorySize)
}

func TestLoadRejectsUnknownScenario(t *testing.T) {
	path := writeConfig(t, `
engine:
  cooldowns:
    boiling_over: 1s
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boiling_over")
}

func TestLoadRejectsTinyHistory(t *testing.T) {
	path := writeConfig(t, "engine:\n  history_size: 1\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TEMI_HTTP_ADDR", ":7000")
	t.Setenv("TEMI_LOG_LEVEL", "WARN")
	t.Setenv("TEMI_TRACK_TTL", "30s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.HTTPAddr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Engine.TrackTTL)
}

func TestDefaultCooldownAppliesToUnlistedScenarios(t *testing.T) {
	path := writeConfig(t, `
engine:
  default_cooldown: 8s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	sc := cfg.Engine.Scenario()
	gate := scenario.NewGate(sc.DefaultCooldown, sc.Cooldowns)
	for _, name := range scenario.Names() {
		if name.IsEmergency() {
			continue
		}
		assert.Equal(t, 8*time.Second, gate.Cooldown(name), name)
	}
}
