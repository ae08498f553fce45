package scenario

import (
	"fmt"
	"time"
)

// Gate rate-limits repeated reports of the same scenario and numbers
// emergency incidents. The zero value is not usable; call NewGate.
type Gate struct {
	defaultCooldown time.Duration
	cooldowns       map[Name]time.Duration

	lastReported   Name // empty when idle
	lastReportTime time.Time
	incidents      map[Name]int
}

// NewGate creates a gate. Scenarios missing from cooldowns use defaultCooldown.
func NewGate(defaultCooldown time.Duration, cooldowns map[Name]time.Duration) *Gate {
	table := make(map[Name]time.Duration, len(cooldowns))
	for name, d := range cooldowns {
		table[name] = d
	}
	return &Gate{
		defaultCooldown: defaultCooldown,
		cooldowns:       table,
		incidents:       make(map[Name]int),
	}
}

// Cooldown returns the suppression window for name.
func (g *Gate) Cooldown(name Name) time.Duration {
	if d, ok := g.cooldowns[name]; ok {
		return d
	}
	return g.defaultCooldown
}

// ShouldSend decides whether a matched scenario is reported. Emergencies are
// always sent with a fresh incident id. Nothing changes when it returns false.
func (g *Gate) ShouldSend(name Name, now time.Time) (bool, string) {
	if name.IsEmergency() {
		g.incidents[name]++
		return true, fmt.Sprintf("%s_incident_%d", name, g.incidents[name])
	}

	if g.lastReported != name || now.Sub(g.lastReportTime) > g.Cooldown(name) {
		g.lastReported = name
		g.lastReportTime = now
		return true, ""
	}
	return false, ""
}

// Reset forgets the last reported scenario. The report time is kept.
func (g *Gate) Reset() {
	g.lastReported = ""
}

// LastReported returns the scenario the gate currently treats as active.
func (g *Gate) LastReported() (Name, bool) {
	return g.lastReported, g.lastReported != ""
}

// Incidents returns how many incidents were issued for name.
func (g *Gate) Incidents(name Name) int {
	return g.incidents[name]
}
