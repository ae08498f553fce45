package scenario

import "time"

type rule struct {
	name  Name
	match func(e *Engine, now time.Time) bool
}

// ruleBank is evaluated top to bottom; the first match wins.
var ruleBank = [...]rule{
	{MetalPotInMicrowave, (*Engine).detectMetalPotInMicrowave},
	{PouringFood, (*Engine).detectPouring},
	{PlateRemovedFromMicrowave, (*Engine).detectPlateRemoved},
	{PotAndPlateOnCounter, (*Engine).detectPotAndPlateOnCounter},
	{CutleryDetected, (*Engine).detectCutleryPresent},
	{PlateInsertedIntoMicrowave, (*Engine).detectPlateInserted},
	{PlateMoved, movingRule(LabelPlate)},
	{PotMoved, movingRule(LabelPot)},
	{CutleryUsed, movingRule(LabelCutlery)},
	{PersonInteracts, movingRule(LabelPerson)},
}

func (e *Engine) detectMetalPotInMicrowave(time.Time) bool {
	f, ok := e.history.Latest()
	return ok && f.Labels.Has(LabelMetalPotInMicrowave)
}

// detectPouring fires when a pot and a plate or bowl were last seen close
// together in time. It carries its own cooldown, stamped whenever it fires.
func (e *Engine) detectPouring(now time.Time) bool {
	potAt, ok := e.history.LastSeen(LabelPot)
	if !ok {
		return false
	}
	plateAt, ok := e.history.LastSeen(LabelPlate, LabelBowl)
	if !ok {
		return false
	}
	gap := potAt.Sub(plateAt)
	if gap < 0 {
		gap = -gap
	}
	if gap >= e.cfg.PourWindow {
		return false
	}
	if !e.lastPour.IsZero() && now.Sub(e.lastPour) <= e.cfg.PourCooldown {
		return false
	}
	e.lastPour = now
	return true
}

func (e *Engine) detectPlateRemoved(time.Time) bool {
	curr, ok := e.history.Latest()
	if !ok {
		return false
	}
	prev, ok := e.history.Previous()
	if !ok {
		return false
	}
	microwaveOpen := curr.Labels.Has(LabelOpenMicrowave) || prev.Labels.Has(LabelOpenMicrowave)
	return prev.Labels.HasAny(LabelPlate, LabelBowl) &&
		!curr.Labels.HasAny(LabelPlate, LabelBowl) &&
		microwaveOpen
}

func (e *Engine) detectPotAndPlateOnCounter(time.Time) bool {
	f, ok := e.history.Latest()
	return ok && f.Labels.Has(LabelPot) && f.Labels.Has(LabelPlate)
}

func (e *Engine) detectCutleryPresent(time.Time) bool {
	return e.history.AnyContains(LabelCutlery)
}

func (e *Engine) detectPlateInserted(time.Time) bool {
	f, ok := e.history.Latest()
	return ok && f.Labels.Has(LabelPlate) && f.Labels.Has(LabelOpenMicrowave)
}

func movingRule(label string) func(*Engine, time.Time) bool {
	return func(e *Engine, _ time.Time) bool {
		return e.tracks.AnyMoving(label)
	}
}

// match runs the bank and returns the first scenario that fires.
func (e *Engine) match(now time.Time) (Name, bool) {
	for _, r := range ruleBank {
		if r.match(e, now) {
			return r.name, true
		}
	}
	return "", false
}
