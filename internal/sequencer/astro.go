package sequencer

import (
	"time"

	"github.com/elementastro/orrery/internal/target"
)

// Ephemeris is the astronomical-computation collaborator a Sequencer
// consults for observability and meridian-flip scheduling. It is an
// external collaborator by design: no orbital mechanics live in this
// package. A caller wires in whatever planetarium library it has;
// Sequencer only ever asks it for the current geometry of a Target's
// recorded coordinates.
type Ephemeris interface {
	// Horizontal returns the topocentric altitude/azimuth of coords at
	// the given instant, from the configured observer location.
	Horizontal(coords target.Coordinates, at time.Time) (altitudeDeg, azimuthDeg float64)
	// MeridianFlip reports whether coords needs a meridian flip at the
	// given instant, and if so when it occurs.
	MeridianFlip(coords target.Coordinates, at time.Time) (needed bool, flipTime time.Time)
}

// CheckMeridianFlips returns the name of the first target, in insertion
// order, that currently needs a meridian flip.
func (s *Sequencer) CheckMeridianFlips() (string, bool) {
	return s.checkMeridianFlips(time.Now())
}

// checkMeridianFlips returns the name of the first target, in insertion
// order, that currently needs a meridian flip, consulting the Ephemeris to refresh
// its flip info before checking. Returns ("", false) when none do or
// no Ephemeris is configured.
func (s *Sequencer) checkMeridianFlips(now time.Time) (string, bool) {
	s.mu.RLock()
	eph := s.ephemeris
	names := append([]string{}, s.order...)
	s.mu.RUnlock()
	if eph == nil {
		return "", false
	}
	for _, name := range names {
		s.mu.RLock()
		tg := s.targets[name]
		s.mu.RUnlock()
		if tg == nil {
			continue
		}
		needed, flipTime := eph.MeridianFlip(tg.Coordinates(), now)
		tg.UpdateMeridianFlipInfo(target.MeridianFlipInfo{Needed: needed, FlipTime: flipTime})
		if tg.NeedsMeridianFlip() {
			return name, true
		}
	}
	return "", false
}

// CanCompleteBeforeDawn reports whether every target's remaining
// exposure time, started now, fits before dawnTime.
func (s *Sequencer) CanCompleteBeforeDawn(dawnTime time.Time) bool {
	return s.canCompleteBeforeDawn(time.Now(), dawnTime)
}

// GetTargetsCompletableBeforeDawn returns the names of targets whose
// remaining exposure time, started now, finishes at or before
// dawnTime.
func (s *Sequencer) GetTargetsCompletableBeforeDawn(dawnTime time.Time) []string {
	return s.getTargetsCompletableBeforeDawn(time.Now(), dawnTime)
}

// canCompleteBeforeDawn reports whether every target's remaining
// exposure time fits before dawnTime.
func (s *Sequencer) canCompleteBeforeDawn(now, dawnTime time.Time) bool {
	return len(s.getTargetsCompletableBeforeDawn(now, dawnTime)) == len(s.GetTargetNames())
}

// getTargetsCompletableBeforeDawn returns the names of targets whose
// remaining exposure time, started now, finishes at or before
// dawnTime.
func (s *Sequencer) getTargetsCompletableBeforeDawn(now, dawnTime time.Time) []string {
	budget := dawnTime.Sub(now)
	var out []string
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range s.order {
		tg := s.targets[name]
		if tg == nil {
			continue
		}
		if tg.GetRemainingExposureTime() <= budget {
			out = append(out, name)
		}
	}
	return out
}

// sortByObservability returns names with the targets observable at now
// first and the rest after them, each group keeping its input order.
// It does not order by window close time, and no scheduling strategy
// calls it.
func (s *Sequencer) sortByObservability(now time.Time, names []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	observable := make([]string, 0, len(names))
	rest := make([]string, 0, len(names))
	for _, n := range names {
		tg := s.targets[n]
		if tg != nil && tg.IsObservable(now) {
			observable = append(observable, n)
		} else {
			rest = append(rest, n)
		}
	}
	return append(observable, rest...)
}
