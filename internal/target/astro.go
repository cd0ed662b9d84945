package target

import (
	"math"
	"time"
)

// Coordinates is an equatorial pointing in degrees.
type Coordinates struct {
	RAHours float64
	DecDeg  float64
}

// HorizontalCoordinates is a topocentric pointing, refreshed
// periodically by the caller from the astronomical computation
// library (outside this package's scope).
type HorizontalCoordinates struct {
	AltitudeDeg float64
	AzimuthDeg  float64
	UpdatedAt   time.Time
}

// ExposurePlan is one filter/duration/count triple within a Target's
// observing plan.
type ExposurePlan struct {
	Filter    string
	Duration  time.Duration
	Planned   int
	Completed int
}

// ObservabilityWindow bounds when a target may be observed.
type ObservabilityWindow struct {
	Start time.Time
	End   time.Time
}

// MeridianFlipInfo tracks whether and when a target will cross, or has
// crossed, the meridian.
type MeridianFlipInfo struct {
	FlipTime  time.Time
	Needed    bool
	Completed bool
}

type astroState struct {
	coords        Coordinates
	horizontal    HorizontalCoordinates
	plans         []ExposurePlan
	planIndex     int
	window        ObservabilityWindow
	flip          MeridianFlipInfo
	priority      int
	minAltitude   float64
}

func newAstroState() astroState {
	return astroState{priority: 5}
}

func (tg *Target) SetCoordinates(c Coordinates) {
	tg.mu.Lock()
	tg.astro.coords = c
	tg.mu.Unlock()
}

func (tg *Target) Coordinates() Coordinates {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.astro.coords
}

func (tg *Target) SetPriority(p int) {
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	tg.mu.Lock()
	tg.astro.priority = p
	tg.mu.Unlock()
}

func (tg *Target) AstroPriority() int {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.astro.priority
}

func (tg *Target) SetMinimumAltitude(deg float64) {
	tg.mu.Lock()
	tg.astro.minAltitude = deg
	tg.mu.Unlock()
}

// AddExposurePlan appends a new plan. Invariant: completed <= planned
// is enforced at RecordCompletedExposure time.
func (tg *Target) AddExposurePlan(p ExposurePlan) {
	tg.mu.Lock()
	tg.astro.plans = append(tg.astro.plans, p)
	tg.mu.Unlock()
}

// RemoveExposurePlan removes the plan at index, clamping the current
// plan index into [0, len(plans)].
func (tg *Target) RemoveExposurePlan(index int) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if index < 0 || index >= len(tg.astro.plans) {
		return
	}
	tg.astro.plans = append(tg.astro.plans[:index], tg.astro.plans[index+1:]...)
	if tg.astro.planIndex > len(tg.astro.plans) {
		tg.astro.planIndex = len(tg.astro.plans)
	}
}

// GetCurrentExposurePlan returns the plan at the current index, or
// false if the index is at or past the end.
func (tg *Target) GetCurrentExposurePlan() (ExposurePlan, bool) {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	if tg.astro.planIndex < 0 || tg.astro.planIndex >= len(tg.astro.plans) {
		return ExposurePlan{}, false
	}
	return tg.astro.plans[tg.astro.planIndex], true
}

// AdvanceExposurePlan moves to the next plan, capped at len(plans).
func (tg *Target) AdvanceExposurePlan() {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.astro.planIndex < len(tg.astro.plans) {
		tg.astro.planIndex++
	}
}

// RecordCompletedExposure increments the completed count of the
// current plan, never exceeding its planned count.
func (tg *Target) RecordCompletedExposure() {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.astro.planIndex < 0 || tg.astro.planIndex >= len(tg.astro.plans) {
		return
	}
	p := &tg.astro.plans[tg.astro.planIndex]
	if p.Completed < p.Planned {
		p.Completed++
	}
}

func (tg *Target) SetObservabilityWindow(w ObservabilityWindow) {
	tg.mu.Lock()
	tg.astro.window = w
	tg.mu.Unlock()
}

func (tg *Target) UpdateHorizontalCoordinates(h HorizontalCoordinates) {
	tg.mu.Lock()
	tg.astro.horizontal = h
	tg.mu.Unlock()
}

func (tg *Target) UpdateMeridianFlipInfo(info MeridianFlipInfo) {
	tg.mu.Lock()
	tg.astro.flip = info
	tg.mu.Unlock()
}

// IsObservable reports whether now falls within the observability
// window and the last-known altitude clears the minimum.
func (tg *Target) IsObservable(now time.Time) bool {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	w := tg.astro.window
	if !w.Start.IsZero() && now.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && now.After(w.End) {
		return false
	}
	if tg.astro.minAltitude > 0 && tg.astro.horizontal.AltitudeDeg < tg.astro.minAltitude {
		return false
	}
	return true
}

func (tg *Target) NeedsMeridianFlip() bool {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.astro.flip.Needed && !tg.astro.flip.Completed
}

func (tg *Target) MarkMeridianFlipCompleted() {
	tg.mu.Lock()
	tg.astro.flip.Completed = true
	tg.astro.flip.Needed = false
	tg.mu.Unlock()
}

// GetRemainingExposureTime sums Duration * (Planned - Completed) over
// every plan from the current index onward.
func (tg *Target) GetRemainingExposureTime() time.Duration {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	var total time.Duration
	for i := tg.astro.planIndex; i < len(tg.astro.plans); i++ {
		p := tg.astro.plans[i]
		remaining := p.Planned - p.Completed
		if remaining > 0 {
			total += p.Duration * time.Duration(remaining)
		}
	}
	return total
}

// GetExposureProgress returns completed/planned*100 across all plans,
// or 100 if there are no plans.
func (tg *Target) GetExposureProgress() float64 {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	var planned, completed int
	for _, p := range tg.astro.plans {
		planned += p.Planned
		completed += p.Completed
	}
	if planned == 0 {
		return 100
	}
	return math.Min(100, float64(completed)/float64(planned)*100)
}

func (tg *Target) AreExposurePlansComplete() bool {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	for _, p := range tg.astro.plans {
		if p.Completed < p.Planned {
			return false
		}
	}
	return true
}
