package scenario

import "math"

// LimitPoint is one breakpoint of the speed-limit profile: the limit applies
// from At (meters from the run origin) until the next breakpoint.
type LimitPoint struct {
	At    float64 `yaml:"at"`
	Limit float64 `yaml:"limit"`
}

// Obstacle marks a trackside hazard the client may turn into an emergency
// sequence. The core only carries it through to the snapshot consumers.
type Obstacle struct {
	At   float64 `yaml:"at"`
	Type string  `yaml:"type"`
}

// Scenario is one immutable stopping exercise: approach speed, distance to
// the stop marker, and the track profile between them.
type Scenario struct {
	ID             string       `yaml:"id"`
	Name           string       `yaml:"name"`
	TargetDistance float64      `yaml:"target_distance"`
	EntrySpeed     float64      `yaml:"entry_speed"`
	GradePercent   float64      `yaml:"grade_percent"`
	Tolerance      float64      `yaml:"tolerance"`
	Limits         []LimitPoint `yaml:"limits,omitempty"`
	Obstacles      []Obstacle   `yaml:"obstacles,omitempty"`
}

// LimitAt returns the speed limit in force at a track position. Positions
// before the first breakpoint (or an empty profile) are unrestricted.
func (s Scenario) LimitAt(pos float64) float64 {
	limit := math.Inf(1)
	for _, p := range s.Limits {
		if pos < p.At {
			break
		}
		limit = p.Limit
	}
	return limit
}

// Remaining is the distance from a track position to the stop marker.
func (s Scenario) Remaining(pos float64) float64 {
	return s.TargetDistance - pos
}

// Default is the built-in fallback used when no scenario files load: a flat
// 500 m approach at 90 km/h with a PSD-grade stop window.
func Default() Scenario {
	return Scenario{
		ID:             "default",
		Name:           "Flat 500 m approach",
		TargetDistance: 500,
		EntrySpeed:     25,
		GradePercent:   0,
		Tolerance:      0.5,
	}
}
