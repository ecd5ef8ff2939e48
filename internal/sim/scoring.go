package sim

import "math"

// Breakdown itemizes a run score for the client-side result panel.
type Breakdown struct {
	Position      float64 `json:"position"`
	Comfort       float64 `json:"comfort"`
	StairBonus    float64 `json:"stair_bonus"`
	Penalty       float64 `json:"penalty"`
	StopErrorM    float64 `json:"stop_error_m"`
	Overshoot     bool    `json:"overshoot"`
	EmergencyUsed bool    `json:"emergency_used"`
}

// Result is the graded outcome of one finished run.
type Result struct {
	Score     float64   `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
}

const (
	scoreFloor   = 300.0
	scoreCeiling = 1200.0
)

// scoreRun grades a finished run. The raw score accumulates a position term,
// a comfort term from the final-second jerk history and a stair bonus, minus
// penalties for emergency use and running past the marker. The raw value is
// clamped to [300, 1200] and normalized to 0..100.
func scoreRun(rc *RunContext, dt float64) Result {
	stopErr := rc.State.S - rc.Scenario.TargetDistance
	errAbs := math.Abs(stopErr)
	tol := rc.Scenario.Tolerance
	if tol <= 0 {
		tol = 0.5
	}

	var position float64
	if errAbs <= tol {
		position = 500 * (1 - errAbs/(2*tol))
	} else {
		position = math.Max(0, 250-(errAbs-tol)*200)
	}
	if errAbs < 0.01 {
		position += 500
	}

	comfort := comfortScore(rc.jerkHistory, dt)

	var stair float64
	if isStairPattern(rc.NotchHistory) {
		stair = 300
	}

	var penalty float64
	if rc.emergencyUsed {
		penalty += 500
	}
	if rc.overshoot {
		penalty += 1000
	}

	raw := scoreFloor + position + comfort + stair - penalty
	if raw < scoreFloor {
		raw = scoreFloor
	}
	if raw > scoreCeiling {
		raw = scoreCeiling
	}

	return Result{
		Score: (raw - scoreFloor) / (scoreCeiling - scoreFloor) * 100,
		Breakdown: Breakdown{
			Position:      position,
			Comfort:       comfort,
			StairBonus:    stair,
			Penalty:       penalty,
			StopErrorM:    stopErr,
			Overshoot:     rc.overshoot,
			EmergencyUsed: rc.emergencyUsed,
		},
	}
}

// comfortScore grades the last second of the approach by mean absolute jerk.
// Full marks at or below 10 mm/s^3 per sample-second equivalent, fading
// linearly to zero at 30.
func comfortScore(jerks []float64, dt float64) float64 {
	window := int(1.0 / dt)
	if window < 1 {
		window = 1
	}
	if len(jerks) > window {
		jerks = jerks[len(jerks)-window:]
	}
	if len(jerks) == 0 {
		return 500
	}
	var sum float64
	for _, j := range jerks {
		sum += math.Abs(j)
	}
	avg := sum / float64(len(jerks))
	switch {
	case avg <= 10:
		return 500
	case avg >= 30:
		return 0
	default:
		return 500 * (30 - avg) / 20
	}
}

// isStairPattern reports whether the notch sequence rose to a single peak and
// then stepped down, ending on B1 or B2. Adjacent duplicates collapse first,
// so holding a notch does not break the pattern.
func isStairPattern(history []int) bool {
	seq := make([]int, 0, len(history))
	for _, n := range history {
		if len(seq) == 0 || seq[len(seq)-1] != n {
			seq = append(seq, n)
		}
	}
	if len(seq) < 4 {
		return false
	}
	last := seq[len(seq)-1]
	if last != 1 && last != 2 {
		return false
	}
	peak := 0
	for i, n := range seq {
		if n > seq[peak] {
			peak = i
		}
	}
	for i := 1; i <= peak; i++ {
		if seq[i] <= seq[i-1] {
			return false
		}
	}
	for i := peak + 1; i < len(seq); i++ {
		if seq[i] >= seq[i-1] {
			return false
		}
	}
	return true
}
