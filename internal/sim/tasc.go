package sim

import (
	"math"

	"stoptrainer/server/internal/scenario"
	"stoptrainer/server/internal/stock"
)

// FineStopPolicy selects what the automatic controller does once the train
// is inside the fine-stop window.
type FineStopPolicy int

const (
	// PolicyHoldFinalNotch keeps the last commanded notch applied through the
	// stop. The lever therefore finishes in a braking position.
	PolicyHoldFinalNotch FineStopPolicy = iota
	// PolicyReleaseToManual drops the controller out inside the fine-stop
	// window and hands the lever back to the driver as-is.
	PolicyReleaseToManual
)

// TASCConfig tunes the automatic stopping controller.
type TASCConfig struct {
	// TakeoverDistance is how far from the stop marker the armed controller
	// goes active, in meters.
	TakeoverDistance float64
	// Deadband is the required-deceleration hysteresis band in m/s^2. Relax
	// steps only fire when the weaker notch still covers aReq plus this margin.
	Deadband float64
	// DwellTicks is the minimum number of ticks between relax steps.
	DwellTicks int
	// FineStopDistance is the remaining distance below which the fine-stop
	// policy applies, in meters.
	FineStopDistance float64
	Policy           FineStopPolicy
}

// DefaultTASCConfig mirrors the in-service tuning of the controller.
func DefaultTASCConfig() TASCConfig {
	return TASCConfig{
		TakeoverDistance: 250,
		Deadband:         0.05,
		DwellTicks:       3,
		FineStopDistance: 2,
		Policy:           PolicyHoldFinalNotch,
	}
}

// TASC is the automatic stopping controller. When enabled it arms at run
// start, goes active inside the takeover distance and commands brake notches
// until the train stops at the marker. It never commands traction.
type TASC struct {
	cfg         TASCConfig
	armed       bool
	active      bool
	sinceChange int
}

// NewTASC builds a controller with the given tuning.
func NewTASC(cfg TASCConfig) *TASC {
	if cfg.TakeoverDistance <= 0 {
		cfg.TakeoverDistance = DefaultTASCConfig().TakeoverDistance
	}
	if cfg.Deadband <= 0 {
		cfg.Deadband = DefaultTASCConfig().Deadband
	}
	if cfg.DwellTicks <= 0 {
		cfg.DwellTicks = DefaultTASCConfig().DwellTicks
	}
	if cfg.FineStopDistance <= 0 {
		cfg.FineStopDistance = DefaultTASCConfig().FineStopDistance
	}
	return &TASC{cfg: cfg}
}

// Reset returns the controller to its pre-run state. When engaged it arms
// immediately so the next Command can take over at the threshold.
func (t *TASC) Reset(engaged bool) {
	t.armed = engaged
	t.active = false
	t.sinceChange = 0
}

// Armed reports whether the controller is waiting for the takeover point.
func (t *TASC) Armed() bool { return t.armed }

// Active reports whether the controller currently owns the lever.
func (t *TASC) Active() bool { return t.active }

// Decision is the controller's output for one tick.
type Decision struct {
	// Notch is the commanded lever position; meaningful only when the
	// controller is active and has not released.
	Notch int
	// Changed is set when Notch differs from the current lever position.
	Changed bool
	// Overshoot is set when the train has passed the marker while still
	// moving. The engine escalates this to an emergency application.
	Overshoot bool
	// Released is set once, on the tick the fine-stop policy hands the lever
	// back to the driver.
	Released bool
}

// Command evaluates one tick. st is the post-command, pre-integration state.
func (t *TASC) Command(st State, sc scenario.Scenario, rs stock.RollingStock) Decision {
	if !t.armed && !t.active {
		return Decision{Notch: st.LeverNotch}
	}

	rem := sc.Remaining(st.S)

	if t.armed && !t.active {
		if rem > t.cfg.TakeoverDistance {
			return Decision{Notch: st.LeverNotch}
		}
		t.armed = false
		t.active = true
		// allow an immediate first command
		t.sinceChange = t.cfg.DwellTicks
	}

	if rem < 0 && st.V > 0 {
		return Decision{Notch: rs.EmergencyNotch(), Changed: st.LeverNotch != rs.EmergencyNotch(), Overshoot: true}
	}

	if rem <= t.cfg.FineStopDistance && t.cfg.Policy == PolicyReleaseToManual {
		t.active = false
		return Decision{Notch: st.LeverNotch, Released: true}
	}

	t.sinceChange++

	aReq := requiredDecel(st.V, rem)
	if !isFinite(aReq) || aReq <= 0 {
		if st.V > 0.1 {
			// on the marker but still moving; hold maximum braking
			n := rs.MaxServiceNotch()
			return Decision{Notch: n, Changed: st.LeverNotch != n}
		}
		// already at the target point; nothing to command
		d := Decision{Notch: 0, Changed: st.LeverNotch != 0}
		if d.Changed {
			t.sinceChange = 0
		}
		return d
	}

	want := quantize(aReq, rs)
	cur := st.LeverNotch

	switch {
	case want > cur:
		// insufficient braking; tighten immediately
		t.sinceChange = 0
		return Decision{Notch: want, Changed: true}
	case want < cur && cur > 1:
		// relax one step at a time, only when the weaker notch still covers
		// the requirement with margin and the dwell has elapsed
		next := cur - 1
		if rs.Decel(next) >= aReq+t.cfg.Deadband && t.sinceChange >= t.cfg.DwellTicks {
			t.sinceChange = 0
			return Decision{Notch: next, Changed: true}
		}
	}
	return Decision{Notch: cur}
}

// requiredDecel is the constant deceleration that stops exactly at the marker.
func requiredDecel(v, rem float64) float64 {
	if rem <= 0 {
		return math.Inf(1)
	}
	return v * v / (2 * rem)
}

// quantize picks the weakest service notch whose nominal deceleration covers
// the requirement. Requirements beyond the service range saturate at the
// maximum service notch; Emergency is reserved for overshoot.
func quantize(aReq float64, rs stock.RollingStock) int {
	for n := 1; n <= rs.MaxServiceNotch(); n++ {
		if rs.Decel(n) >= aReq {
			return n
		}
	}
	return rs.MaxServiceNotch()
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
