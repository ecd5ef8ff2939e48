package sim

import (
	"math"

	"stoptrainer/server/internal/scenario"
	"stoptrainer/server/internal/stock"
)

// Integrator advances the kinematic state at a fixed timestep. The commanded
// acceleration passes through a first-order brake-response filter and a jerk
// clamp before integration, so reported acceleration never steps.
type Integrator struct {
	dt        float64
	jerkLimit float64
	tauBrake  float64
	aFilt     float64
}

// NewIntegrator builds an integrator for one run context.
func NewIntegrator(dt float64, rs stock.RollingStock) *Integrator {
	return &Integrator{
		dt:        dt,
		jerkLimit: rs.JerkLimit,
		tauBrake:  rs.TauBrake,
	}
}

// Reset clears the command filter between runs.
func (it *Integrator) Reset() {
	it.aFilt = 0
}

// StepResult reports the side effects of one tick.
type StepResult struct {
	// Stopped is set on the tick the velocity reaches zero from motion.
	Stopped bool
	// Overspeed is set while V exceeds the profile limit at the current S.
	// It is advisory; the integrator never halts the run.
	Overspeed bool
}

// Step advances one fixed tick: slew A toward the target, update V from A,
// then S from the updated V (semi-implicit Euler). V is floor-clamped at 0.
func (it *Integrator) Step(st *State, target float64, sc scenario.Scenario) StepResult {
	it.aFilt += (target - it.aFilt) * (it.dt / math.Max(it.tauBrake, 1e-6))

	maxDA := it.jerkLimit * it.dt
	// ease the jerk limit as the train crawls in so the final stop settles
	if kmh := st.V * 3.6; kmh <= 5.0 && target < 0 {
		maxDA *= 0.25 + 0.75*(kmh/5.0)
	}
	da := it.aFilt - st.A
	if da > maxDA {
		da = maxDA
	} else if da < -maxDA {
		da = -maxDA
	}
	st.A += da

	var res StepResult
	v := st.V + st.A*it.dt
	if v <= 0 {
		v = 0
		res.Stopped = st.V > 0
		st.A = 0
		it.aFilt = math.Min(it.aFilt, 0)
	}
	// the half-step term can outweigh v·dt when braking hard at a crawl;
	// position never moves backward
	ds := v*it.dt + 0.5*st.A*it.dt*it.dt
	if ds < 0 {
		ds = 0
	}
	st.S += ds
	st.V = v
	st.T += it.dt

	if st.V > sc.LimitAt(st.S) {
		res.Overspeed = true
	}
	return res
}
