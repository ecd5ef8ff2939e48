package sim

import (
	"stoptrainer/server/internal/scenario"
	"stoptrainer/server/internal/stock"
)

// Phase tracks the run lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// State is the canonical per-tick snapshot of the train. It is owned and
// mutated exclusively by the engine's tick routine.
type State struct {
	T          float64
	S          float64
	V          float64
	A          float64
	LeverNotch int
	Finished   bool

	// Overspeed is a side-effect flag: the integrator sets it when V exceeds
	// the profile limit at the current S. It never halts the run.
	Overspeed bool
}

// RunContext is the session-scoped record. State is replaced wholesale on
// every reset; the remaining fields survive resets for the lifetime of the
// session. Keeping them apart is what makes cross-run notch continuity work.
type RunContext struct {
	State    State
	Scenario scenario.Scenario
	Stock    stock.RollingStock

	RandomMode  bool
	AutoEnabled bool

	// FinalNotchOnFinish is written exactly once per run, at the instant the
	// run transitions to finished. Read-only everywhere else.
	FinalNotchOnFinish int

	NotchHistory []int
	LastScore    *Result

	// run-scoped scratch, cleared on reset
	jerkHistory   []float64
	prevA         float64
	overshoot     bool
	emergencyUsed bool
	hasMoved      bool

	// session-scoped
	finishedBefore bool
	plannedEntry   float64
}

// NewRunContext builds a fresh session record. A new session starts in normal
// mode with no preserved notch.
func NewRunContext(sc scenario.Scenario, rs stock.RollingStock) *RunContext {
	return &RunContext{
		Scenario: sc,
		Stock:    rs,
	}
}
