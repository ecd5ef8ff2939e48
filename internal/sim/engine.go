package sim

import (
	"go.uber.org/zap"

	"stoptrainer/server/internal/scenario"
	"stoptrainer/server/internal/stock"
)

const (
	engineTicksMetricKey    = "sim_engine_ticks_total"
	engineRunsMetricKey     = "sim_engine_runs_finished_total"
	engineCommandsMetricKey = "sim_engine_commands_total"
)

// EngineConfig assembles one session engine.
type EngineConfig struct {
	// TickRate is the fixed simulation rate in Hz.
	TickRate int
	Stock    stock.RollingStock
	Store    *scenario.Store
	TASC     TASCConfig
	// OnFinish fires on the tick a run completes, before the next command is
	// applied. Called from the tick goroutine; implementations must not block.
	OnFinish func(*RunContext, Result)
}

// Engine owns one session's run context and advances it tick by tick. All
// mutation happens on the tick goroutine: commands are applied between steps,
// never during one.
type Engine struct {
	deps     Deps
	cfg      EngineConfig
	rc       *RunContext
	ctrl     Controller
	integ    *Integrator
	tasc     *TASC
	dt       float64
	phase    Phase
	tick     uint64
	onFinish func(*RunContext, Result)

	// lever-to-brake command latency
	cmdDelayTicks int
	appliedNotch  int
	pendingNotch  int
	delayLeft     int
}

// NewEngine builds a session engine in the idle phase.
func NewEngine(cfg EngineConfig, deps Deps) *Engine {
	deps = deps.normalized()
	if cfg.TickRate <= 0 {
		cfg.TickRate = 60
	}
	if cfg.Stock.Notches() == 0 {
		cfg.Stock = stock.Default()
	}
	dt := 1.0 / float64(cfg.TickRate)
	return &Engine{
		deps:          deps,
		cfg:           cfg,
		rc:            NewRunContext(scenario.Default(), cfg.Stock),
		ctrl:          NewController(cfg.Stock),
		integ:         NewIntegrator(dt, cfg.Stock),
		tasc:          NewTASC(cfg.TASC),
		dt:            dt,
		onFinish:      cfg.OnFinish,
		cmdDelayTicks: int(cfg.Stock.TauCmd/dt + 0.5),
	}
}

// Phase reports the current run phase.
func (e *Engine) Phase() Phase { return e.phase }

// Context exposes the session record. Tick-goroutine use only.
func (e *Engine) Context() *RunContext { return e.rc }

// Apply processes a drained batch of commands in arrival order. Consecutive
// lever requests collapse to the most recent one so a burst of notch traffic
// lands as a single change.
func (e *Engine) Apply(commands []Command) {
	pendingNotch := -1
	flush := func() {
		if pendingNotch >= 0 {
			e.applySetNotch(pendingNotch)
			pendingNotch = -1
		}
	}
	for _, cmd := range commands {
		if e.deps.Metrics != nil {
			e.deps.Metrics.Add(engineCommandsMetricKey, 1)
		}
		switch cmd.Type {
		case CommandSetNotch:
			if cmd.SetNotch != nil {
				pendingNotch = cmd.SetNotch.Notch
			}
		case CommandSetInitial:
			flush()
			if cmd.SetInitial != nil {
				e.applySetInitial(*cmd.SetInitial)
			}
		case CommandToggleAuto:
			flush()
			if cmd.ToggleAuto != nil {
				e.applyToggleAuto(cmd.ToggleAuto.Enabled)
			}
		case CommandAdvanceStation:
			flush()
			e.advanceStation()
		default:
			e.deps.Logger.Warn("unknown command dropped", zap.String("type", string(cmd.Type)))
		}
	}
	flush()
}

func (e *Engine) applySetInitial(cmd SetInitialCommand) {
	e.rc.RandomMode = cmd.RandomMode

	var sc scenario.Scenario
	if cmd.ScenarioID != "" {
		if s, ok := e.storeByID(cmd.ScenarioID); ok {
			sc = s
		} else {
			e.deps.Logger.Warn("unknown scenario requested", zap.String("scenario_id", cmd.ScenarioID))
			sc = e.drawScenario()
		}
	} else {
		sc = e.drawScenario()
	}
	e.startRun(sc)
}

func (e *Engine) applyToggleAuto(enabled bool) {
	e.rc.AutoEnabled = enabled
	e.tasc.Reset(enabled && e.phase == PhaseRunning)
	e.deps.Logger.Info("auto toggled", zap.Bool("enabled", enabled))
}

func (e *Engine) applySetNotch(n int) {
	// the controller owns the lever while engaged mid-run
	if e.rc.AutoEnabled && e.phase == PhaseRunning && e.tasc.Active() {
		return
	}
	n = e.ctrl.Clamp(n)
	if e.phase == PhaseFinished {
		e.rc.State.LeverNotch = n
		e.rc.FinalNotchOnFinish = n
		return
	}
	if n == e.rc.Stock.EmergencyNotch() && e.rc.State.V > 0 {
		e.rc.emergencyUsed = true
	}
	e.rc.State.LeverNotch = n
}

func (e *Engine) advanceStation() {
	if e.phase != PhaseFinished && !(e.rc.RandomMode && e.phase == PhaseRunning) {
		return
	}
	e.startRun(e.drawScenario())
}

func (e *Engine) drawScenario() scenario.Scenario {
	if e.cfg.Store == nil {
		return scenario.Default()
	}
	if e.rc.RandomMode {
		return e.cfg.Store.Random()
	}
	return e.cfg.Store.Next()
}

func (e *Engine) storeByID(id string) (scenario.Scenario, bool) {
	if e.cfg.Store == nil {
		return scenario.Scenario{}, false
	}
	return e.cfg.Store.ByID(id)
}

func (e *Engine) startRun(sc scenario.Scenario) {
	e.rc.Scenario = sc
	e.reset()
	e.start()
}

// reset is the single owner of cross-run notch continuity. It replaces the
// kinematic state wholesale and then re-asserts the preserved lever position,
// downgrading a held Emergency to the strongest service notch. Continuity
// only applies in random mode; a sequential-mode reset starts at N.
func (e *Engine) reset() {
	rc := e.rc
	notch := 0
	if rc.finishedBefore && rc.RandomMode {
		notch = rc.Stock.ClampNotch(rc.FinalNotchOnFinish)
		if notch == rc.Stock.EmergencyNotch() {
			notch = rc.Stock.MaxServiceNotch()
		}
	}

	rc.State = State{LeverNotch: notch}
	rc.NotchHistory = rc.NotchHistory[:0]
	rc.LastScore = nil
	rc.jerkHistory = rc.jerkHistory[:0]
	rc.prevA = 0
	rc.overshoot = false
	rc.emergencyUsed = false
	rc.hasMoved = false
	rc.plannedEntry = rc.Scenario.EntrySpeed

	e.appliedNotch = notch
	e.pendingNotch = notch
	e.delayLeft = 0

	e.integ.Reset()
	e.tasc.Reset(rc.AutoEnabled)
	e.phase = PhaseIdle

	e.deps.Logger.Info("reset",
		zap.String("scenario_id", rc.Scenario.ID),
		zap.Int("lever_notch", notch),
		zap.Bool("random_mode", rc.RandomMode))
}

// start latches the entry speed and moves the run into the running phase.
func (e *Engine) start() {
	e.rc.State.V = e.rc.plannedEntry
	e.phase = PhaseRunning
}

// Step advances the simulation one tick. A no-op outside the running phase.
func (e *Engine) Step() {
	if e.deps.Metrics != nil {
		e.deps.Metrics.Add(engineTicksMetricKey, 1)
	}
	e.tick++
	if e.phase != PhaseRunning {
		return
	}
	rc := e.rc
	st := &rc.State

	if st.V > 0.1 {
		rc.hasMoved = true
		if n := len(rc.NotchHistory); n == 0 || rc.NotchHistory[n-1] != st.LeverNotch {
			rc.NotchHistory = append(rc.NotchHistory, st.LeverNotch)
		}
	}

	if rc.AutoEnabled {
		d := e.tasc.Command(*st, rc.Scenario, rc.Stock)
		if d.Overshoot && !rc.overshoot {
			rc.overshoot = true
			rc.emergencyUsed = true
			e.deps.Logger.Warn("overshoot",
				zap.Float64("s", st.S),
				zap.Float64("v", st.V),
				zap.String("scenario_id", rc.Scenario.ID))
		}
		if d.Released {
			e.deps.Logger.Info("tasc_released", zap.Int("lever_notch", st.LeverNotch))
		}
		if d.Changed {
			st.LeverNotch = d.Notch
			e.deps.Logger.Debug("tasc_notch_change",
				zap.Int("lever_notch", d.Notch),
				zap.Float64("remaining_m", rc.Scenario.Remaining(st.S)))
		}
	} else if rc.Scenario.Remaining(st.S) < 0 && st.V > 0 && !rc.overshoot {
		rc.overshoot = true
		e.deps.Logger.Warn("overshoot",
			zap.Float64("s", st.S),
			zap.Float64("v", st.V),
			zap.String("scenario_id", rc.Scenario.ID))
	}

	target := e.ctrl.TargetAccel(e.effectiveNotch(), st.V, rc.Scenario)
	res := e.integ.Step(st, target, rc.Scenario)

	if res.Overspeed && !st.Overspeed {
		e.deps.Logger.Warn("overspeed",
			zap.Float64("v", st.V),
			zap.Float64("limit", rc.Scenario.LimitAt(st.S)))
	}
	st.Overspeed = res.Overspeed

	rc.jerkHistory = append(rc.jerkHistory, (st.A-rc.prevA)/e.dt)
	rc.prevA = st.A

	rem := rc.Scenario.Remaining(st.S)
	if (res.Stopped && rc.hasMoved) || rem <= -5.0 {
		e.finish()
	}
}

// effectiveNotch advances the lever-to-brake latency. A moved lever takes
// effect after the stock's command delay; an Emergency application or any
// move while at rest bypasses the delay.
func (e *Engine) effectiveNotch() int {
	st := &e.rc.State
	lever := st.LeverNotch
	if lever == e.appliedNotch {
		e.pendingNotch = lever
		e.delayLeft = 0
		return e.appliedNotch
	}
	if lever == e.rc.Stock.EmergencyNotch() || st.V == 0 || e.cmdDelayTicks == 0 {
		e.appliedNotch = lever
		e.pendingNotch = lever
		e.delayLeft = 0
		return lever
	}
	if lever != e.pendingNotch {
		e.pendingNotch = lever
		e.delayLeft = e.cmdDelayTicks
	}
	if e.delayLeft > 0 {
		e.delayLeft--
	}
	if e.delayLeft == 0 {
		e.appliedNotch = lever
	}
	return e.appliedNotch
}

// finish seals the run: the state becomes terminal and immutable and the
// final lever position is preserved for the next reset.
func (e *Engine) finish() {
	rc := e.rc
	st := &rc.State
	st.V = 0
	st.A = 0
	st.Finished = true
	rc.FinalNotchOnFinish = st.LeverNotch
	rc.finishedBefore = true
	if n := len(rc.NotchHistory); n == 0 || rc.NotchHistory[n-1] != st.LeverNotch {
		rc.NotchHistory = append(rc.NotchHistory, st.LeverNotch)
	}
	result := scoreRun(rc, e.dt)
	rc.LastScore = &result
	e.phase = PhaseFinished
	e.tasc.Reset(false)

	if e.deps.Metrics != nil {
		e.deps.Metrics.Add(engineRunsMetricKey, 1)
	}
	e.deps.Logger.Info("finish",
		zap.String("scenario_id", rc.Scenario.ID),
		zap.Float64("stop_error_m", result.Breakdown.StopErrorM),
		zap.Float64("score", result.Score),
		zap.Int("final_notch", st.LeverNotch))

	if e.onFinish != nil {
		e.onFinish(rc, result)
	}
}

// Snapshot is the wire-facing view of one tick, serialized into the state
// message payload.
type Snapshot struct {
	T          float64    `json:"t"`
	S          float64    `json:"s"`
	V          float64    `json:"v"`
	A          float64    `json:"a"`
	LeverNotch int        `json:"lever_notch"`
	Finished   bool       `json:"finished"`
	Score      *float64   `json:"score,omitempty"`
	Breakdown  *Breakdown `json:"breakdown,omitempty"`

	ScenarioID  string  `json:"scenario_id"`
	RemainingM  float64 `json:"remaining_m"`
	TASCEnabled bool    `json:"tasc_enabled"`
	TASCActive  bool    `json:"tasc_active"`
	Overspeed   bool    `json:"overspeed"`
	Running     bool    `json:"running"`
	Tick        uint64  `json:"tick"`
}

// Snapshot captures the current state for broadcast. Tick-goroutine use only;
// the loop publishes the returned value through an atomic slot.
func (e *Engine) Snapshot() Snapshot {
	rc := e.rc
	st := rc.State
	snap := Snapshot{
		T:           st.T,
		S:           st.S,
		V:           st.V,
		A:           st.A,
		LeverNotch:  st.LeverNotch,
		Finished:    st.Finished,
		ScenarioID:  rc.Scenario.ID,
		RemainingM:  rc.Scenario.Remaining(st.S),
		TASCEnabled: rc.AutoEnabled,
		TASCActive:  e.tasc.Active(),
		Overspeed:   st.Overspeed,
		Running:     e.phase == PhaseRunning,
		Tick:        e.tick,
	}
	if rc.LastScore != nil {
		score := rc.LastScore.Score
		breakdown := rc.LastScore.Breakdown
		snap.Score = &score
		snap.Breakdown = &breakdown
	}
	return snap
}
