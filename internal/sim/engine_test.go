package sim

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"stoptrainer/server/internal/scenario"
)

func newTestEngine(t *testing.T, pool ...scenario.Scenario) *Engine {
	t.Helper()
	store := scenario.NewStore(pool, rand.New(rand.NewSource(1)), zap.NewNop())
	return NewEngine(EngineConfig{TickRate: 60, Store: store}, Deps{})
}

func shortScenario(id string) scenario.Scenario {
	return scenario.Scenario{ID: id, TargetDistance: 80, EntrySpeed: 8, Tolerance: 0.5}
}

func startRun(t *testing.T, e *Engine, random bool) {
	t.Helper()
	e.Apply([]Command{{Type: CommandSetInitial, SetInitial: &SetInitialCommand{RandomMode: random}}})
	if e.Phase() != PhaseRunning {
		t.Fatalf("expected running phase after setInitial, got %s", e.Phase())
	}
}

func setNotch(e *Engine, n int) {
	e.Apply([]Command{{Type: CommandSetNotch, SetNotch: &SetNotchCommand{Notch: n}}})
}

func runToFinish(t *testing.T, e *Engine) {
	t.Helper()
	for i := 0; i < 60*120; i++ {
		e.Step()
		if e.Phase() == PhaseFinished {
			return
		}
	}
	t.Fatalf("run never finished: v=%v s=%v", e.Context().State.V, e.Context().State.S)
}

func TestEngineNewRunStartsAtNeutral(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"))
	startRun(t, e, false)

	st := e.Context().State
	if st.LeverNotch != 0 {
		t.Fatalf("fresh session started at notch %d, want N", st.LeverNotch)
	}
	if st.V != 8 || st.S != 0 || st.T != 0 {
		t.Fatalf("unexpected initial state %+v", st)
	}
}

func TestEngineManualRunFinishes(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"))
	startRun(t, e, false)
	setNotch(e, 5)
	runToFinish(t, e)

	rc := e.Context()
	if !rc.State.Finished {
		t.Fatalf("finished run not flagged terminal")
	}
	if rc.State.V != 0 || rc.State.A != 0 {
		t.Fatalf("terminal state still moving: v=%v a=%v", rc.State.V, rc.State.A)
	}
	if rc.LastScore == nil {
		t.Fatalf("finished run has no score")
	}
	if rc.FinalNotchOnFinish != 5 {
		t.Fatalf("final notch %d, want 5", rc.FinalNotchOnFinish)
	}
}

func TestEngineTerminalStateImmutable(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"))
	startRun(t, e, false)
	setNotch(e, 6)
	runToFinish(t, e)

	before := e.Context().State
	for i := 0; i < 120; i++ {
		e.Step()
	}
	after := e.Context().State
	if before.T != after.T || before.S != after.S || !after.Finished {
		t.Fatalf("terminal state mutated: before %+v after %+v", before, after)
	}
}

func TestEngineNotchContinuityAcrossRuns(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"), shortScenario("b"), shortScenario("c"))
	startRun(t, e, true)
	setNotch(e, 4)
	runToFinish(t, e)

	e.Apply([]Command{{Type: CommandAdvanceStation}})
	if e.Phase() != PhaseRunning {
		t.Fatalf("advanceStation did not start a new run, phase %s", e.Phase())
	}
	rc := e.Context()
	if rc.State.LeverNotch != 4 {
		t.Fatalf("new run started at notch %d, want preserved 4", rc.State.LeverNotch)
	}
	if rc.State.Finished || rc.State.T != 0 || rc.State.S != 0 {
		t.Fatalf("kinematic state not reset: %+v", rc.State)
	}
	if rc.LastScore != nil {
		t.Fatalf("score survived the reset")
	}
}

func TestEngineEmergencyDowngradesOnReset(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"), shortScenario("b"))
	startRun(t, e, true)
	setNotch(e, 3)
	runToFinish(t, e)

	// move the lever to Emergency after the stop, then advance
	eb := e.Context().Stock.EmergencyNotch()
	setNotch(e, eb)
	if e.Context().FinalNotchOnFinish != eb {
		t.Fatalf("post-finish lever move not preserved, got %d", e.Context().FinalNotchOnFinish)
	}

	e.Apply([]Command{{Type: CommandAdvanceStation}})
	want := e.Context().Stock.MaxServiceNotch()
	if got := e.Context().State.LeverNotch; got != want {
		t.Fatalf("emergency carried into new run as %d, want downgrade to %d", got, want)
	}
}

func TestEngineAdvanceStationGated(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"), shortScenario("b"))
	startRun(t, e, false)
	for i := 0; i < 30; i++ {
		e.Step()
	}
	mid := e.Context().State
	e.Apply([]Command{{Type: CommandAdvanceStation}})
	if got := e.Context().State; got.T != mid.T || got.S != mid.S {
		t.Fatalf("advanceStation interrupted a sequential-mode run")
	}
}

func TestEngineAdvanceStationMidRunInRandomMode(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"), shortScenario("b"))
	startRun(t, e, true)
	setNotch(e, 2)
	for i := 0; i < 30; i++ {
		e.Step()
	}
	e.Apply([]Command{{Type: CommandAdvanceStation}})
	st := e.Context().State
	if st.T != 0 || st.S != 0 {
		t.Fatalf("random-mode skip did not reset the run: %+v", st)
	}
	if e.Phase() != PhaseRunning {
		t.Fatalf("random-mode skip left phase %s", e.Phase())
	}
}

func TestEngineSequentialResetStartsAtNeutral(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"), shortScenario("b"))
	startRun(t, e, false)
	setNotch(e, 4)
	runToFinish(t, e)

	e.Apply([]Command{{Type: CommandAdvanceStation}})
	if got := e.Context().State.LeverNotch; got != 0 {
		t.Fatalf("sequential-mode run inherited notch %d, want N", got)
	}
}

func TestEngineCommandLatency(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"))
	startRun(t, e, false)
	e.Step()

	setNotch(e, 5)
	e.Step()
	if e.appliedNotch == 5 {
		t.Fatalf("lever move applied with no command delay")
	}
	for i := 0; i < e.cmdDelayTicks+1; i++ {
		e.Step()
	}
	if e.appliedNotch != 5 {
		t.Fatalf("lever move never applied, still at %d", e.appliedNotch)
	}
}

func TestEngineEmergencyBypassesCommandLatency(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"))
	startRun(t, e, false)
	e.Step()

	setNotch(e, e.Context().Stock.EmergencyNotch())
	e.Step()
	if e.appliedNotch != e.Context().Stock.EmergencyNotch() {
		t.Fatalf("emergency application delayed, applied notch %d", e.appliedNotch)
	}
}

func TestEngineNotchBurstCollapses(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"))
	startRun(t, e, false)
	e.Apply([]Command{
		{Type: CommandSetNotch, SetNotch: &SetNotchCommand{Notch: 2}},
		{Type: CommandSetNotch, SetNotch: &SetNotchCommand{Notch: 3}},
		{Type: CommandSetNotch, SetNotch: &SetNotchCommand{Notch: 5}},
	})
	if got := e.Context().State.LeverNotch; got != 5 {
		t.Fatalf("burst applied notch %d, want last-write 5", got)
	}
}

func TestEngineNotchHistoryRecordsSequence(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"))
	startRun(t, e, false)
	for i := 0; i < 10; i++ {
		e.Step()
	}

	for _, n := range []int{2, 3, 5} {
		setNotch(e, n)
		for i := 0; i < 30; i++ {
			e.Step()
		}
	}
	hist := e.Context().NotchHistory
	want := []int{0, 2, 3, 5}
	if len(hist) < len(want) {
		t.Fatalf("notch history %v too short, want prefix %v", hist, want)
	}
	if diff := cmp.Diff(want, hist[:len(want)]); diff != "" {
		t.Fatalf("notch history mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineManualInputIgnoredWhileAutoActive(t *testing.T) {
	store := scenario.NewStore([]scenario.Scenario{
		{ID: "close", TargetDistance: 200, EntrySpeed: 15, Tolerance: 0.5},
	}, rand.New(rand.NewSource(1)), zap.NewNop())
	e := NewEngine(EngineConfig{TickRate: 60, Store: store}, Deps{})

	e.Apply([]Command{{Type: CommandToggleAuto, ToggleAuto: &ToggleAutoCommand{Enabled: true}}})
	startRun(t, e, false)

	// 200 m remaining is inside the takeover distance; one tick activates
	e.Step()
	if !e.tasc.Active() {
		t.Fatalf("controller not active inside takeover distance")
	}
	auto := e.Context().State.LeverNotch
	setNotch(e, 0)
	if got := e.Context().State.LeverNotch; got != auto {
		t.Fatalf("manual input moved the lever to %d while auto held %d", got, auto)
	}
}

func TestEngineAutoRunStopsNearMarker(t *testing.T) {
	store := scenario.NewStore([]scenario.Scenario{
		{ID: "s", TargetDistance: 300, EntrySpeed: 20, Tolerance: 0.5},
	}, rand.New(rand.NewSource(1)), zap.NewNop())
	e := NewEngine(EngineConfig{TickRate: 60, Store: store}, Deps{})

	e.Apply([]Command{{Type: CommandToggleAuto, ToggleAuto: &ToggleAutoCommand{Enabled: true}}})
	startRun(t, e, false)
	runToFinish(t, e)

	rc := e.Context()
	if err := rc.Scenario.Remaining(rc.State.S); err > 5 || err < -5 {
		t.Fatalf("auto stop missed the marker by %v m", err)
	}
	if rc.LastScore == nil {
		t.Fatalf("auto run not scored")
	}
}

func TestEngineManualOvershootPenalized(t *testing.T) {
	e := newTestEngine(t, shortScenario("a"))
	startRun(t, e, false)
	// coast far past the marker before braking
	for i := 0; i < 60*12; i++ {
		e.Step()
		if e.Phase() == PhaseFinished {
			break
		}
	}
	if e.Phase() != PhaseFinished {
		setNotch(e, 8)
		runToFinish(t, e)
	}
	res := e.Context().LastScore
	if res == nil {
		t.Fatalf("run not scored")
	}
	if !res.Breakdown.Overshoot {
		t.Fatalf("overshoot not flagged: stop error %v", res.Breakdown.StopErrorM)
	}
	if res.Score != 0 {
		t.Fatalf("overshoot run scored %v, expected floor", res.Score)
	}
}
