package sim

import (
	"testing"

	"stoptrainer/server/internal/scenario"
	"stoptrainer/server/internal/stock"
)

func scoringContext(stopAt float64) *RunContext {
	rc := NewRunContext(scenario.Default(), stock.Default())
	rc.State.S = stopAt
	return rc
}

func TestScorePerfectStop(t *testing.T) {
	rc := scoringContext(500)
	res := scoreRun(rc, testDT)
	if res.Score != 100 {
		t.Fatalf("perfect stop scored %v, expected 100", res.Score)
	}
	if res.Breakdown.StopErrorM != 0 {
		t.Fatalf("stop error %v, expected 0", res.Breakdown.StopErrorM)
	}
	if res.Breakdown.Position != 1000 {
		t.Fatalf("position term %v, expected 1000 with pinpoint bonus", res.Breakdown.Position)
	}
}

func TestScoreInsideTolerance(t *testing.T) {
	rc := scoringContext(500.3)
	res := scoreRun(rc, testDT)
	if res.Breakdown.Position <= 0 || res.Breakdown.Position >= 500 {
		t.Fatalf("position term %v out of (0, 500) for a 0.3 m miss", res.Breakdown.Position)
	}
	if res.Score <= 0 {
		t.Fatalf("in-tolerance stop scored %v", res.Score)
	}
}

func TestScoreOvershootPenalty(t *testing.T) {
	rc := scoringContext(506)
	rc.overshoot = true
	res := scoreRun(rc, testDT)
	if res.Score != 0 {
		t.Fatalf("overshoot run scored %v, expected floor 0", res.Score)
	}
	if !res.Breakdown.Overshoot {
		t.Fatalf("breakdown missing overshoot flag")
	}
	if res.Breakdown.Penalty != 1000 {
		t.Fatalf("penalty %v, expected 1000", res.Breakdown.Penalty)
	}
}

func TestScoreEmergencyPenalty(t *testing.T) {
	clean := scoringContext(500)
	dirty := scoringContext(500)
	dirty.emergencyUsed = true
	cleanRes := scoreRun(clean, testDT)
	dirtyRes := scoreRun(dirty, testDT)
	if dirtyRes.Score >= cleanRes.Score {
		t.Fatalf("emergency run scored %v, clean run %v", dirtyRes.Score, cleanRes.Score)
	}
	if !dirtyRes.Breakdown.EmergencyUsed {
		t.Fatalf("breakdown missing emergency flag")
	}
}

func TestScoreStairBonus(t *testing.T) {
	plain := scoringContext(501.5)
	stair := scoringContext(501.5)
	stair.NotchHistory = []int{2, 3, 5, 3, 2}
	plainRes := scoreRun(plain, testDT)
	stairRes := scoreRun(stair, testDT)
	if stairRes.Breakdown.StairBonus != 300 {
		t.Fatalf("stair bonus %v, expected 300", stairRes.Breakdown.StairBonus)
	}
	if stairRes.Score <= plainRes.Score {
		t.Fatalf("stair run %v did not outscore plain run %v", stairRes.Score, plainRes.Score)
	}
}

func TestScoreClampFloor(t *testing.T) {
	rc := scoringContext(520)
	rc.overshoot = true
	rc.emergencyUsed = true
	res := scoreRun(rc, testDT)
	if res.Score != 0 {
		t.Fatalf("worst-case run scored %v, expected 0", res.Score)
	}
}

func TestIsStairPattern(t *testing.T) {
	cases := []struct {
		name    string
		history []int
		want    bool
	}{
		{"classic", []int{2, 3, 5, 3, 2}, true},
		{"held notches collapse", []int{2, 2, 3, 3, 5, 5, 3, 2, 2}, true},
		{"ends at two", []int{1, 4, 6, 4, 2}, true},
		{"too short", []int{5, 3, 2}, false},
		{"ends too strong", []int{2, 3, 5, 4, 3}, false},
		{"double peak", []int{2, 5, 3, 4, 2}, false},
		{"stepwise release from strong", []int{7, 5, 3, 1}, true},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		if got := isStairPattern(tc.history); got != tc.want {
			t.Fatalf("%s: isStairPattern(%v) = %v, want %v", tc.name, tc.history, got, tc.want)
		}
	}
}

func TestComfortScore(t *testing.T) {
	smooth := make([]float64, 60)
	for i := range smooth {
		smooth[i] = 5
	}
	if got := comfortScore(smooth, testDT); got != 500 {
		t.Fatalf("smooth approach scored %v, expected 500", got)
	}

	harsh := make([]float64, 60)
	for i := range harsh {
		harsh[i] = 40
	}
	if got := comfortScore(harsh, testDT); got != 0 {
		t.Fatalf("harsh approach scored %v, expected 0", got)
	}

	mid := make([]float64, 60)
	for i := range mid {
		mid[i] = 20
	}
	if got := comfortScore(mid, testDT); got != 250 {
		t.Fatalf("middling approach scored %v, expected 250", got)
	}

	if got := comfortScore(nil, testDT); got != 500 {
		t.Fatalf("empty history scored %v, expected 500", got)
	}
}
