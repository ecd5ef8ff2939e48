package stock

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// RollingStock describes the brake characteristics of one train type. The
// notch table is ordered from N (index 0) through the service brake steps to
// Emergency at the last index.
type RollingStock struct {
	Name        string    `yaml:"name"`
	NotchDecels []float64 `yaml:"notch_decels"`
	JerkLimit   float64   `yaml:"jerk_limit"`
	TauBrake    float64   `yaml:"tau_brake"`
	TauCmd      float64   `yaml:"tau_cmd"`
	MassKg      float64   `yaml:"mass_kg"`
	DavisA      float64   `yaml:"davis_a"`
	DavisB      float64   `yaml:"davis_b"`
	DavisC      float64   `yaml:"davis_c"`
}

// Notches reports the total number of lever positions including N and Emergency.
func (r RollingStock) Notches() int {
	return len(r.NotchDecels)
}

// EmergencyNotch is the strongest position on the lever.
func (r RollingStock) EmergencyNotch() int {
	return len(r.NotchDecels) - 1
}

// MaxServiceNotch is the strongest position reachable without the emergency detent.
func (r RollingStock) MaxServiceNotch() int {
	return len(r.NotchDecels) - 2
}

// ClampNotch forces a requested position into the valid lever range.
func (r RollingStock) ClampNotch(n int) int {
	if n < 0 {
		return 0
	}
	if max := r.EmergencyNotch(); n > max {
		return max
	}
	return n
}

// Decel returns the deceleration magnitude (m/s^2) commanded by a notch.
// Out-of-range positions clamp to the nearest valid notch.
func (r RollingStock) Decel(notch int) float64 {
	return r.NotchDecels[r.ClampNotch(notch)]
}

// Default returns the built-in commuter EMU used when no stock file is
// configured or the configured file cannot be loaded.
func Default() RollingStock {
	return RollingStock{
		Name:        "EMU-233",
		NotchDecels: []float64{0, 0.20, 0.35, 0.50, 0.65, 0.80, 0.95, 1.10, 1.25, 1.80},
		JerkLimit:   0.8,
		TauBrake:    0.25,
		TauCmd:      0.15,
		MassKg:      399000,
		DavisA:      1200.0,
		DavisB:      30.0,
		DavisC:      8.0,
	}
}

// Load reads a rolling-stock definition from a YAML file. Stock sheets list
// the table strongest-first (Emergency down to N), so the slice is reversed
// into lever order after decode.
func Load(path string) (RollingStock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RollingStock{}, fmt.Errorf("read stock file: %w", err)
	}
	var rs RollingStock
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RollingStock{}, fmt.Errorf("parse stock file: %w", err)
	}
	if len(rs.NotchDecels) < 3 {
		return RollingStock{}, fmt.Errorf("stock %q: need at least N, one brake notch and Emergency", rs.Name)
	}
	reversed := make([]float64, len(rs.NotchDecels))
	for i, d := range rs.NotchDecels {
		reversed[len(rs.NotchDecels)-1-i] = math.Abs(d)
	}
	rs.NotchDecels = reversed
	if rs.NotchDecels[0] != 0 {
		return RollingStock{}, fmt.Errorf("stock %q: weakest table entry must be 0 (N)", rs.Name)
	}
	def := Default()
	if rs.JerkLimit <= 0 {
		rs.JerkLimit = def.JerkLimit
	}
	if rs.TauBrake <= 0 {
		rs.TauBrake = def.TauBrake
	}
	if rs.TauCmd <= 0 {
		rs.TauCmd = def.TauCmd
	}
	if rs.MassKg <= 0 {
		rs.MassKg = def.MassKg
	}
	return rs, nil
}
