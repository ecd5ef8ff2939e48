package sim

import (
	"stoptrainer/server/internal/scenario"
	"stoptrainer/server/internal/stock"
)

const gravity = 9.81

// Controller maps lever positions to commanded accelerations for one
// rolling-stock type.
type Controller struct {
	stock stock.RollingStock
}

// NewController builds a controller for the given stock.
func NewController(rs stock.RollingStock) Controller {
	return Controller{stock: rs}
}

// Clamp forces a requested notch into the valid lever range. Out-of-range
// requests never raise past the boundary.
func (c Controller) Clamp(n int) int {
	return c.stock.ClampNotch(n)
}

// TargetAccel computes the signed acceleration target for a lever position:
// brake effort plus grade and Davis running resistance. A braking notch
// never yields a net positive target.
func (c Controller) TargetAccel(notch int, v float64, sc scenario.Scenario) float64 {
	a := c.gradeAccel(sc) + c.davisAccel(v)
	if notch > 0 {
		a -= c.stock.Decel(notch)
		if a > 0 {
			a = 0
		}
	}
	return a
}

func (c Controller) gradeAccel(sc scenario.Scenario) float64 {
	return -gravity * sc.GradePercent / 100.0
}

// davisAccel converts the quadratic running-resistance force to an
// acceleration. Negligible below walking pace.
func (c Controller) davisAccel(v float64) float64 {
	if v < 0.01 {
		return 0
	}
	f := c.stock.DavisA + c.stock.DavisB*v + c.stock.DavisC*v*v
	return -f / c.stock.MassKg
}
