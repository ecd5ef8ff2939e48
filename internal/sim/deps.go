package sim

import (
	"time"

	"go.uber.org/zap"

	"stoptrainer/server/internal/telemetry"
)

// Clock abstracts time for deterministic loop tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Deps carries shared infrastructure dependencies required by the engine.
type Deps struct {
	Logger  *zap.Logger
	Metrics telemetry.Metrics
	Clock   Clock
}

func (d Deps) normalized() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	return d
}
