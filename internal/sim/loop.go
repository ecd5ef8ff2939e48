package sim

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"stoptrainer/server/internal/telemetry"
)

const loopLagMetricKey = "sim_loop_lag_ticks_total"

// LoopConfig tunes the per-session tick loop.
type LoopConfig struct {
	// TickRate is the simulation rate in Hz.
	TickRate int
	// CatchupMaxTicks caps how many steps a late wakeup may run back to back.
	CatchupMaxTicks int
	// CommandCapacity sizes the staging ring.
	CommandCapacity int
}

func (c LoopConfig) normalized() LoopConfig {
	if c.TickRate <= 0 {
		c.TickRate = 60
	}
	if c.CatchupMaxTicks <= 0 {
		c.CatchupMaxTicks = 4
	}
	if c.CommandCapacity <= 0 {
		c.CommandCapacity = 64
	}
	return c
}

// Loop drives one engine at a fixed tick rate. Producers enqueue commands
// from any goroutine; the loop drains them at each tick boundary, steps the
// engine and publishes the resulting snapshot through an atomic slot that
// readers poll without locking.
type Loop struct {
	engine  *Engine
	buffer  *CommandBuffer
	cfg     LoopConfig
	logger  *zap.Logger
	clock   Clock
	metrics telemetry.Metrics
	latest  atomic.Value // Snapshot
}

// NewLoop wires an engine to its command staging and publication machinery.
func NewLoop(engine *Engine, cfg LoopConfig, deps Deps) *Loop {
	deps = deps.normalized()
	cfg = cfg.normalized()
	l := &Loop{
		engine:  engine,
		buffer:  NewCommandBuffer(cfg.CommandCapacity, deps.Metrics),
		cfg:     cfg,
		logger:  deps.Logger,
		clock:   deps.Clock,
		metrics: deps.Metrics,
	}
	l.latest.Store(engine.Snapshot())
	return l
}

// Enqueue stages a command for the next tick. Safe from any goroutine;
// returns false when the staging ring is full.
func (l *Loop) Enqueue(cmd Command) bool {
	return l.buffer.Push(cmd)
}

// Latest returns the most recently published snapshot.
func (l *Loop) Latest() Snapshot {
	return l.latest.Load().(Snapshot)
}

// Advance runs the drain-apply-step cycle a fixed number of times. Used by
// tests and by Run's catch-up path.
func (l *Loop) Advance(steps int) {
	if steps < 1 {
		steps = 1
	}
	l.engine.Apply(l.buffer.Drain())
	for i := 0; i < steps; i++ {
		l.engine.Step()
	}
	l.latest.Store(l.engine.Snapshot())
}

// Run ticks until stop closes. Late wakeups run extra steps, capped so a
// stalled goroutine cannot spiral.
func (l *Loop) Run(stop <-chan struct{}) {
	budget := time.Second / time.Duration(l.cfg.TickRate)
	ticker := time.NewTicker(budget)
	defer ticker.Stop()

	last := l.clock.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := l.clock.Now()
			elapsed := now.Sub(last)
			last = now
			steps := int(float64(elapsed)/float64(budget) + 0.5)
			if steps < 1 {
				steps = 1
			}
			if steps > l.cfg.CatchupMaxTicks {
				if l.metrics != nil {
					l.metrics.Add(loopLagMetricKey, uint64(steps-l.cfg.CatchupMaxTicks))
				}
				l.logger.Warn("tick loop behind",
					zap.Int("dropped_ticks", steps-l.cfg.CatchupMaxTicks),
					zap.Duration("elapsed", elapsed))
				steps = l.cfg.CatchupMaxTicks
			}
			l.Advance(steps)
		}
	}
}
