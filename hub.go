// Package server hosts the session hub: one authoritative tick loop per
// connected driver, plus the shared scenario pool, run history and
// diagnostics surfaces.
package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stoptrainer/server/internal/history"
	"stoptrainer/server/internal/scenario"
	"stoptrainer/server/internal/sim"
	"stoptrainer/server/internal/stock"
	"stoptrainer/server/internal/telemetry"
)

const (
	hubSessionsMetricKey = "hub_sessions_active"
	hubStartedMetricKey  = "hub_sessions_started_total"
	historyWriteTimeout  = 5 * time.Second
)

// HubConfig assembles the hub and the per-session machinery it spawns.
type HubConfig struct {
	TickRate        int
	SendRate        int
	CommandCapacity int
	TASC            sim.TASCConfig
	Stock           stock.RollingStock
	Scenarios       *scenario.Store
	// History may be nil; finished runs are then not persisted.
	History *history.Store
	Logger  *zap.Logger
	Metrics telemetry.Metrics
}

// Session is one live driver connection's simulation.
type Session struct {
	ID        uuid.UUID
	Loop      *sim.Loop
	CreatedAt time.Time

	stop     chan struct{}
	lastSeen atomic.Int64
}

// Touch records connection activity for the diagnostics view.
func (s *Session) Touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen reports the most recent Touch.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Hub owns every live session. Sessions are independent; the hub only tracks
// lifecycle and shared infrastructure.
type Hub struct {
	mu       sync.Mutex
	cfg      HubConfig
	sessions map[uuid.UUID]*Session
}

// NewHub builds an empty hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = DefaultSendRate
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Hub{
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// SendInterval is the snapshot broadcast period.
func (h *Hub) SendInterval() time.Duration {
	return time.Second / time.Duration(h.cfg.SendRate)
}

// StartSession spawns a new simulation and its tick goroutine.
func (h *Hub) StartSession() *Session {
	id := uuid.New()
	logger := h.cfg.Logger.With(zap.String("session_id", id.String()))

	deps := sim.Deps{
		Logger:  logger,
		Metrics: h.cfg.Metrics,
	}
	engine := sim.NewEngine(sim.EngineConfig{
		TickRate: h.cfg.TickRate,
		Stock:    h.cfg.Stock,
		Store:    h.cfg.Scenarios,
		TASC:     h.cfg.TASC,
		OnFinish: h.finishRecorder(id, logger),
	}, deps)
	loop := sim.NewLoop(engine, sim.LoopConfig{
		TickRate:        h.cfg.TickRate,
		CommandCapacity: h.cfg.CommandCapacity,
	}, deps)

	s := &Session{
		ID:        id,
		Loop:      loop,
		CreatedAt: time.Now(),
		stop:      make(chan struct{}),
	}
	s.Touch()

	h.mu.Lock()
	h.sessions[id] = s
	active := len(h.sessions)
	h.mu.Unlock()

	go loop.Run(s.stop)

	if h.cfg.Metrics != nil {
		h.cfg.Metrics.Add(hubStartedMetricKey, 1)
		h.cfg.Metrics.Store(hubSessionsMetricKey, uint64(active))
	}
	logger.Info("session started", zap.Int("active_sessions", active))
	return s
}

// finishRecorder builds the per-session run-completion hook. The hook copies
// what it needs synchronously on the tick goroutine and writes to the history
// store from its own goroutine so a slow disk never stalls the simulation.
func (h *Hub) finishRecorder(sessionID uuid.UUID, logger *zap.Logger) func(*sim.RunContext, sim.Result) {
	if h.cfg.History == nil {
		return nil
	}
	return func(rc *sim.RunContext, result sim.Result) {
		run := history.Run{
			ID:         uuid.NewString(),
			SessionID:  sessionID.String(),
			ScenarioID: rc.Scenario.ID,
			Score:      result.Score,
			StopErrorM: result.Breakdown.StopErrorM,
			Overshoot:  result.Breakdown.Overshoot,
			FinalNotch: rc.FinalNotchOnFinish,
			FinishedAt: time.Now(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
			defer cancel()
			if err := h.cfg.History.RecordRun(ctx, run); err != nil {
				logger.Warn("history write failed", zap.Error(err))
			}
		}()
	}
}

// Session looks up a live session.
func (h *Hub) Session(id uuid.UUID) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// CloseSession stops a session's tick loop and forgets it.
func (h *Hub) CloseSession(id uuid.UUID) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	active := len(h.sessions)
	h.mu.Unlock()
	if !ok {
		return
	}
	close(s.stop)
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.Store(hubSessionsMetricKey, uint64(active))
	}
	h.cfg.Logger.Info("session closed",
		zap.String("session_id", id.String()),
		zap.Int("active_sessions", active))
}

// Shutdown stops every session.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[uuid.UUID]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		close(s.stop)
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.Store(hubSessionsMetricKey, 0)
	}
}

// DiagnosticsSnapshot summarizes live sessions and recent runs.
func (h *Hub) DiagnosticsSnapshot(ctx context.Context) Diagnostics {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	var diag Diagnostics
	for _, s := range sessions {
		snap := s.Loop.Latest()
		diag.Sessions = append(diag.Sessions, SessionDiagnostics{
			ID:        s.ID.String(),
			CreatedAt: s.CreatedAt,
			LastSeen:  s.LastSeen(),
			Tick:      snap.Tick,
			Scenario:  snap.ScenarioID,
			Running:   snap.Running,
		})
	}
	if c, ok := h.cfg.Metrics.(*telemetry.Counters); ok {
		diag.Counters = c.Snapshot()
	}
	if h.cfg.History != nil {
		runs, err := h.cfg.History.RecentRuns(ctx, 20)
		if err != nil {
			h.cfg.Logger.Warn("recent runs query failed", zap.Error(err))
		} else {
			diag.RecentRuns = runs
		}
	}
	return diag
}
