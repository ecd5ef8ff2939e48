package server

import (
	"time"

	"stoptrainer/server/internal/history"
)

// SessionDiagnostics describes one live session for the diagnostics endpoint.
type SessionDiagnostics struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
	Tick      uint64    `json:"tick"`
	Scenario  string    `json:"scenario_id"`
	Running   bool      `json:"running"`
}

// Diagnostics is the full diagnostics payload.
type Diagnostics struct {
	Sessions   []SessionDiagnostics `json:"sessions"`
	Counters   map[string]uint64    `json:"counters,omitempty"`
	RecentRuns []history.Run        `json:"recent_runs,omitempty"`
}
