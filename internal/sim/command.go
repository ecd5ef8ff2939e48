package sim

import "time"

// CommandType enumerates the supported session commands.
type CommandType string

const (
	CommandSetInitial     CommandType = "setInitial"
	CommandSetNotch       CommandType = "setNotch"
	CommandToggleAuto     CommandType = "toggleAuto"
	CommandAdvanceStation CommandType = "advanceStation"
)

// SetInitialCommand starts a new run, optionally pinning a scenario.
type SetInitialCommand struct {
	RandomMode bool   `json:"random_mode"`
	ScenarioID string `json:"scenario_id,omitempty"`
}

// SetNotchCommand carries a manual lever request.
type SetNotchCommand struct {
	Notch int `json:"notch"`
}

// ToggleAutoCommand engages or disengages the automatic stopping controller.
type ToggleAutoCommand struct {
	Enabled bool `json:"enabled"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	SessionID  string             `json:"sessionId"`
	Type       CommandType        `json:"type"`
	IssuedAt   time.Time          `json:"issuedAt"`
	SetInitial *SetInitialCommand `json:"setInitial,omitempty"`
	SetNotch   *SetNotchCommand   `json:"setNotch,omitempty"`
	ToggleAuto *ToggleAutoCommand `json:"toggleAuto,omitempty"`
}
