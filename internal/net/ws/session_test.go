package ws

import (
	"encoding/json"
	"testing"

	"stoptrainer/server/internal/sim"
)

func decodePayload(t *testing.T, raw string) commandPayload {
	t.Helper()
	var msg clientMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "cmd" {
		t.Fatalf("expected cmd frame, got %q", msg.Type)
	}
	return msg.Payload
}

func TestTranslateSetInitial(t *testing.T) {
	p := decodePayload(t, `{"type":"cmd","payload":{"name":"setInitial","random_mode":true,"scenario_id":"terminus"}}`)
	cmd, ok := translate("s1", p)
	if !ok {
		t.Fatalf("translate rejected setInitial")
	}
	if cmd.Type != sim.CommandSetInitial || cmd.SetInitial == nil {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if !cmd.SetInitial.RandomMode || cmd.SetInitial.ScenarioID != "terminus" {
		t.Fatalf("payload lost in translation: %+v", cmd.SetInitial)
	}
	if cmd.SessionID != "s1" {
		t.Fatalf("session id %q", cmd.SessionID)
	}
}

func TestTranslateSetNotch(t *testing.T) {
	p := decodePayload(t, `{"type":"cmd","payload":{"name":"setNotch","notch":5}}`)
	cmd, ok := translate("s1", p)
	if !ok || cmd.SetNotch == nil || cmd.SetNotch.Notch != 5 {
		t.Fatalf("unexpected command %+v ok=%v", cmd, ok)
	}

	// notch zero is a valid release and must survive the pointer round trip
	p = decodePayload(t, `{"type":"cmd","payload":{"name":"setNotch","notch":0}}`)
	cmd, ok = translate("s1", p)
	if !ok || cmd.SetNotch == nil || cmd.SetNotch.Notch != 0 {
		t.Fatalf("notch 0 mistranslated: %+v ok=%v", cmd, ok)
	}
}

func TestTranslateRejectsMissingFields(t *testing.T) {
	p := decodePayload(t, `{"type":"cmd","payload":{"name":"setNotch"}}`)
	if _, ok := translate("s1", p); ok {
		t.Fatalf("setNotch without a notch accepted")
	}
	p = decodePayload(t, `{"type":"cmd","payload":{"name":"toggleAuto"}}`)
	if _, ok := translate("s1", p); ok {
		t.Fatalf("toggleAuto without enabled accepted")
	}
}

func TestTranslateToggleAuto(t *testing.T) {
	p := decodePayload(t, `{"type":"cmd","payload":{"name":"toggleAuto","enabled":false}}`)
	cmd, ok := translate("s1", p)
	if !ok || cmd.ToggleAuto == nil || cmd.ToggleAuto.Enabled {
		t.Fatalf("unexpected command %+v ok=%v", cmd, ok)
	}
}

func TestTranslateAdvanceStation(t *testing.T) {
	p := decodePayload(t, `{"type":"cmd","payload":{"name":"advanceStation"}}`)
	cmd, ok := translate("s1", p)
	if !ok || cmd.Type != sim.CommandAdvanceStation {
		t.Fatalf("unexpected command %+v ok=%v", cmd, ok)
	}
}

func TestTranslateUnknownCommand(t *testing.T) {
	p := decodePayload(t, `{"type":"cmd","payload":{"name":"teleport"}}`)
	if _, ok := translate("s1", p); ok {
		t.Fatalf("unknown command accepted")
	}
}
