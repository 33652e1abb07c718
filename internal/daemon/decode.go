package daemon

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/runnerr0/dwell/internal/engine"
	"github.com/runnerr0/dwell/internal/idle"
)

// Signal type names on the wire.
const (
	TypeTabActivated       = "tab_activated"
	TypeTabUpdated         = "tab_updated"
	TypeTabRemoved         = "tab_removed"
	TypeWindowFocusChanged = "window_focus_changed"
	TypeVisibilityChanged  = "visibility_changed"
	TypeIdleStateChanged   = "idle_state_changed"
	TypeUserActivity       = "user_activity"
)

type signalHeader struct {
	Type string `json:"type"`
}

type idleBody struct {
	State string `json:"state"`
}

// decodeSignal turns one {"type": ..., ...} body into an engine signal.
func decodeSignal(body []byte) (engine.Signal, error) {
	var h signalHeader
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}

	switch h.Type {
	case TypeTabActivated:
		return decodeInto[engine.TabActivated](body)
	case TypeTabUpdated:
		return decodeInto[engine.TabUpdated](body)
	case TypeTabRemoved:
		return decodeInto[engine.TabRemoved](body)
	case TypeWindowFocusChanged:
		return decodeInto[engine.WindowFocusChanged](body)
	case TypeVisibilityChanged:
		return decodeInto[engine.VisibilityChanged](body)
	case TypeUserActivity:
		return decodeInto[engine.UserActivity](body)
	case TypeIdleStateChanged:
		var b idleBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("decode %s: %w", h.Type, err)
		}
		st, err := idle.ParseState(b.State)
		if err != nil {
			return nil, err
		}
		return engine.IdleStateChanged{State: st}, nil
	case "":
		return nil, fmt.Errorf("signal type missing")
	}
	return nil, fmt.Errorf("%w: signal %q", engine.ErrUnsupported, h.Type)
}

func decodeInto[T engine.Signal](body []byte) (engine.Signal, error) {
	var sig T
	if err := json.Unmarshal(body, &sig); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}
	return sig, nil
}
