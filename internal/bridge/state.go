package bridge

import (
	"fmt"
	"time"
)

// State is the connection lifecycle position.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the bridge. Reason is set only for Failed.
type Status struct {
	State    State     `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Attempt  uint64    `json:"attempt"`
	ConfigID string    `json:"config_id,omitempty"`
	Since    time.Time `json:"since,omitempty"`
}

// View is what a client renders for a given state.
type View struct {
	ShowWizard      bool `json:"show_wizard"`
	ShowSpinner     bool `json:"show_spinner"`
	ShowLiveSession bool `json:"show_live_session"`
	ShowError       bool `json:"show_error"`
	CanConnect      bool `json:"can_connect"`
}

// ViewFor derives every visibility flag from s alone.
func ViewFor(s State) View {
	switch s {
	case Connecting:
		return View{ShowWizard: true, ShowSpinner: true}
	case Connected:
		return View{ShowLiveSession: true}
	case Failed:
		return View{ShowWizard: true, ShowError: true, CanConnect: true}
	default:
		return View{ShowWizard: true, CanConnect: true}
	}
}
