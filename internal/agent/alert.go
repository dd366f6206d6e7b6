package agent

import (
	"errors"
	"strings"
)

// AlertKind classifies an alert.
type AlertKind string

const (
	AlertError   AlertKind = "error"
	AlertNetwork AlertKind = "network"
)

// NetworkMessage replaces raw transport errors in alerts.
const NetworkMessage = "This is a known network issue between the server and the tool provider. Try starting the agent anyway."

// Alert is an inline message for the admin panel.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Action  string    `json:"action"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

var networkMarkers = []string{
	"econnreset",
	"etimedout",
	"enotfound",
	"socket hang up",
	"certificate",
	"tls",
	"fetch failed",
	"network",
	"connection reset",
	"no such host",
	"i/o timeout",
}

// IsNetworkError matches err against known transport failure markers.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var nie *NetworkIssueError
	if errors.As(err, &nie) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Interpret turns an action's error into an alert. Network failures get the
// friendly message and keep the raw text as detail.
func Interpret(action string, err error) Alert {
	if err == nil {
		return Alert{}
	}
	if IsNetworkError(err) {
		return Alert{Kind: AlertNetwork, Action: action, Message: NetworkMessage, Detail: err.Error()}
	}
	return Alert{Kind: AlertError, Action: action, Message: err.Error()}
}
