package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Used for websocket frame dumps.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name case-insensitively. "trace" maps to
// TraceLevel; unknown names fall back to Info with an error.
func LevelFromString(level string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "trace" {
		return TraceLevel, nil
	}
	l, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
