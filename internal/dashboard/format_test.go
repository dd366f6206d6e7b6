package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int
		expected string
	}{
		{"zero", 0, "0s"},
		{"seconds", 45, "45s"},
		{"minutes", 185, "3m 05s"},
		{"exact_minute", 60, "1m 00s"},
		{"hours", 3725, "1h 02m"},
		{"negative", -5, "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.seconds))
		})
	}
}

func TestFormatIntensity(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		expected string
	}{
		{"normal", 0.456, "45.6%"},
		{"zero", 0, "0.0%"},
		{"full", 1, "100.0%"},
		{"above_range", 1.7, "100.0%"},
		{"below_range", -0.2, "0.0%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatIntensity(tt.value))
		})
	}
}

func TestFormatLabel(t *testing.T) {
	assert.Equal(t, "Joy", FormatLabel("joy"))
	assert.Equal(t, "Calmness", FormatLabel("Calmness"))
	assert.Equal(t, "", FormatLabel(""))
}
