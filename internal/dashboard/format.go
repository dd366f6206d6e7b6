package dashboard

import (
	"fmt"
	"strings"
)

// FormatDuration renders whole seconds as "45s", "3m 05s" or "1h 02m".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatIntensity renders a 0..1 emotion score as a percentage.
func FormatIntensity(v float64) string {
	return fmt.Sprintf("%.1f%%", clamp(v)*100)
}

// FormatLabel title-cases an emotion label for display.
func FormatLabel(label string) string {
	if label == "" {
		return ""
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}
