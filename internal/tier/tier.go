// Package tier defines subscription tiers and the access rules derived from them.
package tier

import (
	"fmt"
	"strings"
)

// Tier is a subscription level. Higher values unlock more.
type Tier int

const (
	// Calm is the free tier.
	Calm Tier = iota
	Centered
	Grounded
)

// Lowest and Highest bound the ordering.
const (
	Lowest  = Calm
	Highest = Grounded
)

var names = map[Tier]string{
	Calm:     "calm",
	Centered: "centered",
	Grounded: "grounded",
}

func (t Tier) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := names[t]
	return ok
}

// Parse maps a stored subscription status onto a tier. Unknown and empty
// values are the lowest tier.
func Parse(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "centered":
		return Centered
	case "grounded":
		return Grounded
	default:
		return Calm
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	*t = Parse(string(b))
	return nil
}

// Effective returns the tier used for access decisions. Trial sessions get
// the highest tier.
func Effective(t Tier, trial bool) Tier {
	if trial {
		return Highest
	}
	if !t.Valid() {
		return Lowest
	}
	return t
}

// CanAccess reports whether a user at tier user may use content at tier content.
func CanAccess(user, content Tier) bool {
	return content <= user
}

// Accessible returns the tiers a user may use, ascending.
func Accessible(user Tier) []Tier {
	var out []Tier
	for t := Lowest; t <= Highest; t++ {
		if CanAccess(user, t) {
			out = append(out, t)
		}
	}
	return out
}

// SkipsDataSaving reports whether onboarding omits the data-saving step:
// trial sessions and the lowest tier never persist transcripts.
func SkipsDataSaving(t Tier, trial bool) bool {
	return trial || t == Lowest
}

// ShowsAnalytics reports whether post-session analytics are available.
func ShowsAnalytics(t Tier) bool {
	return t > Lowest
}
