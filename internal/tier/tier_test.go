package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := map[string]Tier{
		"calm":      Calm,
		"Centered":  Centered,
		" grounded": Grounded,
		"":          Calm,
		"premium":   Calm,
	}
	for in, want := range tests {
		assert.Equal(t, want, Parse(in), "input %q", in)
	}
}

func TestEffective(t *testing.T) {
	assert.Equal(t, Grounded, Effective(Calm, true))
	assert.Equal(t, Centered, Effective(Centered, false))
	assert.Equal(t, Calm, Effective(Tier(42), false))
}

func TestAccessible(t *testing.T) {
	assert.Equal(t, []Tier{Calm}, Accessible(Calm))
	assert.Equal(t, []Tier{Calm, Centered}, Accessible(Centered))
	assert.Equal(t, []Tier{Calm, Centered, Grounded}, Accessible(Grounded))
}

func TestSkipsDataSaving(t *testing.T) {
	assert.True(t, SkipsDataSaving(Calm, false))
	assert.True(t, SkipsDataSaving(Grounded, true))
	assert.False(t, SkipsDataSaving(Centered, false))
}

func TestTextRoundTrip(t *testing.T) {
	b, err := Centered.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "centered", string(b))

	var got Tier
	assert.NoError(t, got.UnmarshalText([]byte("grounded")))
	assert.Equal(t, Grounded, got)
	assert.Equal(t, "tier(9)", Tier(9).String())
}
