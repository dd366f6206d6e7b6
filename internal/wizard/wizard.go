// Package wizard models the onboarding flow that precedes a voice session
// as a pure state machine.
//
// Steps, in code numbering:
//
//	1 ChooseVoice -> 2 NameTherapist -> [3 ChooseDataSaving] -> 4 AcceptTerms -> 5 ReadyToBegin -> Connected
//
// The data-saving step exists only for paid tiers outside trial mode, so a
// flow has 4 or 5 visible steps. Connected is terminal.
package wizard

import (
	"fmt"
	"time"

	"github.com/J3rah/talkai-monorepo-sub002/internal/tier"
	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
)

// AutoAdvanceDelay is how long a client should show the voice selection
// before rendering the next step.
const AutoAdvanceDelay = 400 * time.Millisecond

// MaxNameLength bounds the therapist name in runes.
const MaxNameLength = 64

// Step is a wizard position in code numbering.
type Step int

const (
	StepChooseVoice Step = iota + 1
	StepNameTherapist
	StepChooseDataSaving
	StepAcceptTerms
	StepReadyToBegin
	StepConnected
)

var stepNames = map[Step]string{
	StepChooseVoice:      "choose_voice",
	StepNameTherapist:    "name_therapist",
	StepChooseDataSaving: "choose_data_saving",
	StepAcceptTerms:      "accept_terms",
	StepReadyToBegin:     "ready_to_begin",
	StepConnected:        "connected",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Step) UnmarshalText(b []byte) error {
	for step, name := range stepNames {
		if name == string(b) {
			*s = step
			return nil
		}
	}
	return fmt.Errorf("unknown wizard step %q", b)
}

// Context is the tier and mode the flow runs under.
type Context struct {
	Tier  tier.Tier `json:"tier"`
	Trial bool      `json:"trial"`
}

// SkipsDataSaving reports whether the data-saving step is omitted.
func (c Context) SkipsDataSaving() bool {
	return tier.SkipsDataSaving(c.Tier, c.Trial)
}

// TotalSteps returns the number of visible steps: 4 or 5.
func (c Context) TotalSteps() int {
	return len(c.Steps())
}

// Steps returns the visible steps in order.
func (c Context) Steps() []Step {
	if c.SkipsDataSaving() {
		return []Step{StepChooseVoice, StepNameTherapist, StepAcceptTerms, StepReadyToBegin}
	}
	return []Step{StepChooseVoice, StepNameTherapist, StepChooseDataSaving, StepAcceptTerms, StepReadyToBegin}
}

// Position maps a code step to its 1-based display position. It returns 0
// for Connected and for steps that are skipped under c.
func (c Context) Position(s Step) int {
	for i, step := range c.Steps() {
		if step == s {
			return i + 1
		}
	}
	return 0
}

// State is a wizard snapshot. The zero value is not valid; use New.
type State struct {
	Step          Step                 `json:"step"`
	Voice         *voice.Configuration `json:"voice,omitempty"`
	TherapistName string               `json:"therapist_name"`
	DataSaving    bool                 `json:"data_saving"`
	TermsAccepted bool                 `json:"terms_accepted"`
	Connecting    bool                 `json:"connecting"`
	LastError     string               `json:"last_error,omitempty"`

	// Context is the tier and mode currently in force.
	Context Context `json:"context"`
	// EnteredWith is the context in force when Step was entered. Back uses
	// it, so the predecessor does not shift if the tier changes later.
	EnteredWith Context `json:"entered_with"`
}

// New returns a flow positioned on the first step.
func New(c Context) State {
	return State{Step: StepChooseVoice, Context: c, EnteredWith: c}
}

// Visible reports whether the wizard should be shown at all.
func (s State) Visible() bool {
	return s.Step != StepConnected
}

// Terminal reports whether the flow reached Connected.
func (s State) Terminal() bool {
	return s.Step == StepConnected
}

// View is the rendering-facing summary of a State.
type View struct {
	State
	Position   int  `json:"position"`
	TotalSteps int  `json:"total_steps"`
	Visible    bool `json:"visible"`
	CanGoBack  bool `json:"can_go_back"`
}

// View derives display data from s.
func (s State) View() View {
	return View{
		State:      s,
		Position:   s.Context.Position(s.Step),
		TotalSteps: s.Context.TotalSteps(),
		Visible:    s.Visible(),
		CanGoBack:  s.Visible() && s.Step != StepChooseVoice && !s.Connecting,
	}
}

// Retier applies a new tier or trial mode. A flow sitting on the
// data-saving step moves to the terms step when that step disappears; a
// flow entering a paid context keeps its position. Connected is unchanged.
func Retier(s State, c Context) State {
	if s.Terminal() {
		return s
	}
	s.Context = c
	if c.SkipsDataSaving() {
		s.DataSaving = false
		if s.Step == StepChooseDataSaving {
			s.Step = StepAcceptTerms
			s.EnteredWith = c
		}
	}
	return s
}
