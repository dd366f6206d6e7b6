package wizard

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
)

var (
	// ErrTerminal is returned for any event after the flow connected.
	ErrTerminal = errors.New("wizard: flow already connected")
	// ErrInvalidEvent is returned for an event the current step does not accept.
	ErrInvalidEvent = errors.New("wizard: event not allowed on this step")
	// ErrConnecting is returned while a connection attempt is in flight.
	ErrConnecting = errors.New("wizard: connection attempt in progress")
	// ErrNoPredecessor is returned for Back on the first step.
	ErrNoPredecessor = errors.New("wizard: first step has no predecessor")
	// ErrEmptyName is returned for a blank therapist name.
	ErrEmptyName = errors.New("wizard: therapist name is required")
	// ErrNameTooLong is returned for names over MaxNameLength runes.
	ErrNameTooLong = errors.New("wizard: therapist name too long")
	// ErrMissingVoice is returned when a voice without a provider config id
	// is selected or a connection is started without one.
	ErrMissingVoice = errors.New("wizard: voice configuration is required")
)

// Event is an input to Transition.
type Event interface {
	eventName() string
}

// SelectVoice picks a voice on step 1.
type SelectVoice struct{ Voice voice.Configuration }

// SubmitName sets the therapist name on step 2.
type SubmitName struct{ Name string }

// ChooseDataSaving answers the data-saving question on step 3.
type ChooseDataSaving struct{ Save bool }

// AnswerTerms answers the consent step. Disagree keeps the flow on step 4.
type AnswerTerms struct{ Agree bool }

// ConnectStarted marks a connection attempt from step 5.
type ConnectStarted struct{}

// ConnectSucceeded completes the flow.
type ConnectSucceeded struct{}

// ConnectFailed ends an attempt without connecting.
type ConnectFailed struct{ Reason string }

// Back moves to the previous step.
type Back struct{}

// LoadDefaults fills every field from saved preferences and jumps to step 5.
type LoadDefaults struct {
	Voice         voice.Configuration
	TherapistName string
	DataSaving    bool
}

func (SelectVoice) eventName() string      { return "select_voice" }
func (SubmitName) eventName() string       { return "submit_name" }
func (ChooseDataSaving) eventName() string { return "choose_data_saving" }
func (AnswerTerms) eventName() string      { return "answer_terms" }
func (ConnectStarted) eventName() string   { return "connect_started" }
func (ConnectSucceeded) eventName() string { return "connect_succeeded" }
func (ConnectFailed) eventName() string    { return "connect_failed" }
func (Back) eventName() string             { return "back" }
func (LoadDefaults) eventName() string     { return "load_defaults" }

// EventName returns the wire name of e.
func EventName(e Event) string {
	return e.eventName()
}

// Effect tells the caller what to do after a transition.
type Effect int

const (
	// EffectNone needs no follow-up.
	EffectNone Effect = iota
	// EffectAutoAdvance asks the client to hold the selection for AutoAdvanceDelay.
	EffectAutoAdvance
	// EffectConnect asks the caller to start a connection attempt now.
	EffectConnect
	// EffectSessionStarted fires once, on the transition into Connected.
	EffectSessionStarted
)

func (e Effect) String() string {
	switch e {
	case EffectAutoAdvance:
		return "auto_advance"
	case EffectConnect:
		return "connect"
	case EffectSessionStarted:
		return "session_started"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Effect) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Transition applies e to s. It never mutates s; on error the returned
// state equals s.
func Transition(s State, e Event) (State, Effect, error) {
	if s.Terminal() {
		return s, EffectNone, ErrTerminal
	}
	if s.Connecting {
		switch e.(type) {
		case ConnectSucceeded, ConnectFailed:
		default:
			return s, EffectNone, ErrConnecting
		}
	}

	next := s
	switch ev := e.(type) {
	case SelectVoice:
		if s.Step != StepChooseVoice {
			return s, EffectNone, invalid(s, e)
		}
		if ev.Voice.ProviderConfigID == "" {
			return s, EffectNone, ErrMissingVoice
		}
		v := ev.Voice
		next.Voice = &v
		next.enter(StepNameTherapist)
		return next, EffectAutoAdvance, nil

	case SubmitName:
		if s.Step != StepNameTherapist {
			return s, EffectNone, invalid(s, e)
		}
		name, err := normalizeName(ev.Name)
		if err != nil {
			return s, EffectNone, err
		}
		next.TherapistName = name
		if s.Context.SkipsDataSaving() {
			next.DataSaving = false
			next.enter(StepAcceptTerms)
		} else {
			next.enter(StepChooseDataSaving)
		}
		return next, EffectNone, nil

	case ChooseDataSaving:
		if s.Step != StepChooseDataSaving {
			return s, EffectNone, invalid(s, e)
		}
		next.DataSaving = ev.Save
		next.enter(StepAcceptTerms)
		return next, EffectNone, nil

	case AnswerTerms:
		if s.Step != StepAcceptTerms {
			return s, EffectNone, invalid(s, e)
		}
		if !ev.Agree {
			next.TermsAccepted = false
			return next, EffectNone, nil
		}
		next.TermsAccepted = true
		next.enter(StepReadyToBegin)
		return next, EffectNone, nil

	case ConnectStarted:
		if s.Step != StepReadyToBegin || !s.TermsAccepted {
			return s, EffectNone, invalid(s, e)
		}
		if s.Voice == nil || s.Voice.ProviderConfigID == "" {
			return s, EffectNone, ErrMissingVoice
		}
		next.Connecting = true
		next.LastError = ""
		return next, EffectNone, nil

	case ConnectSucceeded:
		if !s.Connecting {
			return s, EffectNone, invalid(s, e)
		}
		next.Connecting = false
		next.enter(StepConnected)
		return next, EffectSessionStarted, nil

	case ConnectFailed:
		if !s.Connecting {
			return s, EffectNone, invalid(s, e)
		}
		next.Connecting = false
		next.LastError = ev.Reason
		return next, EffectNone, nil

	case Back:
		prev, err := Predecessor(s)
		if err != nil {
			return s, EffectNone, err
		}
		// A step removed by a later Retier is never re-entered.
		if prev == StepChooseDataSaving && s.Context.SkipsDataSaving() {
			prev = StepNameTherapist
		}
		if s.Step == StepReadyToBegin {
			next.TermsAccepted = false
		}
		next.enter(prev)
		return next, EffectNone, nil

	case LoadDefaults:
		if ev.Voice.ProviderConfigID == "" {
			return s, EffectNone, ErrMissingVoice
		}
		name, err := normalizeName(ev.TherapistName)
		if err != nil {
			return s, EffectNone, err
		}
		v := ev.Voice
		next.Voice = &v
		next.TherapistName = name
		next.DataSaving = ev.DataSaving && !s.Context.SkipsDataSaving()
		next.TermsAccepted = true
		next.enter(StepReadyToBegin)
		return next, EffectConnect, nil
	}

	return s, EffectNone, invalid(s, e)
}

// Predecessor returns the step Back leads to from s. Step 4 goes to step 3
// only if the data-saving step existed when step 4 was entered.
func Predecessor(s State) (Step, error) {
	switch s.Step {
	case StepChooseVoice:
		return 0, ErrNoPredecessor
	case StepNameTherapist:
		return StepChooseVoice, nil
	case StepChooseDataSaving:
		return StepNameTherapist, nil
	case StepAcceptTerms:
		if s.EnteredWith.SkipsDataSaving() {
			return StepNameTherapist, nil
		}
		return StepChooseDataSaving, nil
	case StepReadyToBegin:
		return StepAcceptTerms, nil
	case StepConnected:
		return 0, ErrTerminal
	}
	return 0, fmt.Errorf("wizard: unknown step %d", int(s.Step))
}

// enter moves to step under the current context.
func (s *State) enter(step Step) {
	s.Step = step
	s.EnteredWith = s.Context
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

func invalid(s State, e Event) error {
	return fmt.Errorf("%w: %s on %s", ErrInvalidEvent, e.eventName(), s.Step)
}
