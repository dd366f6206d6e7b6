package wizard

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/J3rah/talkai-monorepo-sub002/internal/tier"
	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
)

var testVoice = voice.Configuration{
	ID:               "calm-female",
	DisplayName:      "Soft Listener",
	Tier:             tier.Calm,
	ProviderConfigID: "cfg-123",
}

var contexts = []Context{
	{Tier: tier.Calm},
	{Tier: tier.Centered},
	{Tier: tier.Grounded},
	{Tier: tier.Calm, Trial: true},
	{Tier: tier.Grounded, Trial: true},
}

func apply(t *testing.T, s State, events ...Event) State {
	t.Helper()
	for _, e := range events {
		var err error
		s, _, err = Transition(s, e)
		require.NoError(t, err, "event %s on %s", EventName(e), s.Step)
	}
	return s
}

// walk drives a fresh flow to step on ctx.
func walk(t *testing.T, c Context, target Step) State {
	t.Helper()
	s := New(c)
	for s.Step != target {
		var e Event
		switch s.Step {
		case StepChooseVoice:
			e = SelectVoice{Voice: testVoice}
		case StepNameTherapist:
			e = SubmitName{Name: "Sam"}
		case StepChooseDataSaving:
			e = ChooseDataSaving{Save: true}
		case StepAcceptTerms:
			e = AnswerTerms{Agree: true}
		case StepReadyToBegin:
			s = apply(t, s, ConnectStarted{}, ConnectSucceeded{})
			continue
		default:
			t.Fatalf("cannot walk past %s", s.Step)
		}
		s = apply(t, s, e)
	}
	return s
}

func TestTotalSteps(t *testing.T) {
	for _, c := range contexts {
		want := 5
		if c.Trial || c.Tier == tier.Lowest {
			want = 4
		}
		assert.Equal(t, want, c.TotalSteps(), "%+v", c)
		if want == 4 {
			assert.NotContains(t, c.Steps(), StepChooseDataSaving)
			assert.Zero(t, c.Position(StepChooseDataSaving))
		}
	}
}

func TestDataSavingStepNeverEnteredInShortFlow(t *testing.T) {
	for _, c := range contexts {
		if c.TotalSteps() != 4 {
			continue
		}
		s := New(c)
		for s.Step != StepConnected {
			assert.NotEqual(t, StepChooseDataSaving, s.Step)
			s = walk(t, c, nextStep(s.Step, c))
		}
	}
}

func nextStep(s Step, c Context) Step {
	steps := append(c.Steps(), StepConnected)
	for i, step := range steps {
		if step == s {
			return steps[i+1]
		}
	}
	return StepConnected
}

func TestForwardTransitions(t *testing.T) {
	s := New(Context{Tier: tier.Centered})

	s, effect, err := Transition(s, SelectVoice{Voice: testVoice})
	require.NoError(t, err)
	assert.Equal(t, StepNameTherapist, s.Step)
	assert.Equal(t, EffectAutoAdvance, effect)
	require.NotNil(t, s.Voice)
	assert.Equal(t, "cfg-123", s.Voice.ProviderConfigID)

	s = apply(t, s, SubmitName{Name: "  Sam  "})
	assert.Equal(t, StepChooseDataSaving, s.Step)
	assert.Equal(t, "Sam", s.TherapistName)

	s = apply(t, s, ChooseDataSaving{Save: false})
	assert.Equal(t, StepAcceptTerms, s.Step)
	assert.False(t, s.DataSaving)

	s = apply(t, s, AnswerTerms{Agree: true})
	assert.Equal(t, StepReadyToBegin, s.Step)
	assert.True(t, s.TermsAccepted)
}

func TestLowTierSkipsDataSaving(t *testing.T) {
	s := walk(t, Context{Tier: tier.Calm}, StepNameTherapist)
	s = apply(t, s, SubmitName{Name: "Sam"})
	assert.Equal(t, StepAcceptTerms, s.Step)
	assert.False(t, s.DataSaving)
}

func TestDisagreeStaysOnTerms(t *testing.T) {
	s := walk(t, Context{Tier: tier.Grounded}, StepAcceptTerms)

	next, effect, err := Transition(s, AnswerTerms{Agree: false})
	require.NoError(t, err)
	assert.Equal(t, StepAcceptTerms, next.Step)
	assert.False(t, next.TermsAccepted)
	assert.Equal(t, EffectNone, effect)
}

func TestInputValidation(t *testing.T) {
	s := New(Context{Tier: tier.Calm})

	_, _, err := Transition(s, SelectVoice{Voice: voice.Configuration{ID: "x"}})
	assert.ErrorIs(t, err, ErrMissingVoice)

	s = walk(t, Context{Tier: tier.Calm}, StepNameTherapist)
	next, _, err := Transition(s, SubmitName{Name: "   "})
	assert.ErrorIs(t, err, ErrEmptyName)
	assert.Equal(t, s, next)

	long := make([]rune, MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, _, err = Transition(s, SubmitName{Name: string(long)})
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestEventOnWrongStep(t *testing.T) {
	s := New(Context{Tier: tier.Grounded})
	for _, e := range []Event{
		SubmitName{Name: "Sam"},
		ChooseDataSaving{Save: true},
		AnswerTerms{Agree: true},
		ConnectStarted{},
		ConnectSucceeded{},
		ConnectFailed{},
	} {
		next, _, err := Transition(s, e)
		assert.ErrorIs(t, err, ErrInvalidEvent, EventName(e))
		assert.Equal(t, s, next)
	}
}

func TestBackIsDeterministic(t *testing.T) {
	for _, c := range contexts {
		for _, step := range c.Steps()[1:] {
			s := walk(t, c, step)

			prev, err := Predecessor(s)
			require.NoError(t, err)

			back, _, err := Transition(s, Back{})
			require.NoError(t, err)
			assert.Equal(t, prev, back.Step, "%+v from %s", c, step)

			// the predecessor is the previous visible step
			steps := c.Steps()
			assert.Equal(t, steps[c.Position(step)-2], back.Step)

			// backing up again moves one more visible step
			again, _, err := Transition(back, Back{})
			if back.Step == StepChooseVoice {
				assert.ErrorIs(t, err, ErrNoPredecessor)
			} else {
				require.NoError(t, err)
				assert.Equal(t, c.Position(back.Step)-1, c.Position(again.Step))
			}
		}
	}
}

func TestBackFromTermsUsesEnteredContext(t *testing.T) {
	// entered terms on a paid tier
	s := walk(t, Context{Tier: tier.Centered}, StepAcceptTerms)
	prev, err := Predecessor(s)
	require.NoError(t, err)
	assert.Equal(t, StepChooseDataSaving, prev)

	// entered terms on the free tier, then upgraded
	s = walk(t, Context{Tier: tier.Calm}, StepAcceptTerms)
	s = Retier(s, Context{Tier: tier.Grounded})
	back := apply(t, s, Back{})
	assert.Equal(t, StepNameTherapist, back.Step)
}

func TestBackFromReadyClearsConsent(t *testing.T) {
	s := walk(t, Context{Tier: tier.Calm}, StepReadyToBegin)
	s = apply(t, s, Back{})
	assert.Equal(t, StepAcceptTerms, s.Step)
	assert.False(t, s.TermsAccepted)
}

func TestBackOnFirstStep(t *testing.T) {
	s := New(Context{})
	next, _, err := Transition(s, Back{})
	assert.ErrorIs(t, err, ErrNoPredecessor)
	assert.Equal(t, s, next)
}

func TestConnectLifecycle(t *testing.T) {
	s := walk(t, Context{Tier: tier.Centered}, StepReadyToBegin)

	s = apply(t, s, ConnectStarted{})
	assert.True(t, s.Connecting)

	_, _, err := Transition(s, Back{})
	assert.ErrorIs(t, err, ErrConnecting)
	_, _, err = Transition(s, ConnectStarted{})
	assert.ErrorIs(t, err, ErrConnecting)

	failed := apply(t, s, ConnectFailed{Reason: "socket closed"})
	assert.Equal(t, StepReadyToBegin, failed.Step)
	assert.False(t, failed.Connecting)
	assert.Equal(t, "socket closed", failed.LastError)
	assert.True(t, failed.Visible())

	// manual retry
	retry := apply(t, failed, ConnectStarted{})
	assert.Empty(t, retry.LastError)

	done, effect, err := Transition(retry, ConnectSucceeded{})
	require.NoError(t, err)
	assert.Equal(t, StepConnected, done.Step)
	assert.Equal(t, EffectSessionStarted, effect)
}

func TestConnectedIsTerminal(t *testing.T) {
	for _, c := range contexts {
		s := walk(t, c, StepConnected)
		assert.False(t, s.Visible())
		assert.False(t, s.View().Visible)
		assert.Zero(t, s.View().Position)

		for _, e := range []Event{
			SelectVoice{Voice: testVoice},
			SubmitName{Name: "x"},
			ChooseDataSaving{},
			AnswerTerms{Agree: true},
			ConnectStarted{},
			ConnectSucceeded{},
			ConnectFailed{},
			Back{},
			LoadDefaults{Voice: testVoice, TherapistName: "x"},
		} {
			next, effect, err := Transition(s, e)
			assert.ErrorIs(t, err, ErrTerminal)
			assert.Equal(t, s, next)
			assert.Equal(t, EffectNone, effect)
		}
		assert.Equal(t, s, Retier(s, Context{Tier: tier.Calm}))
	}
}

func TestLoadDefaults(t *testing.T) {
	s := New(Context{Tier: tier.Grounded})

	next, effect, err := Transition(s, LoadDefaults{Voice: testVoice, TherapistName: "Ari", DataSaving: true})
	require.NoError(t, err)
	assert.Equal(t, EffectConnect, effect)
	assert.Equal(t, StepReadyToBegin, next.Step)
	assert.Equal(t, "Ari", next.TherapistName)
	assert.True(t, next.DataSaving)
	assert.True(t, next.TermsAccepted)

	// saved data-saving preference is ignored where the step does not exist
	trial := New(Context{Tier: tier.Grounded, Trial: true})
	next, _, err = Transition(trial, LoadDefaults{Voice: testVoice, TherapistName: "Ari", DataSaving: true})
	require.NoError(t, err)
	assert.False(t, next.DataSaving)

	_, _, err = Transition(s, LoadDefaults{TherapistName: "Ari"})
	assert.ErrorIs(t, err, ErrMissingVoice)
}

func TestRetier(t *testing.T) {
	s := walk(t, Context{Tier: tier.Centered}, StepChooseDataSaving)

	moved := Retier(s, Context{Tier: tier.Centered, Trial: true})
	assert.Equal(t, StepAcceptTerms, moved.Step)
	assert.Equal(t, 4, moved.View().TotalSteps)
	assert.Equal(t, 3, moved.View().Position)

	back := apply(t, moved, Back{})
	assert.Equal(t, StepNameTherapist, back.Step)

	// downgrade after answering: the now-skipped step is not revisited
	s = walk(t, Context{Tier: tier.Centered}, StepAcceptTerms)
	s = Retier(s, Context{Tier: tier.Calm})
	assert.False(t, s.DataSaving)
	back = apply(t, s, Back{})
	assert.Equal(t, StepNameTherapist, back.Step)
}

// Scenario: free tier, not trial. Visible steps map to code steps 1, 2, 4, 5.
func TestCalmTierScenario(t *testing.T) {
	c := Context{Tier: tier.Calm}
	assert.Equal(t, []Step{StepChooseVoice, StepNameTherapist, StepAcceptTerms, StepReadyToBegin}, c.Steps())
	assert.Equal(t, 3, c.Position(StepAcceptTerms))
	assert.Equal(t, 4, c.Position(StepReadyToBegin))

	s := New(c)
	started := 0
	for _, e := range []Event{
		SelectVoice{Voice: testVoice},
		SubmitName{Name: "Sam"},
		AnswerTerms{Agree: true},
		ConnectStarted{},
		ConnectSucceeded{},
	} {
		var effect Effect
		var err error
		s, effect, err = Transition(s, e)
		require.NoError(t, err)
		if effect == EffectSessionStarted {
			started++
		}
	}

	assert.Equal(t, StepConnected, s.Step)
	assert.Equal(t, "Sam", s.TherapistName)
	assert.Equal(t, 1, started)
}

func TestViewJSON(t *testing.T) {
	s := walk(t, Context{Tier: tier.Calm}, StepAcceptTerms)
	b, err := json.Marshal(s.View())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "accept_terms", got["step"])
	assert.EqualValues(t, 3, got["position"])
	assert.EqualValues(t, 4, got["total_steps"])
	assert.Equal(t, true, got["can_go_back"])

	var step Step
	require.NoError(t, step.UnmarshalText([]byte("ready_to_begin")))
	assert.Equal(t, StepReadyToBegin, step)
	assert.Error(t, step.UnmarshalText([]byte("nope")))
}
