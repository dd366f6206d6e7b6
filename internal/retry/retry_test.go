package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var notified []int

	got, err := Do(context.Background(), Policy{Attempts: 3, Delay: time.Millisecond}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	}, func(attempt int, _ error) { notified = append(notified, attempt) })

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_Exhaustion(t *testing.T) {
	calls := 0
	boom := errors.New("boom")

	_, err := Do(context.Background(), Policy{Attempts: 3, Delay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, boom
	}, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	fatal := errors.New("not found")

	_, err := Do(context.Background(), Policy{Attempts: 5, Delay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(fatal)
	}, nil)

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, Policy{Attempts: 10, Delay: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	}, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_InvalidPolicy(t *testing.T) {
	_, err := Do(context.Background(), Policy{}, func(context.Context) (int, error) {
		t.Fatal("op must not run")
		return 0, nil
	}, nil)
	assert.Error(t, err)

	assert.Error(t, Policy{Attempts: 1, Delay: -time.Second}.Validate())
}

func TestNonEmpty(t *testing.T) {
	t.Run("returns once rows appear", func(t *testing.T) {
		calls := 0
		rows, err := NonEmpty(context.Background(), Policy{Attempts: 3, Delay: time.Millisecond}, func(context.Context) ([]int, error) {
			calls++
			if calls == 2 {
				return []int{1, 2}, nil
			}
			return nil, nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, rows)
		assert.Equal(t, 2, calls)
	})

	t.Run("exhaustion is bounded", func(t *testing.T) {
		calls := 0
		rows, err := NonEmpty(context.Background(), Policy{Attempts: 3, Delay: time.Millisecond}, func(context.Context) ([]int, error) {
			calls++
			return nil, nil
		}, nil)
		assert.ErrorIs(t, err, ErrEmpty)
		assert.Empty(t, rows)
		assert.Equal(t, 3, calls)
	})
}
