package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep captures backoff waits without blocking.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

// flaky fails with a rate-limit error k times, then succeeds.
func flaky(k int, calls *int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		if *calls <= k {
			return "", generr.Transient("test", errors.New("429 RESOURCE_EXHAUSTED"))
		}
		return "ok", nil
	}
}

func TestDo_RetryDeterminism(t *testing.T) {
	const d = 100 * time.Millisecond
	for k := 0; k <= 5; k++ {
		rec := &recordingSleep{}
		calls := 0
		p := Policy{Retries: 3, InitialDelay: d, Sleep: rec.sleep}

		got, err := Do(context.Background(), p, flaky(k, &calls))

		if k <= 3 {
			require.NoError(t, err, "k=%d", k)
			assert.Equal(t, "ok", got)
			assert.Equal(t, k+1, calls)
		} else {
			require.Error(t, err, "k=%d", k)
			assert.True(t, generr.IsTransient(err))
			assert.Equal(t, 4, calls, "exactly retries+1 attempts")
		}

		want := []time.Duration{d, 2 * d, 4 * d}
		n := k
		if n > 3 {
			n = 3
		}
		if n == 0 {
			assert.Empty(t, rec.delays)
		} else {
			assert.Equal(t, want[:n], rec.delays, "k=%d", k)
		}
	}
}

func TestDo_NonRetryableShortCircuit(t *testing.T) {
	rec := &recordingSleep{}
	calls := 0
	p := Policy{Retries: 10, InitialDelay: time.Second, Sleep: rec.sleep}

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, generr.Generationf("test", "bad payload")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{Retries: 3, InitialDelay: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, generr.Transient("test", errors.New("quota"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomRetryable(t *testing.T) {
	sentinel := errors.New("retry me")
	calls := 0
	p := Policy{
		Retries:      2,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return errors.Is(err, sentinel) },
		Sleep:        (&recordingSleep{}).sleep,
	}

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.Retries)
	assert.Equal(t, 2*time.Second, p.InitialDelay)
	assert.Equal(t, "image", p.WithName("image").Name)
}
