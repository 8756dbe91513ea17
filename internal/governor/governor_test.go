package governor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadbot/replica/internal/platform"
)

// recordingSleep captures requested sleeps instead of waiting.
type recordingSleep struct {
	waits []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestDo_SuccessAppliesPacing(t *testing.T) {
	rec := &recordingSleep{}
	g := New(Options{
		MutationDelay: 200 * time.Millisecond,
		WebhookDelay:  50 * time.Millisecond,
		Sleep:         rec.sleep,
	})

	err := g.Do(context.Background(), RouteMutation, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Len(t, rec.waits, 1)
	assert.Equal(t, 200*time.Millisecond, rec.waits[0])

	rec.waits = nil
	require.NoError(t, g.Do(context.Background(), RouteWebhook, func(context.Context) error { return nil }))
	require.Len(t, rec.waits, 1)
	assert.Equal(t, 50*time.Millisecond, rec.waits[0])
}

func TestDo_RateLimitUsesAdvisedDelayScaled(t *testing.T) {
	rec := &recordingSleep{}
	g := New(Options{MaxAttempts: 4, Sleep: rec.sleep})

	calls := 0
	err := g.Do(context.Background(), RouteMutation, func(context.Context) error {
		calls++
		if calls < 3 {
			return &platform.RateLimitError{RetryAfter: time.Second}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// 1s << 0, then 1s << 1; the final entry is the zero-pacing skip (none).
	require.GreaterOrEqual(t, len(rec.waits), 2)
	assert.Equal(t, 1*time.Second, rec.waits[0])
	assert.Equal(t, 2*time.Second, rec.waits[1])
}

func TestDo_RateLimitDelayIsCapped(t *testing.T) {
	rec := &recordingSleep{}
	g := New(Options{MaxAttempts: 2, MaxDelay: 3 * time.Second, Sleep: rec.sleep})

	calls := 0
	_ = g.Do(context.Background(), RouteMutation, func(context.Context) error {
		calls++
		return &platform.RateLimitError{RetryAfter: time.Minute}
	})
	require.NotEmpty(t, rec.waits)
	for _, w := range rec.waits {
		assert.LessOrEqual(t, w, 3*time.Second)
	}
}

func TestDo_TransientRetriesThenSucceeds(t *testing.T) {
	rec := &recordingSleep{}
	g := New(Options{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, Sleep: rec.sleep})

	calls := 0
	err := g.Do(context.Background(), RouteMutation, func(context.Context) error {
		calls++
		if calls == 1 {
			return &platform.APIError{Status: 503, Message: "unavailable"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ExhaustedAttemptsPropagatesLastError(t *testing.T) {
	rec := &recordingSleep{}
	g := New(Options{MaxAttempts: 3, Sleep: rec.sleep})

	calls := 0
	rl := &platform.RateLimitError{RetryAfter: time.Second}
	err := g.Do(context.Background(), RouteMutation, func(context.Context) error {
		calls++
		return rl
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, rl)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	rec := &recordingSleep{}
	g := New(Options{Sleep: rec.sleep})

	calls := 0
	want := &platform.APIError{Status: 404, Code: platform.CodeUnknownChannel}
	err := g.Do(context.Background(), RouteMutation, func(context.Context) error {
		calls++
		return want
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, want)
	assert.Empty(t, rec.waits)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := New(Options{})
	err := g.Do(ctx, RouteMutation, func(context.Context) error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_PlainErrorIsRetriedAsTransient(t *testing.T) {
	rec := &recordingSleep{}
	g := New(Options{MaxAttempts: 2, Sleep: rec.sleep})

	calls := 0
	err := g.Do(context.Background(), RouteMutation, func(context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestSetDelays(t *testing.T) {
	g := New(Options{})
	g.SetDelays(100*time.Millisecond, 300*time.Millisecond)
	wh, mut := g.Delays()
	assert.Equal(t, 100*time.Millisecond, wh)
	assert.Equal(t, 300*time.Millisecond, mut)
}
