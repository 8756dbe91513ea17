package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/platform"
)

func TestGovernorDoesNotSleep(t *testing.T) {
	gov := Governor()

	calls := 0
	err := gov.Do(context.Background(), governor.RouteWebhook, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &platform.RateLimitError{RetryAfter: 1000}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestIDSequence(t *testing.T) {
	seq := NewIDSequence("ch")
	assert.Equal(t, "ch-1", seq.Next())
	assert.Equal(t, "ch-2", seq.Next())
	assert.Equal(t, int64(2), seq.Current())

	seq.Reset()
	assert.Equal(t, "ch-1", seq.Next())
}

func TestIDSequenceConcurrent(t *testing.T) {
	seq := NewIDSequence("x")

	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := seq.Next()
			_, dup := seen.LoadOrStore(id, true)
			assert.False(t, dup, "duplicate id %s", id)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), seq.Current())
}
