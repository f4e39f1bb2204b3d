package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/task"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestThresholdTripsAndCooldownExpires(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	assert.False(t, tr.RecordFailure(task.StructuredExtraction, adapter.OpenAI))
	clock.Advance(10 * time.Second)
	assert.False(t, tr.RecordFailure(task.StructuredExtraction, adapter.OpenAI))
	assert.True(t, tr.IsHealthy(task.StructuredExtraction, adapter.OpenAI))

	clock.Advance(10 * time.Second)
	assert.True(t, tr.RecordFailure(task.StructuredExtraction, adapter.OpenAI))
	assert.False(t, tr.IsHealthy(task.StructuredExtraction, adapter.OpenAI))

	clock.Advance(59 * time.Second)
	assert.False(t, tr.IsHealthy(task.StructuredExtraction, adapter.OpenAI))

	clock.Advance(time.Second)
	assert.True(t, tr.IsHealthy(task.StructuredExtraction, adapter.OpenAI), "healthy once unhealthyUntil <= now")
}

func TestFailuresOutsideWindowArePruned(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	tr.RecordFailure(task.WebSearch, adapter.Perplexity)
	tr.RecordFailure(task.WebSearch, adapter.Perplexity)
	clock.Advance(5*time.Minute + time.Second)

	assert.False(t, tr.RecordFailure(task.WebSearch, adapter.Perplexity))
	assert.True(t, tr.IsHealthy(task.WebSearch, adapter.Perplexity))

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].Failures)
}

func TestSuccessResetsKey(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		tr.RecordFailure(task.FreeformGeneration, adapter.OpenAI)
	}
	require.False(t, tr.IsHealthy(task.FreeformGeneration, adapter.OpenAI))

	tr.RecordSuccess(task.FreeformGeneration, adapter.OpenAI)
	assert.True(t, tr.IsHealthy(task.FreeformGeneration, adapter.OpenAI))
	assert.Empty(t, tr.Snapshot())

	// Reset is idempotent and the counter starts from zero again.
	tr.RecordSuccess(task.FreeformGeneration, adapter.OpenAI)
	assert.False(t, tr.RecordFailure(task.FreeformGeneration, adapter.OpenAI))
	assert.False(t, tr.RecordFailure(task.FreeformGeneration, adapter.OpenAI))
	assert.True(t, tr.IsHealthy(task.FreeformGeneration, adapter.OpenAI))
}

func TestHealthIsScopedPerTask(t *testing.T) {
	tr := NewTracker(WithThreshold(1))

	tr.RecordFailure(task.StructuredExtraction, adapter.OpenAI)
	assert.False(t, tr.IsHealthy(task.StructuredExtraction, adapter.OpenAI))
	assert.True(t, tr.IsHealthy(task.WebSearch, adapter.OpenAI))
	assert.True(t, tr.IsHealthy(task.StructuredExtraction, adapter.Perplexity))
}

func TestRepeatedTripExtendsFromLatestFailure(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		tr.RecordFailure(task.StructuredExtraction, adapter.OpenAI)
	}
	clock.Advance(30 * time.Second)
	tr.RecordFailure(task.StructuredExtraction, adapter.OpenAI)

	clock.Advance(45 * time.Second)
	assert.False(t, tr.IsHealthy(task.StructuredExtraction, adapter.OpenAI))
	clock.Advance(15 * time.Second)
	assert.True(t, tr.IsHealthy(task.StructuredExtraction, adapter.OpenAI))
}

func TestSnapshotReportsCooldown(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now), WithThreshold(2), WithCooldown(time.Minute))

	tr.RecordFailure(task.WebSearch, adapter.Perplexity)
	tr.RecordFailure(task.WebSearch, adapter.Perplexity)
	tr.RecordFailure(task.StructuredExtraction, adapter.OpenAI)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, task.StructuredExtraction, snap[0].Task)
	assert.True(t, snap[0].Healthy)
	assert.Nil(t, snap[0].UnhealthyUntil)

	assert.Equal(t, task.WebSearch, snap[1].Task)
	assert.False(t, snap[1].Healthy)
	require.NotNil(t, snap[1].UnhealthyUntil)
	assert.Equal(t, clock.Now().Add(time.Minute), *snap[1].UnhealthyUntil)
}

func TestConcurrentRecording(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.RecordFailure(task.WebSearch, adapter.OpenAI)
		}()
		go func() {
			defer wg.Done()
			_ = tr.IsHealthy(task.WebSearch, adapter.OpenAI)
		}()
	}
	wg.Wait()
	assert.False(t, tr.IsHealthy(task.WebSearch, adapter.OpenAI))
}
