package testrun

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Build(t *testing.T) {
	id := uuid.New()
	started := time.Now().Add(-2 * time.Second)
	b := NewBuilder(id, started)

	b.ActionExecuted()
	b.ActionExecuted()
	b.ActionFailed()
	b.AddScreenshot(Screenshot{ActionIndex: 1, Data: []byte{0x89, 'P'}})
	b.AddScreenshot(Screenshot{ActionIndex: FinalScreenshotIndex, Data: []byte{0x89}})
	b.AddNavigationTime(300 * time.Millisecond)
	b.AddActionTime(time.Second)
	b.CountRequest()
	b.CountRequest()
	b.CountResponse()
	b.CountFailedRequest()

	completed := time.Now()
	r, err := b.Build(StatusCompleted, true, completed)
	require.NoError(t, err)

	assert.Equal(t, id, r.SessionID)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.True(t, r.Success)
	assert.Equal(t, 2, r.ActionsExecuted)
	assert.Equal(t, completed.Sub(started), r.Duration)
	assert.Len(t, r.Screenshots, 2)
	assert.Empty(t, r.Errors)
	assert.Equal(t, 1, r.Metrics.FailedActions)
	assert.Equal(t, 300*time.Millisecond, r.Metrics.NavigationTime)
	assert.Equal(t, ResourceCounts{Requests: 2, Responses: 1, FailedRequests: 1}, r.Metrics.Resources)

	final, ok := r.FinalScreenshot()
	require.True(t, ok)
	assert.Equal(t, FinalScreenshotIndex, final.ActionIndex)
}

func TestBuilder_BuildOnce(t *testing.T) {
	b := NewBuilder(uuid.New(), time.Now())

	first, err := b.Build(StatusCancelled, false, time.Now())
	require.NoError(t, err)

	second, err := b.Build(StatusCompleted, true, time.Now())
	assert.Error(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, StatusCancelled, second.Status)
}

func TestBuilder_BuildRequiresTerminalStatus(t *testing.T) {
	b := NewBuilder(uuid.New(), time.Now())
	_, err := b.Build(StatusExecuting, true, time.Now())
	assert.ErrorIs(t, err, ErrInvalidStatus)

	// a rejected build does not consume the single allowed build
	_, err = b.Build(StatusError, false, time.Now())
	assert.NoError(t, err)
}

func TestBuilder_Errors(t *testing.T) {
	b := NewBuilder(uuid.New(), time.Now())
	assert.False(t, b.HasErrors())

	b.AddError(CodeExecutionError, "navigation failed", map[string]interface{}{"phase": "navigating"})
	assert.True(t, b.HasErrors())

	r, err := b.Build(StatusError, false, time.Now())
	require.NoError(t, err)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, CodeExecutionError, r.Errors[0].Code)
	assert.Equal(t, "navigating", r.Errors[0].Details["phase"])
	assert.False(t, r.Errors[0].Timestamp.IsZero())
}

func TestBuilder_Concurrent(t *testing.T) {
	b := NewBuilder(uuid.New(), time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.CountRequest()
			b.CountResponse()
		}()
	}
	wg.Wait()

	r, err := b.Build(StatusCompleted, true, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 50, r.Metrics.Resources.Requests)
	assert.Equal(t, 50, r.Metrics.Resources.Responses)
}

func TestResult_Clone(t *testing.T) {
	orig := &Result{
		Screenshots: []Screenshot{{ActionIndex: FinalScreenshotIndex, Data: []byte("png")}},
		Errors:      []StructuredError{{Code: CodeExecutionError, Details: map[string]interface{}{"k": "v"}}},
	}

	clone := orig.Clone()
	clone.Screenshots[0].Data[0] = 'X'
	clone.Errors[0].Details["k"] = "changed"

	assert.Equal(t, "png", string(orig.Screenshots[0].Data))
	assert.Equal(t, "v", orig.Errors[0].Details["k"])
	assert.Nil(t, (*Result)(nil).Clone())
}
