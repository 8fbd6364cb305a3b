package status

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakub-valenta/helpers/pkg/errors"
	"github.com/jakub-valenta/helpers/pkg/health"
)

func TestOperationStatus_String(t *testing.T) {
	tests := []struct {
		status   OperationStatus
		expected string
	}{
		{StatusPending, "pending"},
		{StatusInProgress, "in_progress"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
		{StatusCanceled, "canceled"},
		{OperationStatus(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestTracker_StartOperation(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	metadata := map[string]interface{}{
		"bucket": "test-bucket",
		"key":    "test-key",
	}

	op, opCtx := tracker.StartOperation(ctx, "get-object", metadata)

	require.NotNil(t, op)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, "get-object", op.Type)
	assert.Equal(t, StatusInProgress, op.Status)
	assert.NotNil(t, opCtx)
	assert.Equal(t, "test-bucket", op.Metadata["bucket"])
}

func TestTracker_UpdateProgress(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "upload", nil)

	require.NoError(t, tracker.UpdateProgress(op.ID, 50, 100, "bytes"))

	retrievedOp, err := tracker.GetOperation(op.ID)
	require.NoError(t, err)
	require.NotNil(t, retrievedOp.Progress)

	assert.EqualValues(t, 50, retrievedOp.Progress.Current)
	assert.EqualValues(t, 100, retrievedOp.Progress.Total)
	assert.Equal(t, "bytes", retrievedOp.Progress.Unit)
	assert.Equal(t, 50.0, retrievedOp.Progress.Percentage)
}

func TestTracker_UpdateProgress_NotFound(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())

	err := tracker.UpdateProgress("non-existent", 50, 100, "bytes")
	assert.Error(t, err)
}

func TestTracker_SetPhase(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "mount", nil)

	require.NoError(t, tracker.SetPhase(op.ID, "connecting"))

	retrievedOp, _ := tracker.GetOperation(op.ID)
	require.NotNil(t, retrievedOp.Progress)
	assert.Equal(t, "connecting", retrievedOp.Progress.Phase)
}

func TestTracker_SetMessage(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "sync", nil)

	require.NoError(t, tracker.SetMessage(op.ID, "Syncing files..."))

	retrievedOp, _ := tracker.GetOperation(op.ID)
	require.NotNil(t, retrievedOp.Progress)
	assert.Equal(t, "Syncing files...", retrievedOp.Progress.Message)
}

func TestTracker_CompleteOperation(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "download", nil)

	require.NoError(t, tracker.CompleteOperation(op.ID))

	_, err := tracker.GetOperation(op.ID)
	assert.Error(t, err, "expected error when getting completed operation")

	history := tracker.GetHistory(10)
	require.Len(t, history, 1)
	assert.Equal(t, StatusCompleted, history[0].Status)
	assert.NotNil(t, history[0].EndTime)
}

func TestTracker_FailOperation(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "upload", nil)

	testErr := errors.New("s3", "put", errors.PermissionDenied, "", "write failed")
	require.NoError(t, tracker.FailOperation(op.ID, testErr))

	history := tracker.GetHistory(10)
	require.Len(t, history, 1)
	assert.Equal(t, StatusFailed, history[0].Status)
	require.NotNil(t, history[0].Error)
	assert.Equal(t, errors.PermissionDenied, history[0].Error.Kind)
}

func TestTracker_CancelOperation(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	op, opCtx := tracker.StartOperation(ctx, "copy", nil)

	require.NoError(t, tracker.CancelOperation(op.ID))

	select {
	case <-opCtx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("Operation context was not canceled")
	}

	history := tracker.GetHistory(10)
	require.Len(t, history, 1)
	assert.Equal(t, StatusCanceled, history[0].Status)
}

func TestTracker_GetAllOperations(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	op1, _ := tracker.StartOperation(ctx, "read", nil)
	op2, _ := tracker.StartOperation(ctx, "write", nil)
	op3, _ := tracker.StartOperation(ctx, "delete", nil)

	time.Sleep(10 * time.Millisecond)

	allOps := tracker.GetAllOperations()
	require.Len(t, allOps, 3)

	found := make(map[string]bool)
	for _, op := range allOps {
		found[op.ID] = true
	}

	assert.True(t, found[op1.ID])
	assert.True(t, found[op2.ID])
	assert.True(t, found[op3.ID])
}

func TestTracker_GetHistory(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		op, _ := tracker.StartOperation(ctx, fmt.Sprintf("op-%d", i), nil)
		require.NoError(t, tracker.CompleteOperation(op.ID))
	}

	history := tracker.GetHistory(3)
	assert.Len(t, history, 3)

	allHistory := tracker.GetHistory(0)
	assert.Len(t, allHistory, 5)
}

func TestTracker_Subscribe(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "test", nil)

	updates, err := tracker.Subscribe(op.ID)
	require.NoError(t, err)

	go func() {
		_ = tracker.UpdateProgress(op.ID, 50, 100, "bytes")
	}()

	select {
	case update := <-updates:
		assert.Equal(t, op.ID, update.Operation.ID)
		assert.Equal(t, "Progress updated", update.Message)
	case <-time.After(100 * time.Millisecond):
		t.Error("Did not receive update notification")
	}
}

func TestTracker_Subscribe_NotFound(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())

	_, err := tracker.Subscribe("non-existent")
	assert.Error(t, err)
}

func TestTracker_GetSystemStatus(t *testing.T) {
	config := DefaultTrackerConfig()
	healthTracker := health.NewTracker(health.DefaultConfig())
	config.HealthTracker = healthTracker

	tracker := NewTracker(config)
	ctx := context.Background()

	tracker.StartOperation(ctx, "read", nil)
	tracker.StartOperation(ctx, "write", nil)
	tracker.StartOperation(ctx, "read", nil)

	status := tracker.GetSystemStatus()

	require.NotNil(t, status)
	assert.Equal(t, 3, status.ActiveOps)
	assert.Equal(t, 2, status.OperationsByType["read"])
	assert.Equal(t, 1, status.OperationsByType["write"])
	assert.Equal(t, health.StateHealthy, status.HealthState)
}

func TestProgress_Update(t *testing.T) {
	progress := &Progress{
		Unit: "bytes",
	}

	progress.Update(25, 100)

	assert.EqualValues(t, 25, progress.Current)
	assert.EqualValues(t, 100, progress.Total)
	assert.Equal(t, 25.0, progress.Percentage)

	time.Sleep(10 * time.Millisecond)
	progress.Update(75, 100)

	assert.Greater(t, progress.Rate, 0.0)
	assert.NotNil(t, progress.ETA)
}

func TestProgress_Copy(t *testing.T) {
	original := &Progress{
		Current:    50,
		Total:      100,
		Unit:       "bytes",
		Percentage: 50.0,
		Rate:       1000.0,
		Phase:      "uploading",
		Message:    "In progress",
	}

	eta := 5 * time.Second
	original.ETA = &eta

	copied := original.Copy()

	assert.Equal(t, original.Current, copied.Current)
	require.NotNil(t, copied.ETA)
	assert.Equal(t, *original.ETA, *copied.ETA)

	copied.Current = 75
	assert.NotEqual(t, int64(75), original.Current, "copy is not independent from original")
}

func TestOperation_Copy(t *testing.T) {
	now := time.Now()
	original := &Operation{
		ID:        "test-123",
		Type:      "upload",
		Status:    StatusInProgress,
		StartTime: now,
		EndTime:   &now,
		Metadata: map[string]interface{}{
			"key": "value",
		},
		Progress: &Progress{
			Current: 50,
			Total:   100,
		},
	}

	copied := original.Copy()

	assert.Equal(t, original.ID, copied.ID)
	require.NotNil(t, copied.Progress)
	assert.Equal(t, original.Progress.Current, copied.Progress.Current)

	copied.Progress.Current = 75
	assert.NotEqual(t, int64(75), original.Progress.Current)

	copied.Metadata["key"] = "modified"
	assert.NotEqual(t, "modified", original.Metadata["key"], "metadata is not independent")
}

func TestTracker_MaxHistory(t *testing.T) {
	config := DefaultTrackerConfig()
	config.MaxHistorySize = 3
	tracker := NewTracker(config)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		op, _ := tracker.StartOperation(ctx, fmt.Sprintf("op-%d", i), nil)
		require.NoError(t, tracker.CompleteOperation(op.ID))
	}

	history := tracker.GetHistory(0)
	assert.Len(t, history, 3)
}

func TestTracker_ContextCancellation(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx, cancel := context.WithCancel(context.Background())

	op, opCtx := tracker.StartOperation(ctx, "test", nil)

	cancel()

	select {
	case <-opCtx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("Operation context should be canceled when parent is canceled")
	}

	_, err := tracker.GetOperation(op.ID)
	assert.NoError(t, err, "operation should still be tracked even after context cancellation")
}

func TestGenerateOperationID(t *testing.T) {
	id1 := generateOperationID()
	time.Sleep(1 * time.Millisecond)
	id2 := generateOperationID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

// Benchmark tests
func BenchmarkTracker_StartOperation(b *testing.B) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.StartOperation(ctx, "test", nil)
	}
}

func BenchmarkTracker_UpdateProgress(b *testing.B) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()
	op, _ := tracker.StartOperation(ctx, "test", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tracker.UpdateProgress(op.ID, int64(i), 1000000, "bytes")
	}
}

func BenchmarkTracker_GetOperation(b *testing.B) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()
	op, _ := tracker.StartOperation(ctx, "test", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tracker.GetOperation(op.ID)
	}
}

func BenchmarkTracker_GetSystemStatus(b *testing.B) {
	tracker := NewTracker(DefaultTrackerConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		tracker.StartOperation(ctx, "test", nil)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.GetSystemStatus()
	}
}
