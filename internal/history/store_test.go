package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordRunStart(ctx, RunRecord{
		ID:       "run-1",
		Trigger:  "push",
		Ref:      "master",
		Revision: "abc123",
		Started:  started,
	}))

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "running", runs[0].Outcome)
	assert.Equal(t, "push", runs[0].Trigger)
	assert.True(t, runs[0].Finished.IsZero())

	require.NoError(t, s.RecordRunFinish(ctx, "run-1", "discarded", started.Add(time.Minute)))

	runs, err = s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "discarded", runs[0].Outcome)
	assert.False(t, runs[0].Finished.IsZero())
}

func TestStoreRunLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRunStart(ctx, RunRecord{ID: "run-x", Trigger: "manual", Ref: "v1.0.0", Started: time.Now()}))

	run, err := s.Run(ctx, "run-x")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "manual", run.Trigger)

	run, err = s.Run(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestStoreRecordRunFinishUnknownRun(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordRunFinish(context.Background(), "missing", "failed", time.Now())
	assert.Error(t, err)
}

func TestStoreJobsForRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRunStart(ctx, RunRecord{ID: "run-2", Trigger: "manual", Ref: "v1.0.0", Started: time.Now()}))
	require.NoError(t, s.RecordJob(ctx, JobRecord{
		RunID:       "run-2",
		Variant:     "dev",
		Status:      "verified",
		PackageName: "tracker-dev-1.0.0.zip",
		PackageSize: 2048,
		Duration:    1500 * time.Millisecond,
	}))
	require.NoError(t, s.RecordJob(ctx, JobRecord{
		RunID:   "run-2",
		Variant: "skinny",
		Status:  "failed",
		Error:   "parity drift",
	}))

	jobs, err := s.JobsForRun(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "dev", jobs[0].Variant)
	assert.Equal(t, int64(2048), jobs[0].PackageSize)
	assert.Equal(t, 1500*time.Millisecond, jobs[0].Duration)
	assert.Equal(t, "parity drift", jobs[1].Error)

	jobs, err = s.JobsForRun(ctx, "run-3")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestStoreRecentRunsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordRunStart(ctx, RunRecord{
			ID:      string(rune('a' + i)),
			Trigger: "push",
			Ref:     "master",
			Started: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.RecentRuns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "e", runs[0].ID)
	assert.Equal(t, "d", runs[1].ID)
	assert.Equal(t, "c", runs[2].ID)
}
