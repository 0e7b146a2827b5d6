package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusSuccess, false},
		{StatusPending, StatusFailure, false},
		{StatusInProgress, StatusSuccess, true},
		{StatusInProgress, StatusFailure, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusRolledBack, false},
		{StatusFailure, StatusRolledBack, true},
		{StatusFailure, StatusInProgress, false},
		{StatusSuccess, StatusRolledBack, false},
		{StatusCancelled, StatusInProgress, false},
		{StatusRolledBack, StatusPending, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailure.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusRolledBack.Terminal())
}

func TestAppendLogGrowsOnly(t *testing.T) {
	d := &Deployment{ID: "d1", Logs: []LogEntry{}}

	d.AppendLog("first")
	d.AppendLog("second")

	require.Len(t, d.Logs, 2)
	assert.Equal(t, "first", d.Logs[0].Message)
	assert.Equal(t, "second", d.Logs[1].Message)
	assert.False(t, d.Logs[0].Time.IsZero())
}

func TestFinishDerivesDuration(t *testing.T) {
	start := time.Now()
	d := &Deployment{ID: "d1", StartTime: start}

	end := start.Add(42 * time.Second)
	d.Finish(end)

	require.NotNil(t, d.EndTime)
	assert.Equal(t, end, *d.EndTime)
	assert.Equal(t, 42*time.Second, d.Duration)
}

func TestFormatID(t *testing.T) {
	assert.Equal(t, "3f2a9c1d", FormatID("3f2a9c1d-0000-4000-8000-000000000000"))
	assert.Equal(t, "short", FormatID("short"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "12.5s", FormatDuration(12500*time.Millisecond))
	assert.Equal(t, "2.0m", FormatDuration(2*time.Minute))
}

func TestSortByStartTimeDesc(t *testing.T) {
	now := time.Now()
	deployments := []*Deployment{
		{ID: "old", StartTime: now.Add(-2 * time.Hour)},
		{ID: "new", StartTime: now},
		{ID: "mid", StartTime: now.Add(-time.Hour)},
	}

	SortByStartTimeDesc(deployments)

	assert.Equal(t, "new", deployments[0].ID)
	assert.Equal(t, "mid", deployments[1].ID)
	assert.Equal(t, "old", deployments[2].ID)
}
