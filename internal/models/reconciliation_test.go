package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{JobQueued, JobProcessing, true},
		{JobQueued, JobCancelled, true},
		{JobQueued, JobCompleted, false},
		{JobProcessing, JobCompleted, true},
		{JobProcessing, JobFailed, true},
		{JobProcessing, JobCancelled, true},
		{JobProcessing, JobProcessing, true},
		{JobProcessing, JobQueued, false},
		{JobCompleted, JobProcessing, false},
		{JobFailed, JobQueued, false},
		{JobCancelled, JobCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestResultStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, ResultPending.CanTransitionTo(ResultApproved))
	assert.True(t, ResultUnmatched.CanTransitionTo(ResultRejected))
	assert.True(t, ResultApproved.CanTransitionTo(ResultApproved))
	assert.False(t, ResultApproved.CanTransitionTo(ResultRejected))
	assert.False(t, ResultRejected.CanTransitionTo(ResultPending))
	assert.False(t, ResultPending.CanTransitionTo(ResultUnmatched))
}

func TestEstimateCompletion(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	now := start.Add(10 * time.Second)

	eta := EstimateCompletion(start, now, 100, 300)
	require.NotNil(t, eta)
	assert.Equal(t, now.Add(20*time.Second), *eta)

	assert.Nil(t, EstimateCompletion(start, now, 0, 300))
	assert.Nil(t, EstimateCompletion(start, now, 300, 300))
	assert.Nil(t, EstimateCompletion(now, now, 10, 300))
}

func TestJobStatus_ToProgress(t *testing.T) {
	total := 200
	start := time.Now().Add(-time.Minute)
	s := JobStatus{
		State:        JobProcessing,
		Progress:     40,
		CurrentPhase: "Processing chunk 1/2",
		TotalRecords: &total,
		Processed:    100,
		Matched:      70,
		Unmatched:    30,
		StartedAt:    start,
	}
	p := s.ToProgress(time.Now())
	assert.Equal(t, 40, p.Progress)
	assert.Equal(t, 70, p.MatchedRecords)
	assert.NotNil(t, p.EstimatedCompletion)

	s.State = JobCompleted
	assert.Nil(t, s.ToProgress(time.Now()).EstimatedCompletion)
}

func TestActionStatus(t *testing.T) {
	st, ok := ActionStatus("approve")
	assert.True(t, ok)
	assert.Equal(t, ResultApproved, st)

	_, ok = ActionStatus("escalate")
	assert.False(t, ok)
}

func TestRoundConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{6.0 / 7.0, 0.8571},
		{2.0 / 3.0, 0.6667},
		{0.99995, 1},
		{0.8, 0.8},
		{0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundConfidence(tt.in), "%v", tt.in)
	}
}
