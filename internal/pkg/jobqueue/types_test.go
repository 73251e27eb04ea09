package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{
			name: "Failed job with retries remaining",
			job: &Job{
				Status:     JobStatusFailed,
				RetryCount: 1,
				MaxRetries: 3,
			},
			retryable: true,
		},
		{
			name: "Failed job with no retries remaining",
			job: &Job{
				Status:     JobStatusFailed,
				RetryCount: 3,
				MaxRetries: 3,
			},
			retryable: false,
		},
		{
			name: "Completed job",
			job: &Job{
				Status:     JobStatusCompleted,
				RetryCount: 0,
				MaxRetries: 3,
			},
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 3}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("provider timeout")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "provider timeout", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
}

func TestRegistrationRunJobPayloadRoundTrip(t *testing.T) {
	payload := RegistrationRunJobPayload{RunUUID: "0d6a0d7b-8e20-4a41-9d60-1edc1b2c3d4e"}

	got, err := RegistrationRunJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload.RunUUID, got.RunUUID)
}

func TestPrewarmTriggerJobPayloadRoundTrip(t *testing.T) {
	payload := PrewarmTriggerJobPayload{SessionID: 42}

	got, err := PrewarmTriggerJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, uint(42), got.SessionID)
}

func TestPrewarmTriggerJobPayloadFromJSONNumbers(t *testing.T) {
	// Payloads round-tripped through Redis arrive as generic JSON maps
	// where numbers are float64.
	got, err := PrewarmTriggerJobPayloadFromMap(map[string]interface{}{
		"session_id": float64(7),
	})
	require.NoError(t, err)
	assert.Equal(t, uint(7), got.SessionID)
}
