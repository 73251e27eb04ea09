package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeRegistrationRun JobType = "registration_run"
	JobTypeResumeRun       JobType = "resume_run"
	JobTypePrewarmTrigger  JobType = "prewarm_trigger"
	JobTypePaymentSettle   JobType = "payment_settle"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// RegistrationRunJobPayload contains the payload for registration run jobs
type RegistrationRunJobPayload struct {
	RunUUID string `json:"run_uuid"`
}

// ToMap converts the payload to a map for storage
func (p RegistrationRunJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"run_uuid": p.RunUUID,
	}
}

// FromMap creates a payload from a map
func RegistrationRunJobPayloadFromMap(data map[string]interface{}) (*RegistrationRunJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload RegistrationRunJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// ResumeRunJobPayload contains the payload for resuming a paused run after
// its verification was solved
type ResumeRunJobPayload struct {
	RunUUID string `json:"run_uuid"`
}

// ToMap converts the payload to a map for storage
func (p ResumeRunJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"run_uuid": p.RunUUID,
	}
}

// FromMap creates a payload from a map
func ResumeRunJobPayloadFromMap(data map[string]interface{}) (*ResumeRunJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ResumeRunJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// PrewarmTriggerJobPayload contains the payload for firing a session warm-up
type PrewarmTriggerJobPayload struct {
	SessionID uint `json:"session_id"`
}

// ToMap converts the payload to a map for storage
func (p PrewarmTriggerJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id": p.SessionID,
	}
}

// FromMap creates a payload from a map
func PrewarmTriggerJobPayloadFromMap(data map[string]interface{}) (*PrewarmTriggerJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload PrewarmTriggerJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// PaymentSettleJobPayload contains the payload for settling a successful run
type PaymentSettleJobPayload struct {
	RunUUID string `json:"run_uuid"`
}

// ToMap converts the payload to a map for storage
func (p PaymentSettleJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"run_uuid": p.RunUUID,
	}
}

// FromMap creates a payload from a map
func PaymentSettleJobPayloadFromMap(data map[string]interface{}) (*PaymentSettleJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload PaymentSettleJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
