package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobExamAnalysis         = "exam-analysis"
	JobRoleSubjects         = "role-subjects"
	JobDailyPlan            = "daily-plan"
	JobSimulationGeneration = "simulation-generation"
	JobPastExamImport       = "past-exam-import"
)

const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

type Job struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Type         string          `json:"type"`
	ReferenceID  uuid.UUID       `json:"reference_id"` // exam id; uuid.Nil for exam-analysis
	ConfigJSON   json.RawMessage `json:"config"`
	Status       string          `json:"status"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ResultJSON   json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

// JobResult points at what a finished job produced.
type JobResult struct {
	ExamID       uuid.UUID `json:"exam_id"`
	SimulationID string    `json:"simulation_id,omitempty"`
	PlanID       string    `json:"plan_id,omitempty"`
}

// WebSocket message types
const (
	WSStatusUpdate  = "status_update"
	WSCompleted     = "completed"
	WSError         = "error"
	WSSnapshotSaved = "snapshot_saved"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusUpdate struct {
	JobID                     uuid.UUID `json:"job_id"`
	Step                      int       `json:"step"`
	StepName                  string    `json:"step_name"`
	EstimatedSecondsRemaining int       `json:"estimated_seconds_remaining"`
}

type CompletedEvent struct {
	JobID      uuid.UUID `json:"job_id"`
	ResultType string    `json:"result_type"`
	Result     JobResult `json:"result"`
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

type SnapshotSavedEvent struct {
	ExamID       uuid.UUID        `json:"exam_id"`
	SimulationID string           `json:"simulation_id"`
	Status       SimulationStatus `json:"status"`
	Score        int              `json:"score"`
	Answered     int              `json:"answered"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Job configs, stored in jobs.config_json.

type ExamAnalysisConfig struct {
	Query string `json:"query"`
}

type RoleSubjectsConfig struct {
	Role string `json:"role"`
}

type DailyPlanConfig struct {
	AvailableHours float64 `json:"available_hours"`
}

type PastExamConfig struct {
	Query string `json:"query"`
}
