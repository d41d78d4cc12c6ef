package domain

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobTypeExtract       JobType = "extract"
	JobTypeHash          JobType = "hash"
	JobTypeCompare       JobType = "compare"
	JobTypeReverseSearch JobType = "reverse-search"
	JobTypePlagiarism    JobType = "plagiarism"
)

type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether a state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job is the durable unit of work driven through the forensics pipeline.
// State transitions are monotonic: waiting -> active -> completed|failed.
type Job struct {
	ID            string
	Type          JobType
	Payload       json.RawMessage
	State         JobState
	Progress      int
	Result        json.RawMessage
	FailureReason string
	Attempts      int
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// QueueMessage is the transport format pushed to queue backends.
type QueueMessage struct {
	JobID       string          `json:"job_id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	RequestedAt time.Time       `json:"requested_at"`
}

// SubmitMode tells the caller how an accepted job will be executed.
type SubmitMode string

const (
	SubmitModeQueue  SubmitMode = "queue"
	SubmitModeDirect SubmitMode = "direct"
)
