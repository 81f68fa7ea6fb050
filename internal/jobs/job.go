// Package jobs implements the rewrite orchestration core: job and section
// rewrite state machines, dependency-ordered scheduling with bounded
// concurrency, idempotent prompt-hash dispatch, retry with backoff, and a
// process-wide circuit breaker around the inference engine.
package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/risk"
)

// JobStatus is the rewrite job lifecycle state.
type JobStatus string

// Job statuses. The only path out of pending is Schedule; the three
// terminal states are final.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// RewriteStatus is the per-section attempt lifecycle state.
type RewriteStatus string

// Section rewrite statuses. Skipped marks a section whose dependency
// never completed because its job failed or was cancelled.
const (
	RewritePending   RewriteStatus = "pending"
	RewriteRunning   RewriteStatus = "running"
	RewriteCompleted RewriteStatus = "completed"
	RewriteFailed    RewriteStatus = "failed"
	RewriteSkipped   RewriteStatus = "skipped"
)

// Terminal reports whether the status permits no further transitions.
func (s RewriteStatus) Terminal() bool {
	return s == RewriteCompleted || s == RewriteFailed || s == RewriteSkipped
}

// RewriteJob is one document-wide rewrite run against one ruleset. The
// ruleset version is snapshotted at creation so prompt hashes stay stable
// for the life of the job even if the ruleset is edited afterwards.
type RewriteJob struct {
	ID                uuid.UUID  `json:"id"`
	DocumentID        uuid.UUID  `json:"document_id"`
	RulesetID         uuid.UUID  `json:"ruleset_id"`
	RulesetVersion    int        `json:"ruleset_version"`
	Status            JobStatus  `json:"status"`
	TotalSections     int        `json:"total_sections"`
	CompletedSections int        `json:"completed_sections"`
	ErrorDetail       *string    `json:"error_detail"`
	StartedAt         *time.Time `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SectionRewrite is one attempt to transform one section under one job.
// A row is one attempt: a rerun creates a new row with an incremented
// attempt number and never mutates the prior one.
type SectionRewrite struct {
	ID            uuid.UUID      `json:"id"`
	JobID         uuid.UUID      `json:"job_id"`
	SectionID     uuid.UUID      `json:"section_id"`
	Status        RewriteStatus  `json:"status"`
	PromptHash    string         `json:"prompt_hash"`
	RewrittenText *string        `json:"rewritten_text"`
	Model         *string        `json:"model"`
	InputTokens   int            `json:"input_tokens"`
	OutputTokens  int            `json:"output_tokens"`
	DurationMS    int64          `json:"duration_ms"`
	Attempt       int            `json:"attempt"`
	Findings      []risk.Finding `json:"findings"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// CreateCommand carries the data needed to create a rewrite job.
type CreateCommand struct {
	DocumentID uuid.UUID  `json:"document_id"`
	RulesetID  uuid.UUID  `json:"ruleset_id"`
	ActorID    *uuid.UUID `json:"actor_id"`
}

// JobUpdate is a partial mutation applied with a job status transition.
type JobUpdate struct {
	Status      JobStatus
	ErrorDetail *string
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// RewriteUpdate is a partial mutation applied to a section rewrite.
// Nil fields are left untouched; Findings, when non-nil, replace the
// attempt's finding set.
type RewriteUpdate struct {
	Status        *RewriteStatus
	PromptHash    *string
	RewrittenText *string
	Model         *string
	InputTokens   *int
	OutputTokens  *int
	DurationMS    *int64
	Attempt       *int
	Findings      []risk.Finding
}
