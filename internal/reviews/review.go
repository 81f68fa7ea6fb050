// Package reviews implements the human approval gate. Every completed
// rewrite acquires exactly one pending review; a single decide operation
// moves it to a terminal status under optimistic concurrency, and risky
// content cannot be approved without a recorded justification.
package reviews

import (
	"time"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/risk"
)

// Status is the review lifecycle state.
type Status string

// Review statuses. A review is decidable only from StatusPending or
// StatusRerunRequested; the other statuses are terminal for decisions,
// though comments may still be appended.
const (
	StatusPending        Status = "pending"
	StatusApproved       Status = "approved"
	StatusRejected       Status = "rejected"
	StatusEdited         Status = "edited"
	StatusRerunRequested Status = "rerun_requested"
)

// Decidable reports whether a decide call may act on this status.
func (s Status) Decidable() bool {
	return s == StatusPending || s == StatusRerunRequested
}

// Decision names the action a reviewer takes on a rewrite.
type Decision string

// Reviewer decisions.
const (
	DecisionApprove      Decision = "approve"
	DecisionReject       Decision = "reject"
	DecisionEdit         Decision = "edit"
	DecisionRequestRerun Decision = "request_rerun"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionEdit, DecisionRequestRerun:
		return true
	}
	return false
}

// Status returns the review status a decision resolves to.
func (d Decision) Status() Status {
	switch d {
	case DecisionApprove:
		return StatusApproved
	case DecisionReject:
		return StatusRejected
	case DecisionEdit:
		return StatusEdited
	case DecisionRequestRerun:
		return StatusRerunRequested
	}
	return ""
}

// approvalClass reports whether the decision carries risky content into the
// final output and therefore needs an override justification when blocking
// findings are attached. Reject and rerun discard the content, so they
// never require one.
func (d Decision) approvalClass() bool {
	return d == DecisionApprove || d == DecisionEdit
}

// Review is the decision record gating one rewrite attempt. EditedText and
// OverrideReason stay nil until a decision sets them; the underlying
// rewritten text is never modified, so an edit is always diffable against
// what the model produced.
type Review struct {
	ID             uuid.UUID  `json:"id"`
	RewriteID      uuid.UUID  `json:"rewrite_id"`
	Status         Status     `json:"status"`
	EditedText     *string    `json:"edited_text"`
	OverrideReason *string    `json:"override_reason"`
	DecidedBy      *uuid.UUID `json:"decided_by"`
	DecidedAt      *time.Time `json:"decided_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Comment is one entry in a review's append-only discussion thread.
// ParentID threads replies; comments are permitted in any review status.
type Comment struct {
	ID        uuid.UUID  `json:"id"`
	ReviewID  uuid.UUID  `json:"review_id"`
	ParentID  *uuid.UUID `json:"parent_id"`
	AuthorID  *uuid.UUID `json:"author_id"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
}

// DecideCommand carries a reviewer's decision.
type DecideCommand struct {
	Decision       Decision   `json:"decision"`
	EditedText     *string    `json:"edited_text"`
	OverrideReason *string    `json:"override_reason"`
	ActorID        *uuid.UUID `json:"actor_id"`
}

// CommentCommand carries a new thread entry.
type CommentCommand struct {
	Body     string     `json:"body"`
	ParentID *uuid.UUID `json:"parent_id"`
	AuthorID *uuid.UUID `json:"author_id"`
}

// RewriteState is the view of a section rewrite the review gate needs:
// whether it finished, what it produced, and the risk findings attached to
// it. It is supplied by the orchestration side through RewriteSource.
type RewriteState struct {
	ID            uuid.UUID
	JobID         uuid.UUID
	SectionID     uuid.UUID
	Completed     bool
	RewrittenText string
	Findings      []risk.Finding
}

// Blocking reports whether any attached finding is severe enough to demand
// an override justification on an approval-class decision.
func (r *RewriteState) Blocking() bool {
	return risk.MaxSeverity(r.Findings).AtLeast(risk.SeverityHigh)
}
