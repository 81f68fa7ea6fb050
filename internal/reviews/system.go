package reviews

import (
	"context"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/audit"
)

// System defines the public contract for review domain operations.
type System interface {
	Handler() *Handler

	GetOrCreate(ctx context.Context, rewriteID uuid.UUID) (*Review, error)
	Find(ctx context.Context, id uuid.UUID) (*Review, error)
	ForRewrite(ctx context.Context, rewriteID uuid.UUID) (*Review, error)
	Decide(ctx context.Context, id uuid.UUID, cmd DecideCommand) (*Review, error)
	AddComment(ctx context.Context, reviewID uuid.UUID, cmd CommentCommand) (*Comment, error)
	Comments(ctx context.Context, reviewID uuid.UUID) ([]Comment, error)
}

// RewriteSource supplies the rewrite facts the gate validates against.
// Implementations translate unknown rewrite identifiers to ErrNotFound.
type RewriteSource interface {
	RewriteState(ctx context.Context, rewriteID uuid.UUID) (*RewriteState, error)
}

// RerunNotifier receives the signal side of a rerun_requested decision.
// The decision record is the source of truth; the notifier only prompts
// the orchestrator to schedule the new attempt.
type RerunNotifier interface {
	RerunRequested(ctx context.Context, jobID, sectionID, rewriteID uuid.UUID) error
}

// DecisionUpdate is the persistence-level mutation of a successful decide.
// Stores apply it atomically with the conflict check: the update commits
// only if the review still holds a decidable status.
type DecisionUpdate struct {
	Status         Status
	EditedText     *string
	OverrideReason *string
	DecidedBy      *uuid.UUID
}

// Store is the persistence contract beneath the Service. Every mutation
// takes the audit entry that must commit with it as one unit.
type Store interface {
	Find(ctx context.Context, id uuid.UUID) (*Review, error)
	FindByRewrite(ctx context.Context, rewriteID uuid.UUID) (*Review, error)
	Create(ctx context.Context, id, rewriteID uuid.UUID, entry audit.Entry) (*Review, error)
	Decide(ctx context.Context, id uuid.UUID, upd DecisionUpdate, entry audit.Entry) (*Review, error)
	AddComment(ctx context.Context, reviewID uuid.UUID, cmd CommentCommand, entry audit.Entry) (*Comment, error)
	Comments(ctx context.Context, reviewID uuid.UUID) ([]Comment, error)
}
