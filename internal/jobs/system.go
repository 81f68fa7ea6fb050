package jobs

import (
	"context"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/audit"
)

// System defines the public contract for job orchestration.
type System interface {
	Handler() *Handler

	Create(ctx context.Context, cmd CreateCommand) (*RewriteJob, error)
	Schedule(ctx context.Context, jobID uuid.UUID) (*RewriteJob, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (*RewriteJob, error)
	Job(ctx context.Context, id uuid.UUID) (*RewriteJob, error)
	Jobs(ctx context.Context) ([]RewriteJob, error)
	Rewrite(ctx context.Context, id uuid.UUID) (*SectionRewrite, error)
	Rewrites(ctx context.Context, jobID uuid.UUID) ([]SectionRewrite, error)
	Subscribe(jobID uuid.UUID) (<-chan ProgressUpdate, func())

	// RequestRerun schedules a fresh attempt for the section behind a
	// reviewed rewrite. The prior attempt and its review are untouched.
	RequestRerun(ctx context.Context, jobID, sectionID, rewriteID uuid.UUID) error
}

// Store is the persistence contract beneath the orchestrator. Mutations
// that represent state transitions take the audit entry that must commit
// with them as one unit.
type Store interface {
	CreateJob(ctx context.Context, job RewriteJob, entry audit.Entry) (*RewriteJob, error)
	Job(ctx context.Context, id uuid.UUID) (*RewriteJob, error)
	Jobs(ctx context.Context) ([]RewriteJob, error)

	// TransitionJob applies upd only if the job currently holds one of the
	// from statuses; otherwise it fails with a TransitionError carrying
	// the current status.
	TransitionJob(ctx context.Context, id uuid.UUID, from []JobStatus, upd JobUpdate, entry audit.Entry) (*RewriteJob, error)

	// IncrementCompleted bumps the job's completed section counter and
	// returns the new count. Not a status transition; no audit entry.
	IncrementCompleted(ctx context.Context, jobID uuid.UUID) (int, error)

	CreateRewrite(ctx context.Context, sr SectionRewrite, entry audit.Entry) (*SectionRewrite, error)
	Rewrite(ctx context.Context, id uuid.UUID) (*SectionRewrite, error)
	RewritesForJob(ctx context.Context, jobID uuid.UUID) ([]SectionRewrite, error)
	LatestRewrite(ctx context.Context, jobID, sectionID uuid.UUID) (*SectionRewrite, error)
	UpdateRewrite(ctx context.Context, id uuid.UUID, upd RewriteUpdate, entry audit.Entry) (*SectionRewrite, error)
}
