package api

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/jobs"
	"github.com/reviso/reviso/internal/reviews"
)

// rewriteSource projects the orchestrator's rewrite records into the view
// the review gate validates against.
type rewriteSource struct {
	jobs jobs.System
}

func (s *rewriteSource) RewriteState(
	ctx context.Context,
	rewriteID uuid.UUID,
) (*reviews.RewriteState, error) {
	sr, err := s.jobs.Rewrite(ctx, rewriteID)
	if errors.Is(err, jobs.ErrRewriteNotFound) {
		return nil, reviews.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	state := &reviews.RewriteState{
		ID:        sr.ID,
		JobID:     sr.JobID,
		SectionID: sr.SectionID,
		Completed: sr.Status == jobs.RewriteCompleted,
		Findings:  sr.Findings,
	}
	if sr.RewrittenText != nil {
		state.RewrittenText = *sr.RewrittenText
	}
	return state, nil
}

// rerunNotifier forwards rerun_requested decisions to the orchestrator.
type rerunNotifier struct {
	jobs jobs.System
}

func (n *rerunNotifier) RerunRequested(
	ctx context.Context,
	jobID, sectionID, rewriteID uuid.UUID,
) error {
	return n.jobs.RequestRerun(ctx, jobID, sectionID, rewriteID)
}
