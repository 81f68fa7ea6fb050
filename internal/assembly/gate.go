// Package assembly implements the export gate: the check that every
// section of a job passed human review before its content can leave the
// system. It is a read-side consumer of the job and review domains and
// never mutates either.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/jobs"
	"github.com/reviso/reviso/internal/reviews"
	"github.com/reviso/reviso/internal/sections"
)

// JobSource is the orchestration view the gate reads.
type JobSource interface {
	Job(ctx context.Context, id uuid.UUID) (*jobs.RewriteJob, error)
	Rewrites(ctx context.Context, jobID uuid.UUID) ([]jobs.SectionRewrite, error)
}

// ReviewSource resolves the review gating a rewrite attempt.
type ReviewSource interface {
	ForRewrite(ctx context.Context, rewriteID uuid.UUID) (*reviews.Review, error)
}

// SectionState is the gate's verdict for one section.
type SectionState struct {
	SectionID    uuid.UUID  `json:"section_id"`
	RewriteID    *uuid.UUID `json:"rewrite_id"`
	ReviewID     *uuid.UUID `json:"review_id"`
	RewriteState string     `json:"rewrite_state"`
	ReviewState  string     `json:"review_state"`
	Approved     bool       `json:"approved"`
}

// Status is the aggregate gate verdict for a job. Ready is true only when
// every section holds an approved or edited review on its latest attempt.
type Status struct {
	JobID    uuid.UUID      `json:"job_id"`
	Ready    bool           `json:"ready"`
	Sections []SectionState `json:"sections"`
}

// AssembledSection is one section of exported content. Edited text
// supersedes the model's rewrite; the rewrite itself stays untouched in
// storage for traceability.
type AssembledSection struct {
	SectionID uuid.UUID `json:"section_id"`
	Heading   *string   `json:"heading"`
	Text      string    `json:"text"`
}

// AssembledDocument is the export payload for a fully approved job.
type AssembledDocument struct {
	JobID      uuid.UUID          `json:"job_id"`
	DocumentID uuid.UUID          `json:"document_id"`
	Sections   []AssembledSection `json:"sections"`
	Text       string             `json:"text"`
}

// Gate answers whether a job's content may be exported, and produces it.
type Gate struct {
	jobs     JobSource
	reviews  ReviewSource
	sections sections.System
	logger   *slog.Logger
}

// NewGate creates the assembly gate.
func NewGate(js JobSource, rs ReviewSource, ss sections.System, logger *slog.Logger) *Gate {
	return &Gate{
		jobs:     js,
		reviews:  rs,
		sections: ss,
		logger:   logger.With("system", "assembly"),
	}
}

func (g *Gate) Handler() *Handler {
	return NewHandler(g, g.logger)
}

// Status reports per-section review states and the aggregate ready flag.
func (g *Gate) Status(ctx context.Context, jobID uuid.UUID) (*Status, error) {
	job, err := g.jobs.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}

	graph, err := g.sections.Graph(ctx, job.DocumentID)
	if err != nil {
		return nil, err
	}

	latest, err := g.latestRewrites(ctx, jobID)
	if err != nil {
		return nil, err
	}

	status := &Status{JobID: jobID, Ready: true}
	for _, sectionID := range graph.Order() {
		state := SectionState{SectionID: sectionID, RewriteState: "missing", ReviewState: "unreviewed"}

		if sr, ok := latest[sectionID]; ok {
			id := sr.ID
			state.RewriteID = &id
			state.RewriteState = string(sr.Status)

			if sr.Status == jobs.RewriteCompleted {
				review, err := g.reviews.ForRewrite(ctx, sr.ID)
				switch {
				case err == nil:
					state.ReviewID = &review.ID
					state.ReviewState = string(review.Status)
					state.Approved = review.Status == reviews.StatusApproved ||
						review.Status == reviews.StatusEdited
				case errors.Is(err, reviews.ErrNotFound):
					// Completed but nobody has opened it yet.
				default:
					return nil, err
				}
			}
		}

		if !state.Approved {
			status.Ready = false
		}
		status.Sections = append(status.Sections, state)
	}
	return status, nil
}

// Resolve produces the exportable document. Every section must carry an
// approving review on its latest attempt; edited text supersedes the
// rewritten text.
func (g *Gate) Resolve(ctx context.Context, jobID uuid.UUID) (*AssembledDocument, error) {
	job, err := g.jobs.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}

	graph, err := g.sections.Graph(ctx, job.DocumentID)
	if err != nil {
		return nil, err
	}

	latest, err := g.latestRewrites(ctx, jobID)
	if err != nil {
		return nil, err
	}

	doc := &AssembledDocument{JobID: jobID, DocumentID: job.DocumentID}
	var sb strings.Builder

	for _, sectionID := range graph.Order() {
		sec := graph.Section(sectionID)

		sr, ok := latest[sectionID]
		if !ok || sr.Status != jobs.RewriteCompleted {
			return nil, fmt.Errorf("%w: section %s", ErrNotReady, sectionID)
		}

		review, err := g.reviews.ForRewrite(ctx, sr.ID)
		if errors.Is(err, reviews.ErrNotFound) {
			return nil, fmt.Errorf("%w: section %s", ErrNotReady, sectionID)
		}
		if err != nil {
			return nil, err
		}

		var text string
		switch review.Status {
		case reviews.StatusApproved:
			if sr.RewrittenText != nil {
				text = *sr.RewrittenText
			}
		case reviews.StatusEdited:
			if review.EditedText != nil {
				text = *review.EditedText
			}
		default:
			return nil, fmt.Errorf("%w: section %s", ErrNotReady, sectionID)
		}

		doc.Sections = append(doc.Sections, AssembledSection{
			SectionID: sectionID,
			Heading:   sec.Heading,
			Text:      text,
		})
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}

	doc.Text = sb.String()
	return doc, nil
}

// latestRewrites maps each section to its highest-attempt rewrite.
func (g *Gate) latestRewrites(ctx context.Context, jobID uuid.UUID) (map[uuid.UUID]jobs.SectionRewrite, error) {
	rewrites, err := g.jobs.Rewrites(ctx, jobID)
	if err != nil {
		return nil, err
	}

	latest := make(map[uuid.UUID]jobs.SectionRewrite, len(rewrites))
	for _, sr := range rewrites {
		if prev, ok := latest[sr.SectionID]; !ok || sr.Attempt > prev.Attempt {
			latest[sr.SectionID] = sr
		}
	}
	return latest, nil
}
