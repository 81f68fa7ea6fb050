package assembly_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/assembly"
	"github.com/reviso/reviso/internal/jobs"
	"github.com/reviso/reviso/internal/reviews"
	"github.com/reviso/reviso/internal/sections"
)

type stubJobs struct {
	job      jobs.RewriteJob
	rewrites []jobs.SectionRewrite
}

func (s *stubJobs) Job(ctx context.Context, id uuid.UUID) (*jobs.RewriteJob, error) {
	if id != s.job.ID {
		return nil, jobs.ErrNotFound
	}
	job := s.job
	return &job, nil
}

func (s *stubJobs) Rewrites(ctx context.Context, jobID uuid.UUID) ([]jobs.SectionRewrite, error) {
	return append([]jobs.SectionRewrite(nil), s.rewrites...), nil
}

type stubReviews struct {
	byRewrite map[uuid.UUID]*reviews.Review
}

func (s *stubReviews) ForRewrite(ctx context.Context, rewriteID uuid.UUID) (*reviews.Review, error) {
	review, ok := s.byRewrite[rewriteID]
	if !ok {
		return nil, reviews.ErrNotFound
	}
	return review, nil
}

type gateFixture struct {
	gate    *assembly.Gate
	jobs    *stubJobs
	reviews *stubReviews
	secs    []sections.Section
}

// newGateFixture seeds a mapped two-section document with a completed
// rewrite per section and no reviews yet.
func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	doc := sections.Document{ID: uuid.New(), Filename: "lease.docx", Status: sections.StatusMapped}

	headings := []string{"Term", "Rent"}
	secs := make([]sections.Section, 2)
	for i := range secs {
		text := "Original clause " + headings[i] + "."
		secs[i] = sections.Section{
			ID:           uuid.New(),
			Sequence:     i + 1,
			Heading:      &headings[i],
			Type:         sections.TypeClause,
			OriginalText: text,
			ContentHash:  sections.HashContent(text, sections.TypeClause),
		}
	}

	sectionStore := sections.NewMemoryStore(logger)
	sectionStore.SeedDocument(doc)
	sectionStore.SeedSections(doc.ID, secs, nil)

	js := &stubJobs{
		job: jobs.RewriteJob{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			Status:     jobs.JobCompleted,
		},
	}
	for i := range secs {
		text := "Rewritten clause " + headings[i] + "."
		js.rewrites = append(js.rewrites, jobs.SectionRewrite{
			ID:            uuid.New(),
			JobID:         js.job.ID,
			SectionID:     secs[i].ID,
			Status:        jobs.RewriteCompleted,
			Attempt:       1,
			RewrittenText: &text,
		})
	}

	rs := &stubReviews{byRewrite: make(map[uuid.UUID]*reviews.Review)}
	return &gateFixture{
		gate:    assembly.NewGate(js, rs, sectionStore, logger),
		jobs:    js,
		reviews: rs,
		secs:    secs,
	}
}

func (f *gateFixture) review(rewriteID uuid.UUID, status reviews.Status, editedText *string) {
	f.reviews.byRewrite[rewriteID] = &reviews.Review{
		ID:         uuid.New(),
		RewriteID:  rewriteID,
		Status:     status,
		EditedText: editedText,
	}
}

func (f *gateFixture) approveAll() {
	for _, sr := range f.jobs.rewrites {
		f.review(sr.ID, reviews.StatusApproved, nil)
	}
}

func TestStatusUnreviewed(t *testing.T) {
	fx := newGateFixture(t)

	status, err := fx.gate.Status(context.Background(), fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Ready {
		t.Error("job with unreviewed sections reported ready")
	}
	if len(status.Sections) != 2 {
		t.Fatalf("got %d section states, want 2", len(status.Sections))
	}
	for _, s := range status.Sections {
		if s.ReviewState != "unreviewed" || s.Approved {
			t.Errorf("section %s state %+v, want unreviewed", s.SectionID, s)
		}
		if s.RewriteState != string(jobs.RewriteCompleted) {
			t.Errorf("rewrite state %s, want completed", s.RewriteState)
		}
	}
}

func TestStatusReady(t *testing.T) {
	fx := newGateFixture(t)
	edited := "Edited clause Rent."
	fx.review(fx.jobs.rewrites[0].ID, reviews.StatusApproved, nil)
	fx.review(fx.jobs.rewrites[1].ID, reviews.StatusEdited, &edited)

	status, err := fx.gate.Status(context.Background(), fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.Ready {
		t.Error("fully reviewed job not ready")
	}
	for _, s := range status.Sections {
		if !s.Approved {
			t.Errorf("section %s not approved: %+v", s.SectionID, s)
		}
		if s.ReviewID == nil {
			t.Errorf("section %s missing review id", s.SectionID)
		}
	}
}

func TestStatusRejectedBlocks(t *testing.T) {
	fx := newGateFixture(t)
	fx.review(fx.jobs.rewrites[0].ID, reviews.StatusApproved, nil)
	fx.review(fx.jobs.rewrites[1].ID, reviews.StatusRejected, nil)

	status, err := fx.gate.Status(context.Background(), fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Ready {
		t.Error("rejected section did not block readiness")
	}
}

func TestResolveRefusals(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*gateFixture)
	}{
		{
			name:    "unreviewed section",
			prepare: func(fx *gateFixture) { fx.review(fx.jobs.rewrites[0].ID, reviews.StatusApproved, nil) },
		},
		{
			name: "rejected section",
			prepare: func(fx *gateFixture) {
				fx.review(fx.jobs.rewrites[0].ID, reviews.StatusApproved, nil)
				fx.review(fx.jobs.rewrites[1].ID, reviews.StatusRejected, nil)
			},
		},
		{
			name: "pending section",
			prepare: func(fx *gateFixture) {
				fx.review(fx.jobs.rewrites[0].ID, reviews.StatusApproved, nil)
				fx.review(fx.jobs.rewrites[1].ID, reviews.StatusPending, nil)
			},
		},
		{
			name: "incomplete rewrite",
			prepare: func(fx *gateFixture) {
				fx.approveAll()
				fx.jobs.rewrites[1].Status = jobs.RewriteFailed
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newGateFixture(t)
			tt.prepare(fx)

			_, err := fx.gate.Resolve(context.Background(), fx.jobs.job.ID)
			if !errors.Is(err, assembly.ErrNotReady) {
				t.Errorf("got %v, want ErrNotReady", err)
			}
		})
	}
}

func TestResolveAssemblesInOrder(t *testing.T) {
	fx := newGateFixture(t)
	fx.approveAll()

	doc, err := fx.gate.Resolve(context.Background(), fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if doc.DocumentID != fx.jobs.job.DocumentID {
		t.Errorf("document id mismatch")
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("got %d assembled sections, want 2", len(doc.Sections))
	}
	for i, sec := range fx.secs {
		if doc.Sections[i].SectionID != sec.ID {
			t.Errorf("section %d out of sequence order", i)
		}
		if doc.Sections[i].Heading == nil || *doc.Sections[i].Heading != *sec.Heading {
			t.Errorf("section %d heading not carried through", i)
		}
	}
	want := "Rewritten clause Term.\n\nRewritten clause Rent."
	if doc.Text != want {
		t.Errorf("assembled text %q, want %q", doc.Text, want)
	}
}

func TestResolveEditedTextSupersedes(t *testing.T) {
	fx := newGateFixture(t)
	edited := "Edited clause Term."
	fx.review(fx.jobs.rewrites[0].ID, reviews.StatusEdited, &edited)
	fx.review(fx.jobs.rewrites[1].ID, reviews.StatusApproved, nil)

	doc, err := fx.gate.Resolve(context.Background(), fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if doc.Sections[0].Text != edited {
		t.Errorf("section text %q, want the reviewer's edit", doc.Sections[0].Text)
	}
	if !strings.Contains(doc.Text, edited) {
		t.Errorf("assembled text missing the edited clause:\n%s", doc.Text)
	}
	if strings.Contains(doc.Text, "Rewritten clause Term.") {
		t.Errorf("superseded rewrite leaked into the export:\n%s", doc.Text)
	}
}

func TestResolveLatestAttemptWins(t *testing.T) {
	fx := newGateFixture(t)
	fx.approveAll()

	// A rerun produced a second attempt for the first section. Only its
	// review gates the export.
	rerunText := "Rerun clause Term."
	rerun := jobs.SectionRewrite{
		ID:            uuid.New(),
		JobID:         fx.jobs.job.ID,
		SectionID:     fx.secs[0].ID,
		Status:        jobs.RewriteCompleted,
		Attempt:       2,
		RewrittenText: &rerunText,
	}
	fx.jobs.rewrites = append(fx.jobs.rewrites, rerun)

	_, err := fx.gate.Resolve(context.Background(), fx.jobs.job.ID)
	if !errors.Is(err, assembly.ErrNotReady) {
		t.Fatalf("unreviewed rerun attempt did not block export: %v", err)
	}

	fx.review(rerun.ID, reviews.StatusApproved, nil)
	doc, err := fx.gate.Resolve(context.Background(), fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if doc.Sections[0].Text != rerunText {
		t.Errorf("section text %q, want the latest attempt's rewrite", doc.Sections[0].Text)
	}
}

func TestResolveUnknownJob(t *testing.T) {
	fx := newGateFixture(t)

	_, err := fx.gate.Resolve(context.Background(), uuid.New())
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
