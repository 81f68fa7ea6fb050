package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/audit"
	"github.com/reviso/reviso/internal/inference"
	"github.com/reviso/reviso/internal/jobs"
	"github.com/reviso/reviso/internal/prompts"
	"github.com/reviso/reviso/internal/risk"
	"github.com/reviso/reviso/internal/rulesets"
	"github.com/reviso/reviso/internal/sections"
)

func testOrchConfig() jobs.Config {
	return jobs.Config{
		Concurrency:            2,
		MaxRetries:             3,
		RetryBaseMS:            1,
		RetryCapMS:             2,
		BreakerThreshold:       5,
		BreakerCooldownSeconds: 60,
	}
}

func clauseSections(n int) []sections.Section {
	secs := make([]sections.Section, n)
	for i := range secs {
		text := fmt.Sprintf("Clause %d: the tenant shall pay rent monthly.", i+1)
		secs[i] = sections.Section{
			ID:           uuid.New(),
			Sequence:     i + 1,
			Type:         sections.TypeClause,
			OriginalText: text,
			ContentHash:  sections.HashContent(text, sections.TypeClause),
		}
	}
	return secs
}

type orchFixture struct {
	orch   *jobs.Orchestrator
	store  *jobs.MemoryStore
	ledger *audit.MemoryLedger
	client *inference.ScriptedClient
	rules  *rulesets.MemoryStore
	doc    sections.Document
	secs   []sections.Section
	rs     rulesets.Ruleset
}

func newOrchFixture(t *testing.T, cfg jobs.Config, secs []sections.Section, edges []sections.Edge) *orchFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	doc := sections.Document{ID: uuid.New(), Filename: "lease.docx", Status: sections.StatusMapped}
	sectionStore := sections.NewMemoryStore(logger)
	sectionStore.SeedDocument(doc)
	sectionStore.SeedSections(doc.ID, secs, edges)

	rs := rulesets.Ruleset{
		ID:      uuid.New(),
		Name:    "plain-language",
		Version: 1,
		Active:  true,
		Fragments: []rulesets.Fragment{
			{Instruction: "Use plain language."},
		},
	}
	rulesetStore := rulesets.NewMemoryStore(logger)
	rulesetStore.Seed(rs)

	var riskCfg risk.Config
	if err := riskCfg.Finalize(); err != nil {
		t.Fatalf("finalize risk config: %v", err)
	}

	ledger := audit.NewMemoryLedger()
	store := jobs.NewMemoryStore(ledger)
	client := inference.NewScriptedClient()

	orch := jobs.NewOrchestrator(
		context.Background(), cfg, store,
		sectionStore, rulesetStore, client,
		risk.NewAnalyzer(riskCfg), logger,
	)

	return &orchFixture{
		orch:   orch,
		store:  store,
		ledger: ledger,
		client: client,
		rules:  rulesetStore,
		doc:    doc,
		secs:   secs,
		rs:     rs,
	}
}

// echoResponses scripts the engine to return each section's original text
// for its first-attempt prompt, producing finding-free rewrites.
func (f *orchFixture) echoResponses() {
	for i := range f.secs {
		sec := f.secs[i]
		f.client.Respond(prompts.Hash(&f.rs, &sec, 1), sec.OriginalText)
	}
}

func (f *orchFixture) runToCompletion(t *testing.T) *jobs.RewriteJob {
	t.Helper()
	ctx := context.Background()

	job, err := f.orch.Create(ctx, jobs.CreateCommand{DocumentID: f.doc.ID, RulesetID: f.rs.ID})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := f.orch.Schedule(ctx, job.ID); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	f.orch.Wait()

	job, err = f.orch.Job(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	return job
}

func countEvents(ledger *audit.MemoryLedger, eventType string) int {
	n := 0
	for _, e := range ledger.Events() {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func rewritesBySection(t *testing.T, orch *jobs.Orchestrator, jobID uuid.UUID) map[uuid.UUID][]jobs.SectionRewrite {
	t.Helper()
	rows, err := orch.Rewrites(context.Background(), jobID)
	if err != nil {
		t.Fatalf("list rewrites: %v", err)
	}
	out := make(map[uuid.UUID][]jobs.SectionRewrite)
	for _, r := range rows {
		out[r.SectionID] = append(out[r.SectionID], r)
	}
	return out
}

func TestJobRunsToCompletion(t *testing.T) {
	fx := newOrchFixture(t, testOrchConfig(), clauseSections(3), nil)
	fx.echoResponses()

	job := fx.runToCompletion(t)

	if job.Status != jobs.JobCompleted {
		t.Fatalf("job status %s, want completed (detail %v)", job.Status, job.ErrorDetail)
	}
	if job.CompletedSections != 3 || job.TotalSections != 3 {
		t.Errorf("completed %d/%d, want 3/3", job.CompletedSections, job.TotalSections)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Error("started_at and finished_at must be set on a finished job")
	}

	bySection := rewritesBySection(t, fx.orch, job.ID)
	for _, sec := range fx.secs {
		rows := bySection[sec.ID]
		if len(rows) != 1 {
			t.Fatalf("section %s has %d rewrite rows, want 1", sec.ID, len(rows))
		}
		row := rows[0]
		if row.Status != jobs.RewriteCompleted {
			t.Errorf("rewrite status %s, want completed", row.Status)
		}
		if row.Attempt != 1 {
			t.Errorf("attempt %d, want 1", row.Attempt)
		}
		if row.RewrittenText == nil || *row.RewrittenText != sec.OriginalText {
			t.Errorf("rewritten text not recorded")
		}
		if row.Model == nil || *row.Model != "scripted" {
			t.Errorf("model not recorded")
		}
		if len(row.Findings) != 0 {
			t.Errorf("identical rewrite produced %d findings", len(row.Findings))
		}
		if row.PromptHash != prompts.Hash(&fx.rs, &sec, 1) {
			t.Errorf("prompt hash does not match the compiled prompt")
		}
	}

	counts := map[string]int{
		jobs.EventJobCreated:       1,
		jobs.EventJobStarted:       1,
		jobs.EventJobCompleted:     1,
		jobs.EventRewriteScheduled: 3,
		jobs.EventRewriteStarted:   3,
		jobs.EventRewriteCompleted: 3,
	}
	for eventType, want := range counts {
		if got := countEvents(fx.ledger, eventType); got != want {
			t.Errorf("%s events = %d, want %d", eventType, got, want)
		}
	}

	result, err := fx.ledger.Verify(context.Background())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.Valid {
		t.Error("ledger chain broken after a full run")
	}
}

func TestDependencyOrdering(t *testing.T) {
	cfg := testOrchConfig()
	cfg.Concurrency = 1
	secs := clauseSections(3)
	// A chain: 2 depends on 1 depends on 0.
	edges := []sections.Edge{
		{FromSectionID: secs[1].ID, ToSectionID: secs[0].ID},
		{FromSectionID: secs[2].ID, ToSectionID: secs[1].ID},
	}

	fx := newOrchFixture(t, cfg, secs, edges)
	job := fx.runToCompletion(t)

	if job.Status != jobs.JobCompleted {
		t.Fatalf("job status %s, want completed", job.Status)
	}

	calls := fx.client.Calls()
	if len(calls) != 3 {
		t.Fatalf("engine saw %d calls, want 3", len(calls))
	}
	for i, sec := range fx.secs {
		want := prompts.Hash(&fx.rs, &sec, 1)
		if calls[i] != want {
			t.Fatalf("call %d did not follow dependency order", i)
		}
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	fx := newOrchFixture(t, testOrchConfig(), clauseSections(2), nil)
	fx.echoResponses()
	job := fx.runToCompletion(t)

	t.Run("terminal job is a no-op", func(t *testing.T) {
		again, err := fx.orch.Schedule(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("re-schedule failed: %v", err)
		}
		fx.orch.Wait()

		if again.Status != jobs.JobCompleted {
			t.Errorf("status %s, want completed", again.Status)
		}
		if got := len(fx.client.Calls()); got != 2 {
			t.Errorf("engine saw %d calls after re-schedule, want 2", got)
		}
	})

	t.Run("resume skips settled sections", func(t *testing.T) {
		// A crashed runner leaves the job in running with every section
		// already holding a completed attempt at the current prompt hash.
		_, err := fx.store.TransitionJob(context.Background(), job.ID,
			[]jobs.JobStatus{jobs.JobCompleted},
			jobs.JobUpdate{Status: jobs.JobRunning},
			audit.Entry{EventType: jobs.EventJobStarted, EntityType: "job", EntityID: job.ID.String()},
		)
		if err != nil {
			t.Fatalf("rewind job status: %v", err)
		}

		if _, err := fx.orch.Schedule(context.Background(), job.ID); err != nil {
			t.Fatalf("resume failed: %v", err)
		}
		fx.orch.Wait()

		resumed, err := fx.orch.Job(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("reload job: %v", err)
		}
		if resumed.Status != jobs.JobCompleted {
			t.Errorf("status %s, want completed", resumed.Status)
		}
		if resumed.CompletedSections != 2 {
			t.Errorf("completed sections %d, want 2: settled work must not be recounted", resumed.CompletedSections)
		}
		if got := len(fx.client.Calls()); got != 2 {
			t.Errorf("engine saw %d calls after resume, want 2", got)
		}
		rows, err := fx.orch.Rewrites(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("list rewrites: %v", err)
		}
		if len(rows) != 2 {
			t.Errorf("resume created new rewrite rows: got %d, want 2", len(rows))
		}
	})
}

func TestRetryOnTransientFailure(t *testing.T) {
	fx := newOrchFixture(t, testOrchConfig(), clauseSections(1), nil)

	transient := errors.New("engine connection reset")
	fx.client.Fail = func(hash string, call int) error {
		if call == 1 {
			return transient
		}
		return nil
	}

	job := fx.runToCompletion(t)

	if job.Status != jobs.JobCompleted {
		t.Fatalf("job status %s, want completed", job.Status)
	}
	if job.CompletedSections != 1 {
		t.Errorf("completed sections %d, want 1", job.CompletedSections)
	}

	rows := rewritesBySection(t, fx.orch, job.ID)[fx.secs[0].ID]
	if len(rows) != 1 {
		t.Fatalf("retry must reuse the row: got %d rows", len(rows))
	}
	if rows[0].Status != jobs.RewriteCompleted {
		t.Errorf("rewrite status %s, want completed", rows[0].Status)
	}
	if rows[0].Attempt != 2 {
		t.Errorf("attempt %d, want 2 after one retry", rows[0].Attempt)
	}
	if rows[0].PromptHash != prompts.Hash(&fx.rs, &fx.secs[0], 2) {
		t.Errorf("prompt hash not rebound to the retry attempt")
	}

	if got := countEvents(fx.ledger, jobs.EventRewriteRetried); got != 1 {
		t.Errorf("rewrite.retried events = %d, want 1", got)
	}
	if fx.orch.Breaker().State() != jobs.BreakerClosed {
		t.Errorf("breaker state %s, want closed", fx.orch.Breaker().State())
	}
}

func TestBreakerTripFailsJobAndSkipsDependents(t *testing.T) {
	cfg := testOrchConfig()
	cfg.Concurrency = 1
	cfg.BreakerThreshold = 2
	secs := clauseSections(2)
	edges := []sections.Edge{
		{FromSectionID: secs[1].ID, ToSectionID: secs[0].ID},
	}

	fx := newOrchFixture(t, cfg, secs, edges)
	fx.client.Fail = func(hash string, call int) error {
		return errors.New("engine unavailable")
	}

	job := fx.runToCompletion(t)

	if job.Status != jobs.JobFailed {
		t.Fatalf("job status %s, want failed", job.Status)
	}
	if job.ErrorDetail == nil {
		t.Error("failed job must carry an error detail")
	}
	if job.CompletedSections != 0 {
		t.Errorf("completed sections %d, want 0", job.CompletedSections)
	}

	bySection := rewritesBySection(t, fx.orch, job.ID)
	first := bySection[fx.secs[0].ID]
	if len(first) != 1 || first[0].Status != jobs.RewriteFailed {
		t.Errorf("first section should hold one failed rewrite, got %+v", first)
	}
	if len(first) == 1 && first[0].Attempt != 3 {
		// Two tries consumed the threshold; the attempt was rebound for a
		// third try that the open breaker then rejected.
		t.Errorf("attempt %d, want 3", first[0].Attempt)
	}
	second := bySection[fx.secs[1].ID]
	if len(second) != 1 || second[0].Status != jobs.RewriteSkipped {
		t.Errorf("dependent section should be skipped, got %+v", second)
	}

	if fx.orch.Breaker().State() != jobs.BreakerOpen {
		t.Errorf("breaker state %s, want open", fx.orch.Breaker().State())
	}
	if fx.orch.Breaker().Allow() {
		t.Error("open breaker admitted a call inside cooldown")
	}
	if got := countEvents(fx.ledger, jobs.EventRewriteSkipped); got != 1 {
		t.Errorf("rewrite.skipped events = %d, want 1", got)
	}
	if got := countEvents(fx.ledger, jobs.EventJobFailed); got != 1 {
		t.Errorf("job.failed events = %d, want 1", got)
	}
}

func TestCancelPendingJob(t *testing.T) {
	fx := newOrchFixture(t, testOrchConfig(), clauseSections(2), nil)
	ctx := context.Background()

	job, err := fx.orch.Create(ctx, jobs.CreateCommand{DocumentID: fx.doc.ID, RulesetID: fx.rs.ID})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	cancelled, err := fx.orch.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != jobs.JobCancelled {
		t.Errorf("status %s, want cancelled", cancelled.Status)
	}
	if cancelled.FinishedAt == nil {
		t.Error("cancelled job must carry a finished timestamp")
	}
	if len(fx.client.Calls()) != 0 {
		t.Error("cancelled pending job reached the engine")
	}

	t.Run("terminal job refuses cancellation", func(t *testing.T) {
		_, err := fx.orch.Cancel(ctx, job.ID)
		var te *jobs.TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("got %v, want TransitionError", err)
		}
		if te.Current != jobs.JobCancelled {
			t.Errorf("conflict reports current status %s, want cancelled", te.Current)
		}
		if !errors.Is(err, jobs.ErrInvalidTransition) {
			t.Error("TransitionError must match ErrInvalidTransition")
		}
	})
}

func TestRequestRerunCreatesFreshAttempt(t *testing.T) {
	fx := newOrchFixture(t, testOrchConfig(), clauseSections(1), nil)
	fx.echoResponses()
	job := fx.runToCompletion(t)

	sec := fx.secs[0]
	prior := rewritesBySection(t, fx.orch, job.ID)[sec.ID][0]

	if err := fx.orch.RequestRerun(context.Background(), job.ID, sec.ID, prior.ID); err != nil {
		t.Fatalf("rerun failed: %v", err)
	}
	fx.orch.Wait()

	rows := rewritesBySection(t, fx.orch, job.ID)[sec.ID]
	if len(rows) != 2 {
		t.Fatalf("got %d rewrite rows, want 2", len(rows))
	}

	kept, err := fx.orch.Rewrite(context.Background(), prior.ID)
	if err != nil {
		t.Fatalf("reload prior rewrite: %v", err)
	}
	if kept.Status != jobs.RewriteCompleted || kept.Attempt != 1 {
		t.Errorf("prior attempt mutated by rerun: %+v", kept)
	}

	var fresh *jobs.SectionRewrite
	for i := range rows {
		if rows[i].ID != prior.ID {
			fresh = &rows[i]
		}
	}
	if fresh == nil {
		t.Fatal("rerun row not found")
	}
	if fresh.Attempt != 2 {
		t.Errorf("rerun attempt %d, want 2", fresh.Attempt)
	}
	if fresh.Status != jobs.RewriteCompleted {
		t.Errorf("rerun status %s, want completed", fresh.Status)
	}
	if fresh.RewrittenText == nil {
		t.Error("rerun produced no text")
	}

	after, err := fx.orch.Job(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if after.Status != jobs.JobCompleted {
		t.Errorf("rerun must not touch the job status, got %s", after.Status)
	}
	if after.CompletedSections != 1 {
		t.Errorf("rerun double-counted completion: %d, want 1", after.CompletedSections)
	}
	if got := countEvents(fx.ledger, jobs.EventRerunScheduled); got != 1 {
		t.Errorf("rerun_scheduled events = %d, want 1", got)
	}
}

func TestCreateValidation(t *testing.T) {
	fx := newOrchFixture(t, testOrchConfig(), clauseSections(1), nil)
	ctx := context.Background()

	t.Run("unknown document", func(t *testing.T) {
		_, err := fx.orch.Create(ctx, jobs.CreateCommand{DocumentID: uuid.New(), RulesetID: fx.rs.ID})
		if !errors.Is(err, sections.ErrDocumentNotFound) {
			t.Errorf("got %v, want ErrDocumentNotFound", err)
		}
	})

	t.Run("unmapped document", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		sectionStore := sections.NewMemoryStore(logger)
		doc := sections.Document{ID: uuid.New(), Filename: "draft.docx", Status: sections.StatusUploaded}
		sectionStore.SeedDocument(doc)

		rulesetStore := rulesets.NewMemoryStore(logger)
		rulesetStore.Seed(fx.rs)

		var riskCfg risk.Config
		if err := riskCfg.Finalize(); err != nil {
			t.Fatalf("finalize risk config: %v", err)
		}
		orch := jobs.NewOrchestrator(
			context.Background(), testOrchConfig(),
			jobs.NewMemoryStore(audit.NewMemoryLedger()),
			sectionStore, rulesetStore, inference.NewScriptedClient(),
			risk.NewAnalyzer(riskCfg), logger,
		)

		_, err := orch.Create(ctx, jobs.CreateCommand{DocumentID: doc.ID, RulesetID: fx.rs.ID})
		if !errors.Is(err, jobs.ErrDocumentNotReady) {
			t.Errorf("got %v, want ErrDocumentNotReady", err)
		}
	})

	t.Run("inactive ruleset", func(t *testing.T) {
		inactive := fx.rs
		inactive.ID = uuid.New()
		inactive.Active = false
		fx.rules.Seed(inactive)

		_, err := fx.orch.Create(ctx, jobs.CreateCommand{DocumentID: fx.doc.ID, RulesetID: inactive.ID})
		if !errors.Is(err, jobs.ErrRulesetInactive) {
			t.Errorf("got %v, want ErrRulesetInactive", err)
		}
	})

	t.Run("unknown ruleset", func(t *testing.T) {
		_, err := fx.orch.Create(ctx, jobs.CreateCommand{DocumentID: fx.doc.ID, RulesetID: uuid.New()})
		if !errors.Is(err, rulesets.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

// flakyStore fails LatestRewrite for one section, standing in for a
// transient store outage during skip bookkeeping.
type flakyStore struct {
	*jobs.MemoryStore
	failSection uuid.UUID
}

func (s *flakyStore) LatestRewrite(ctx context.Context, jobID, sectionID uuid.UUID) (*jobs.SectionRewrite, error) {
	if sectionID == s.failSection {
		return nil, errors.New("store unavailable")
	}
	return s.MemoryStore.LatestRewrite(ctx, jobID, sectionID)
}

func TestSkipOnStoreErrorMintsNoRow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	secs := clauseSections(2)
	edges := []sections.Edge{
		{FromSectionID: secs[1].ID, ToSectionID: secs[0].ID},
	}

	doc := sections.Document{ID: uuid.New(), Filename: "lease.docx", Status: sections.StatusMapped}
	sectionStore := sections.NewMemoryStore(logger)
	sectionStore.SeedDocument(doc)
	sectionStore.SeedSections(doc.ID, secs, edges)

	rs := rulesets.Ruleset{
		ID:        uuid.New(),
		Name:      "plain-language",
		Version:   1,
		Active:    true,
		Fragments: []rulesets.Fragment{{Instruction: "Use plain language."}},
	}
	rulesetStore := rulesets.NewMemoryStore(logger)
	rulesetStore.Seed(rs)

	var riskCfg risk.Config
	if err := riskCfg.Finalize(); err != nil {
		t.Fatalf("finalize risk config: %v", err)
	}

	ledger := audit.NewMemoryLedger()
	store := &flakyStore{
		MemoryStore: jobs.NewMemoryStore(ledger),
		failSection: secs[1].ID,
	}
	client := inference.NewScriptedClient()
	client.Fail = func(hash string, call int) error {
		return errors.New("engine unavailable")
	}

	cfg := testOrchConfig()
	cfg.Concurrency = 1
	cfg.MaxRetries = 1
	orch := jobs.NewOrchestrator(
		context.Background(), cfg, store,
		sectionStore, rulesetStore, client,
		risk.NewAnalyzer(riskCfg), logger,
	)

	ctx := context.Background()
	job, err := orch.Create(ctx, jobs.CreateCommand{DocumentID: doc.ID, RulesetID: rs.ID})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := orch.Schedule(ctx, job.ID); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	orch.Wait()

	job, err = orch.Job(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if job.Status != jobs.JobFailed {
		t.Fatalf("job status %s, want failed", job.Status)
	}

	rows, err := orch.Rewrites(ctx, job.ID)
	if err != nil {
		t.Fatalf("list rewrites: %v", err)
	}
	for _, row := range rows {
		if row.SectionID == secs[1].ID {
			t.Errorf("store error during skip minted a rewrite row: %+v", row)
		}
	}
	if got := countEvents(ledger, jobs.EventRewriteSkipped); got != 0 {
		t.Errorf("rewrite.skipped events = %d, want 0 when the store lookup fails", got)
	}
}

func TestProgressFeed(t *testing.T) {
	fx := newOrchFixture(t, testOrchConfig(), clauseSections(1), nil)
	fx.echoResponses()
	ctx := context.Background()

	job, err := fx.orch.Create(ctx, jobs.CreateCommand{DocumentID: fx.doc.ID, RulesetID: fx.rs.ID})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	feed, cancel := fx.orch.Subscribe(job.ID)
	defer cancel()

	if _, err := fx.orch.Schedule(ctx, job.ID); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	fx.orch.Wait()

	var updates []jobs.ProgressUpdate
	draining := true
	for draining {
		select {
		case u := <-feed:
			updates = append(updates, u)
		default:
			draining = false
		}
	}
	if len(updates) == 0 {
		t.Fatal("no progress updates delivered")
	}

	sawToken := false
	for _, u := range updates {
		if u.Token != "" {
			sawToken = true
		}
	}
	if !sawToken {
		t.Error("token stream never reached the subscriber")
	}

	final := updates[len(updates)-1]
	if !final.Done {
		t.Errorf("final update not marked done: %+v", final)
	}
	if final.Status != string(jobs.JobCompleted) {
		t.Errorf("final status %s, want completed", final.Status)
	}
	if final.Completed != 1 || final.Total != 1 {
		t.Errorf("final progress %d/%d, want 1/1", final.Completed, final.Total)
	}
}
