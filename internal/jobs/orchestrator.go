package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/reviso/reviso/internal/audit"
	"github.com/reviso/reviso/internal/inference"
	"github.com/reviso/reviso/internal/prompts"
	"github.com/reviso/reviso/internal/risk"
	"github.com/reviso/reviso/internal/rulesets"
	"github.com/reviso/reviso/internal/sections"
)

// Audit event types emitted by the orchestrator.
const (
	EventJobCreated       = "job.created"
	EventJobStarted       = "job.started"
	EventJobCompleted     = "job.completed"
	EventJobFailed        = "job.failed"
	EventJobCancelled     = "job.cancelled"
	EventRewriteScheduled = "rewrite.scheduled"
	EventRewriteStarted   = "rewrite.started"
	EventRewriteRetried   = "rewrite.retried"
	EventRewriteCompleted = "rewrite.completed"
	EventRewriteFailed    = "rewrite.failed"
	EventRewriteSkipped   = "rewrite.skipped"
	EventRerunScheduled   = "rewrite.rerun_scheduled"
)

// Observer receives orchestration measurements. Implementations must be
// safe for concurrent use; a nil Observer disables instrumentation.
type Observer interface {
	JobFinished(status string)
	SectionFinished(status string)
	InferenceObserved(seconds float64, success bool)
	BreakerState(state string)
}

// Orchestrator drives rewrite jobs: it validates and creates them, runs
// the dependency-ordered scheduling loop, and owns the process-wide
// circuit breaker and progress broker. Scheduling decisions for one job
// are serialized through a single run goroutine; section execution runs
// unlocked once dispatched.
type Orchestrator struct {
	cfg      Config
	store    Store
	sections sections.System
	rulesets rulesets.System
	client   inference.Client
	analyzer *risk.Analyzer
	breaker  *Breaker
	broker   *Broker
	observer Observer
	logger   *slog.Logger

	runCtx context.Context
	sem    *semaphore.Weighted

	mu   sync.Mutex
	runs map[uuid.UUID]*jobRun
	wg   sync.WaitGroup
}

type jobRun struct {
	cancel chan struct{}
	once   sync.Once
}

func (r *jobRun) requestCancel() {
	r.once.Do(func() { close(r.cancel) })
}

// NewOrchestrator creates the orchestrator. runCtx bounds all background
// work; cancelling it drains in-flight sections and stops dispatch.
func NewOrchestrator(
	runCtx context.Context,
	cfg Config,
	store Store,
	secs sections.System,
	rs rulesets.System,
	client inference.Client,
	analyzer *risk.Analyzer,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		sections: secs,
		rulesets: rs,
		client:   client,
		analyzer: analyzer,
		breaker:  NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown()),
		broker:   NewBroker(),
		logger:   logger.With("system", "jobs"),
		runCtx:   runCtx,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		runs:     make(map[uuid.UUID]*jobRun),
	}
}

// SetObserver wires metrics collection.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.observer = obs
}

// Breaker exposes the shared circuit breaker, for tests and readiness.
func (o *Orchestrator) Breaker() *Breaker {
	return o.breaker
}

func (o *Orchestrator) Handler() *Handler {
	return NewHandler(o, o.logger)
}

// Wait blocks until all background job runs have drained. Called during
// shutdown after runCtx is cancelled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Create validates the document and ruleset and registers a pending job.
func (o *Orchestrator) Create(ctx context.Context, cmd CreateCommand) (*RewriteJob, error) {
	doc, err := o.sections.Document(ctx, cmd.DocumentID)
	if err != nil {
		return nil, err
	}
	if !doc.Mapped() {
		return nil, ErrDocumentNotReady
	}

	rs, err := o.rulesets.Find(ctx, cmd.RulesetID)
	if err != nil {
		return nil, err
	}
	if !rs.Active {
		return nil, ErrRulesetInactive
	}

	graph, err := o.sections.Graph(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	job, err := o.store.CreateJob(ctx, RewriteJob{
		ID:             id,
		DocumentID:     doc.ID,
		RulesetID:      rs.ID,
		RulesetVersion: rs.Version,
		TotalSections:  graph.Len(),
	}, audit.Entry{
		EventType:     EventJobCreated,
		ActorID:       cmd.ActorID,
		EntityType:    "job",
		EntityID:      id.String(),
		CorrelationID: &id,
		Payload: map[string]any{
			"document_id":     doc.ID.String(),
			"ruleset_id":      rs.ID.String(),
			"ruleset_version": rs.Version,
			"total_sections":  graph.Len(),
		},
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("job created", "id", job.ID, "document_id", doc.ID, "sections", job.TotalSections)
	return job, nil
}

// Schedule begins asynchronous execution. It is the only path out of
// pending. Re-invoking it on a running job resumes the scheduling loop if
// none is active; on a terminal job it is a no-op, which together with
// prompt-hash idempotency makes retried scheduling calls and crash
// recovery safe.
func (o *Orchestrator) Schedule(ctx context.Context, jobID uuid.UUID) (*RewriteJob, error) {
	job, err := o.store.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch {
	case job.Status == JobPending:
		now := time.Now().UTC()
		job, err = o.store.TransitionJob(ctx, jobID, []JobStatus{JobPending}, JobUpdate{
			Status:    JobRunning,
			StartedAt: &now,
		}, audit.Entry{
			EventType:     EventJobStarted,
			EntityType:    "job",
			EntityID:      jobID.String(),
			CorrelationID: &jobID,
		})
		if err != nil {
			return nil, err
		}
	case job.Status == JobRunning:
		// Resume after restart or a repeated schedule call.
	case job.Status.Terminal():
		return job, nil
	}

	o.startRun(job.ID)
	return job, nil
}

// Cancel stops dispatch for a running job. In-flight sections finish; the
// job transitions to cancelled once work drains.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) (*RewriteJob, error) {
	job, err := o.store.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != JobRunning && job.Status != JobPending {
		return nil, &TransitionError{Current: job.Status, Target: JobCancelled}
	}

	o.mu.Lock()
	run, active := o.runs[jobID]
	o.mu.Unlock()

	if active {
		run.requestCancel()
		return job, nil
	}

	// No live run (pending job, or a crashed runner): finalize directly.
	return o.store.TransitionJob(ctx, jobID, []JobStatus{JobPending, JobRunning}, JobUpdate{
		Status:     JobCancelled,
		FinishedAt: timePtr(time.Now().UTC()),
	}, audit.Entry{
		EventType:     EventJobCancelled,
		EntityType:    "job",
		EntityID:      jobID.String(),
		CorrelationID: &jobID,
	})
}

func (o *Orchestrator) Job(ctx context.Context, id uuid.UUID) (*RewriteJob, error) {
	return o.store.Job(ctx, id)
}

func (o *Orchestrator) Jobs(ctx context.Context) ([]RewriteJob, error) {
	return o.store.Jobs(ctx)
}

func (o *Orchestrator) Rewrite(ctx context.Context, id uuid.UUID) (*SectionRewrite, error) {
	return o.store.Rewrite(ctx, id)
}

func (o *Orchestrator) Rewrites(ctx context.Context, jobID uuid.UUID) ([]SectionRewrite, error) {
	if _, err := o.store.Job(ctx, jobID); err != nil {
		return nil, err
	}
	return o.store.RewritesForJob(ctx, jobID)
}

// Subscribe attaches a listener to a job's live progress feed.
func (o *Orchestrator) Subscribe(jobID uuid.UUID) (<-chan ProgressUpdate, func()) {
	return o.broker.Subscribe(jobID)
}

// RequestRerun schedules a fresh attempt for a reviewed section. The job's
// terminal status is untouched; only the new attempt runs, producing a new
// rewrite row that acquires its own review on completion.
func (o *Orchestrator) RequestRerun(ctx context.Context, jobID, sectionID, rewriteID uuid.UUID) error {
	prior, err := o.store.Rewrite(ctx, rewriteID)
	if err != nil {
		return err
	}

	job, err := o.store.Job(ctx, jobID)
	if err != nil {
		return err
	}
	rs, err := o.rulesets.Find(ctx, job.RulesetID)
	if err != nil {
		return err
	}
	sec, err := o.sections.Find(ctx, sectionID)
	if err != nil {
		return err
	}

	attempt := prior.Attempt + 1
	rewrite, err := o.store.CreateRewrite(ctx, SectionRewrite{
		ID:         uuid.New(),
		JobID:      jobID,
		SectionID:  sectionID,
		PromptHash: prompts.Hash(rs, sec, attempt),
		Attempt:    attempt,
	}, audit.Entry{
		EventType:     EventRerunScheduled,
		EntityType:    "section_rewrite",
		EntityID:      prior.ID.String(),
		CorrelationID: &jobID,
		Payload: map[string]any{
			"section_id": sectionID.String(),
			"attempt":    attempt,
		},
	})
	if err != nil {
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		tracker := &progressTracker{total: job.TotalSections, completed: job.CompletedSections}
		res := o.runSection(o.runCtx, rs, sec, rewrite, tracker, false)
		if res.err != nil {
			o.logger.Warn("rerun attempt failed", "rewrite_id", rewrite.ID, "error", res.err)
		}
	}()

	o.logger.Info("rerun scheduled", "job_id", jobID, "section_id", sectionID, "attempt", attempt)
	return nil
}

// startRun launches the scheduling loop for a job unless one is already
// active. The per-job run goroutine is the serialization point for
// eligibility decisions, preventing double-dispatch of a section.
func (o *Orchestrator) startRun(jobID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, active := o.runs[jobID]; active {
		return
	}

	run := &jobRun{cancel: make(chan struct{})}
	o.runs[jobID] = run

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.runs, jobID)
			o.mu.Unlock()
		}()
		o.runJob(run, jobID)
	}()
}

type sectionResult struct {
	sectionID uuid.UUID
	status    RewriteStatus
	err       error
}

type progressTracker struct {
	mu        sync.Mutex
	completed int
	total     int
}

func (t *progressTracker) snapshot() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.total
}

func (t *progressTracker) markCompleted() {
	t.mu.Lock()
	t.completed++
	t.mu.Unlock()
}

// runJob is the per-job scheduling loop. It walks the dependency graph,
// dispatching every section whose dependencies hold completed rewrites,
// bounded by the shared worker semaphore.
func (o *Orchestrator) runJob(run *jobRun, jobID uuid.UUID) {
	ctx := o.runCtx
	logger := o.logger.With("job_id", jobID)

	job, err := o.store.Job(ctx, jobID)
	if err != nil {
		logger.Error("load job", "error", err)
		return
	}
	rs, err := o.rulesets.Find(ctx, job.RulesetID)
	if err != nil {
		o.failJob(ctx, jobID, "load ruleset: "+err.Error())
		return
	}
	graph, err := o.sections.Graph(ctx, job.DocumentID)
	if err != nil {
		o.failJob(ctx, jobID, "load section graph: "+err.Error())
		return
	}

	done := make(map[uuid.UUID]RewriteStatus)
	pending := make(map[uuid.UUID]struct{})
	tracker := &progressTracker{total: graph.Len()}

	// Idempotent re-schedule: sections already holding a completed attempt
	// at the current prompt hash are settled work, not new rows.
	for _, sectionID := range graph.Order() {
		sec := graph.Section(sectionID)
		latest, err := o.store.LatestRewrite(ctx, jobID, sectionID)
		if err == nil && latest.Status == RewriteCompleted &&
			latest.PromptHash == prompts.Hash(rs, sec, latest.Attempt) {
			done[sectionID] = RewriteCompleted
			tracker.markCompleted()
			continue
		}
		pending[sectionID] = struct{}{}
	}

	results := make(chan sectionResult)
	inflight := make(map[uuid.UUID]struct{})
	cancelCh := run.cancel
	ctxDone := ctx.Done()
	var (
		cancelled  bool
		failDetail string
	)

	for len(pending) > 0 || len(inflight) > 0 {
		if !cancelled && failDetail == "" {
			for sectionID := range pending {
				if _, busy := inflight[sectionID]; busy {
					continue
				}
				eligible, blocked := dependencyState(graph, sectionID, done)
				if blocked {
					// A dependency ended without completing; this section
					// can never run.
					delete(pending, sectionID)
					done[sectionID] = RewriteSkipped
					o.skipSection(ctx, rs, graph.Section(sectionID), jobID, tracker)
					continue
				}
				if !eligible {
					continue
				}

				delete(pending, sectionID)
				inflight[sectionID] = struct{}{}
				sec := graph.Section(sectionID)
				o.wg.Add(1)
				go func() {
					defer o.wg.Done()
					results <- o.dispatchSection(ctx, rs, sec, jobID, tracker)
				}()
			}
		}

		if (cancelled || failDetail != "") && len(inflight) == 0 {
			break
		}
		if len(inflight) == 0 && len(pending) > 0 {
			// Nothing eligible and nothing running: every remaining section
			// waits on work that will never arrive.
			for sectionID := range pending {
				delete(pending, sectionID)
				done[sectionID] = RewriteSkipped
				o.skipSection(ctx, rs, graph.Section(sectionID), jobID, tracker)
			}
			continue
		}
		if len(inflight) == 0 {
			continue
		}

		select {
		case res := <-results:
			delete(inflight, res.sectionID)
			done[res.sectionID] = res.status
			if res.status == RewriteFailed && failDetail == "" {
				failDetail = res.err.Error()
			}
		case <-cancelCh:
			cancelled = true
			cancelCh = nil
		case <-ctxDone:
			cancelled = true
			ctxDone = nil
		}
	}

	// Drain pending sections left behind by cancellation or failure.
	finalizeCtx := context.WithoutCancel(ctx)
	if cancelled || failDetail != "" {
		for sectionID := range pending {
			o.skipSection(finalizeCtx, rs, graph.Section(sectionID), jobID, tracker)
		}
	}

	o.finishJob(finalizeCtx, jobID, cancelled, failDetail, tracker)
}

// dependencyState reports whether a section is eligible to run (all
// dependencies completed) or permanently blocked (a dependency reached a
// terminal status other than completed).
func dependencyState(graph *sections.Graph, sectionID uuid.UUID, done map[uuid.UUID]RewriteStatus) (eligible, blocked bool) {
	eligible = true
	for _, dep := range graph.Dependencies(sectionID) {
		status, settled := done[dep]
		if !settled {
			eligible = false
			continue
		}
		if status != RewriteCompleted {
			return false, true
		}
	}
	return eligible, false
}

func (o *Orchestrator) finishJob(ctx context.Context, jobID uuid.UUID, cancelled bool, failDetail string, tracker *progressTracker) {
	var (
		status JobStatus
		detail *string
		event  string
	)
	switch {
	case cancelled:
		status, event = JobCancelled, EventJobCancelled
	case failDetail != "":
		status, event = JobFailed, EventJobFailed
		detail = &failDetail
	default:
		status, event = JobCompleted, EventJobCompleted
	}

	payload := map[string]any{"status": string(status)}
	if detail != nil {
		payload["error"] = *detail
	}

	if _, err := o.store.TransitionJob(ctx, jobID, []JobStatus{JobRunning}, JobUpdate{
		Status:      status,
		ErrorDetail: detail,
		FinishedAt:  timePtr(time.Now().UTC()),
	}, audit.Entry{
		EventType:     event,
		EntityType:    "job",
		EntityID:      jobID.String(),
		CorrelationID: &jobID,
		Payload:       payload,
	}); err != nil {
		o.logger.Error("finalize job", "job_id", jobID, "status", status, "error", err)
		return
	}

	if o.observer != nil {
		o.observer.JobFinished(string(status))
		o.observer.BreakerState(string(o.breaker.State()))
	}

	completed, total := tracker.snapshot()
	o.broker.Publish(ProgressUpdate{
		JobID:     jobID,
		Status:    string(status),
		Completed: completed,
		Total:     total,
		Done:      true,
	})
	o.logger.Info("job finished", "job_id", jobID, "status", status)
}

func (o *Orchestrator) failJob(ctx context.Context, jobID uuid.UUID, detail string) {
	tracker := &progressTracker{}
	o.finishJob(ctx, jobID, false, detail, tracker)
}

// skipSection records a section that will never run because its job ended
// or a dependency never completed.
func (o *Orchestrator) skipSection(ctx context.Context, rs *rulesets.Ruleset, sec *sections.Section, jobID uuid.UUID, tracker *progressTracker) {
	status := RewriteSkipped
	entry := audit.Entry{
		EventType:     EventRewriteSkipped,
		EntityType:    "section_rewrite",
		CorrelationID: &jobID,
		Payload:       map[string]any{"section_id": sec.ID.String()},
	}

	var rewrite *SectionRewrite
	latest, err := o.store.LatestRewrite(ctx, jobID, sec.ID)
	switch {
	case err == nil && !latest.Status.Terminal():
		entry.EntityID = latest.ID.String()
		rewrite, err = o.store.UpdateRewrite(ctx, latest.ID, RewriteUpdate{Status: &status}, entry)
	case errors.Is(err, ErrRewriteNotFound):
		id := uuid.New()
		rewrite, err = o.store.CreateRewrite(ctx, SectionRewrite{
			ID:         id,
			JobID:      jobID,
			SectionID:  sec.ID,
			PromptHash: prompts.Hash(rs, sec, 1),
			Attempt:    1,
		}, audit.Entry{
			EventType:     EventRewriteScheduled,
			EntityType:    "section_rewrite",
			EntityID:      id.String(),
			CorrelationID: &jobID,
			Payload:       map[string]any{"section_id": sec.ID.String(), "attempt": 1},
		})
		if err == nil {
			rewrite, err = o.store.UpdateRewrite(ctx, id, RewriteUpdate{Status: &status}, audit.Entry{
				EventType:     EventRewriteSkipped,
				EntityType:    "section_rewrite",
				EntityID:      id.String(),
				CorrelationID: &jobID,
				Payload:       map[string]any{"section_id": sec.ID.String()},
			})
		}
	case err == nil:
		// Latest attempt already terminal; nothing to mark.
		return
	}

	if err != nil {
		o.logger.Error("mark section skipped", "job_id", jobID, "section_id", sec.ID, "error", err)
		return
	}

	if o.observer != nil {
		o.observer.SectionFinished(string(RewriteSkipped))
	}

	completed, total := tracker.snapshot()
	o.broker.Publish(ProgressUpdate{
		JobID:     jobID,
		SectionID: sec.ID,
		RewriteID: rewrite.ID,
		Status:    string(RewriteSkipped),
		Completed: completed,
		Total:     total,
	})
}

// dispatchSection prepares the rewrite row for a section and runs it.
func (o *Orchestrator) dispatchSection(ctx context.Context, rs *rulesets.Ruleset, sec *sections.Section, jobID uuid.UUID, tracker *progressTracker) sectionResult {
	attempt := 1
	var rewrite *SectionRewrite

	latest, err := o.store.LatestRewrite(ctx, jobID, sec.ID)
	switch {
	case err == nil && !latest.Status.Terminal():
		// Crash recovery: reuse the unfinished attempt.
		rewrite = latest
	case err == nil:
		attempt = latest.Attempt + 1
	}

	if rewrite == nil {
		id := uuid.New()
		rewrite, err = o.store.CreateRewrite(ctx, SectionRewrite{
			ID:         id,
			JobID:      jobID,
			SectionID:  sec.ID,
			PromptHash: prompts.Hash(rs, sec, attempt),
			Attempt:    attempt,
		}, audit.Entry{
			EventType:     EventRewriteScheduled,
			EntityType:    "section_rewrite",
			EntityID:      id.String(),
			CorrelationID: &jobID,
			Payload: map[string]any{
				"section_id": sec.ID.String(),
				"attempt":    attempt,
			},
		})
		if err != nil {
			return sectionResult{sectionID: sec.ID, status: RewriteFailed, err: err}
		}
	}

	return o.runSection(ctx, rs, sec, rewrite, tracker, true)
}

// runSection executes one rewrite attempt with retry, backoff, and breaker
// protection. countCompletion distinguishes first-run sections, which
// advance the job's completed counter, from reruns, which do not.
func (o *Orchestrator) runSection(
	ctx context.Context,
	rs *rulesets.Ruleset,
	sec *sections.Section,
	rewrite *SectionRewrite,
	tracker *progressTracker,
	countCompletion bool,
) sectionResult {
	jobID := rewrite.JobID
	logger := o.logger.With("job_id", jobID, "section_id", sec.ID, "rewrite_id", rewrite.ID)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return sectionResult{sectionID: sec.ID, status: RewriteFailed, err: err}
	}
	defer o.sem.Release(1)

	running := RewriteRunning
	rewrite, err := o.store.UpdateRewrite(ctx, rewrite.ID, RewriteUpdate{Status: &running}, audit.Entry{
		EventType:     EventRewriteStarted,
		EntityType:    "section_rewrite",
		EntityID:      rewrite.ID.String(),
		CorrelationID: &jobID,
		Payload:       map[string]any{"section_id": sec.ID.String(), "attempt": rewrite.Attempt},
	})
	if err != nil {
		return sectionResult{sectionID: sec.ID, status: RewriteFailed, err: err}
	}
	o.publishStatus(jobID, sec.ID, rewrite.ID, string(RewriteRunning), tracker, nil)

	attempt := rewrite.Attempt
	var lastErr error

	for try := 1; try <= o.cfg.MaxRetries; try++ {
		if !o.breaker.Allow() {
			lastErr = ErrBreakerOpen
			break
		}
		if o.observer != nil {
			o.observer.BreakerState(string(o.breaker.State()))
		}

		compiled := prompts.Compile(rs, sec, attempt)
		start := time.Now()
		text, err := o.client.Stream(ctx, compiled, func(token string) {
			completed, total := tracker.snapshot()
			o.broker.Publish(ProgressUpdate{
				JobID:     jobID,
				SectionID: sec.ID,
				RewriteID: rewrite.ID,
				Status:    string(RewriteRunning),
				Token:     token,
				Completed: completed,
				Total:     total,
			})
		})
		elapsed := time.Since(start)

		if o.observer != nil {
			o.observer.InferenceObserved(elapsed.Seconds(), err == nil)
		}

		if err == nil {
			o.breaker.Success()
			return o.completeSection(ctx, sec, rewrite, compiled, text, elapsed, tracker, countCompletion)
		}

		o.breaker.Failure()
		lastErr = err
		logger.Warn("rewrite attempt failed", "attempt", attempt, "try", try, "error", err)

		if try == o.cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff(o.cfg.RetryBase(), o.cfg.RetryCap(), try)):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		attempt++
		hash := prompts.Hash(rs, sec, attempt)
		rewrite, err = o.store.UpdateRewrite(ctx, rewrite.ID, RewriteUpdate{
			Attempt:    &attempt,
			PromptHash: &hash,
		}, audit.Entry{
			EventType:     EventRewriteRetried,
			EntityType:    "section_rewrite",
			EntityID:      rewrite.ID.String(),
			CorrelationID: &jobID,
			Payload:       map[string]any{"section_id": sec.ID.String(), "attempt": attempt},
		})
		if err != nil {
			return sectionResult{sectionID: sec.ID, status: RewriteFailed, err: err}
		}
	}

	failed := RewriteFailed
	detail := lastErr.Error()
	if _, err := o.store.UpdateRewrite(ctx, rewrite.ID, RewriteUpdate{Status: &failed}, audit.Entry{
		EventType:     EventRewriteFailed,
		EntityType:    "section_rewrite",
		EntityID:      rewrite.ID.String(),
		CorrelationID: &jobID,
		Payload: map[string]any{
			"section_id": sec.ID.String(),
			"attempt":    attempt,
			"error":      detail,
		},
	}); err != nil {
		logger.Error("record rewrite failure", "error", err)
	}

	if o.observer != nil {
		o.observer.SectionFinished(string(RewriteFailed))
	}
	o.publishStatus(jobID, sec.ID, rewrite.ID, string(RewriteFailed), tracker, nil)

	return sectionResult{sectionID: sec.ID, status: RewriteFailed, err: lastErr}
}

func (o *Orchestrator) completeSection(
	ctx context.Context,
	sec *sections.Section,
	rewrite *SectionRewrite,
	compiled prompts.CompiledPrompt,
	text string,
	elapsed time.Duration,
	tracker *progressTracker,
	countCompletion bool,
) sectionResult {
	jobID := rewrite.JobID
	findings := o.analyzer.Analyze(sec.OriginalText, text)

	completed := RewriteCompleted
	model := o.client.Model()
	inputTokens := approxTokens(compiled.System) + approxTokens(compiled.User)
	outputTokens := approxTokens(text)
	duration := elapsed.Milliseconds()

	rewrite, err := o.store.UpdateRewrite(ctx, rewrite.ID, RewriteUpdate{
		Status:        &completed,
		RewrittenText: &text,
		Model:         &model,
		InputTokens:   &inputTokens,
		OutputTokens:  &outputTokens,
		DurationMS:    &duration,
		Findings:      findings,
	}, audit.Entry{
		EventType:     EventRewriteCompleted,
		EntityType:    "section_rewrite",
		EntityID:      rewrite.ID.String(),
		CorrelationID: &jobID,
		Payload: map[string]any{
			"section_id":   sec.ID.String(),
			"attempt":      rewrite.Attempt,
			"findings":     len(findings),
			"max_severity": string(risk.MaxSeverity(findings)),
		},
	})
	if err != nil {
		return sectionResult{sectionID: sec.ID, status: RewriteFailed, err: err}
	}

	if countCompletion {
		if _, err := o.store.IncrementCompleted(ctx, jobID); err != nil {
			o.logger.Error("increment completed sections", "job_id", jobID, "error", err)
		}
		tracker.markCompleted()
	}

	if o.observer != nil {
		o.observer.SectionFinished(string(RewriteCompleted))
	}
	o.publishStatus(jobID, sec.ID, rewrite.ID, string(RewriteCompleted), tracker, findings)

	return sectionResult{sectionID: sec.ID, status: RewriteCompleted}
}

func (o *Orchestrator) publishStatus(jobID, sectionID, rewriteID uuid.UUID, status string, tracker *progressTracker, findings []risk.Finding) {
	completed, total := tracker.snapshot()
	o.broker.Publish(ProgressUpdate{
		JobID:     jobID,
		SectionID: sectionID,
		RewriteID: rewriteID,
		Status:    status,
		Completed: completed,
		Total:     total,
		Findings:  findings,
	})
}

// backoff doubles the base delay per completed try, capped.
func backoff(base, ceil time.Duration, try int) time.Duration {
	d := base << (try - 1)
	if d > ceil || d <= 0 {
		return ceil
	}
	return d
}

// approxTokens estimates token counts from whitespace-separated words.
// The engine does not report usage on every path; an estimate keeps the
// metrics comparable across attempts.
func approxTokens(s string) int {
	return len(strings.Fields(s))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
