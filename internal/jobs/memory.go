package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/audit"
)

// MemoryStore is an in-memory Store for tests, coupling mutations to the
// in-memory ledger the same way the PostgreSQL store couples them to its
// transactions.
type MemoryStore struct {
	mu       sync.Mutex
	ledger   *audit.MemoryLedger
	jobs     map[uuid.UUID]RewriteJob
	rewrites map[uuid.UUID]SectionRewrite
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore(ledger *audit.MemoryLedger) *MemoryStore {
	return &MemoryStore{
		ledger:   ledger,
		jobs:     make(map[uuid.UUID]RewriteJob),
		rewrites: make(map[uuid.UUID]SectionRewrite),
	}
}

func (m *MemoryStore) CreateJob(ctx context.Context, job RewriteJob, entry audit.Entry) (*RewriteJob, error) {
	var created RewriteJob
	_, err := m.ledger.AppendWithin(ctx, entry, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok := m.jobs[job.ID]; ok {
			return ErrDuplicate
		}

		now := time.Now()
		job.Status = JobPending
		job.CreatedAt = now
		job.UpdatedAt = now
		m.jobs[job.ID] = job
		created = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (m *MemoryStore) Job(ctx context.Context, id uuid.UUID) (*RewriteJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (m *MemoryStore) Jobs(ctx context.Context) ([]RewriteJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RewriteJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) TransitionJob(
	ctx context.Context,
	id uuid.UUID,
	from []JobStatus,
	upd JobUpdate,
	entry audit.Entry,
) (*RewriteJob, error) {
	var job RewriteJob
	_, err := m.ledger.AppendWithin(ctx, entry, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		current, ok := m.jobs[id]
		if !ok {
			return ErrNotFound
		}

		allowed := false
		for _, status := range from {
			if current.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return &TransitionError{Current: current.Status, Target: upd.Status}
		}

		current.Status = upd.Status
		if upd.ErrorDetail != nil {
			current.ErrorDetail = upd.ErrorDetail
		}
		if upd.StartedAt != nil {
			current.StartedAt = upd.StartedAt
		}
		if upd.FinishedAt != nil {
			current.FinishedAt = upd.FinishedAt
		}
		current.UpdatedAt = time.Now()

		m.jobs[id] = current
		job = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (m *MemoryStore) IncrementCompleted(ctx context.Context, jobID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return 0, ErrNotFound
	}
	job.CompletedSections++
	job.UpdatedAt = time.Now()
	m.jobs[jobID] = job
	return job.CompletedSections, nil
}

func (m *MemoryStore) CreateRewrite(ctx context.Context, sr SectionRewrite, entry audit.Entry) (*SectionRewrite, error) {
	var created SectionRewrite
	_, err := m.ledger.AppendWithin(ctx, entry, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok := m.rewrites[sr.ID]; ok {
			return ErrDuplicate
		}

		now := time.Now()
		sr.Status = RewritePending
		sr.CreatedAt = now
		sr.UpdatedAt = now
		m.rewrites[sr.ID] = sr
		created = sr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (m *MemoryStore) Rewrite(ctx context.Context, id uuid.UUID) (*SectionRewrite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sr, ok := m.rewrites[id]
	if !ok {
		return nil, ErrRewriteNotFound
	}
	return &sr, nil
}

func (m *MemoryStore) RewritesForJob(ctx context.Context, jobID uuid.UUID) ([]SectionRewrite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SectionRewrite, 0)
	for _, sr := range m.rewrites {
		if sr.JobID == jobID {
			out = append(out, sr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Attempt < out[j].Attempt
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) LatestRewrite(ctx context.Context, jobID, sectionID uuid.UUID) (*SectionRewrite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		latest SectionRewrite
		found  bool
	)
	for _, sr := range m.rewrites {
		if sr.JobID != jobID || sr.SectionID != sectionID {
			continue
		}
		if !found || sr.Attempt > latest.Attempt {
			latest = sr
			found = true
		}
	}
	if !found {
		return nil, ErrRewriteNotFound
	}
	return &latest, nil
}

func (m *MemoryStore) UpdateRewrite(ctx context.Context, id uuid.UUID, upd RewriteUpdate, entry audit.Entry) (*SectionRewrite, error) {
	var updated SectionRewrite
	_, err := m.ledger.AppendWithin(ctx, entry, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		sr, ok := m.rewrites[id]
		if !ok {
			return ErrRewriteNotFound
		}

		if upd.Status != nil {
			sr.Status = *upd.Status
		}
		if upd.PromptHash != nil {
			sr.PromptHash = *upd.PromptHash
		}
		if upd.RewrittenText != nil {
			sr.RewrittenText = upd.RewrittenText
		}
		if upd.Model != nil {
			sr.Model = upd.Model
		}
		if upd.InputTokens != nil {
			sr.InputTokens = *upd.InputTokens
		}
		if upd.OutputTokens != nil {
			sr.OutputTokens = *upd.OutputTokens
		}
		if upd.DurationMS != nil {
			sr.DurationMS = *upd.DurationMS
		}
		if upd.Attempt != nil {
			sr.Attempt = *upd.Attempt
		}
		if upd.Findings != nil {
			sr.Findings = upd.Findings
		}
		sr.UpdatedAt = time.Now()

		m.rewrites[id] = sr
		updated = sr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
