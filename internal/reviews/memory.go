package reviews

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/audit"
)

// MemoryStore is an in-memory Store for tests. It preserves the same
// atomic coupling between mutation and audit append as the PostgreSQL
// store: the mutation runs under the ledger's append lock and is undone
// if it fails.
type MemoryStore struct {
	mu        sync.Mutex
	ledger    *audit.MemoryLedger
	reviews   map[uuid.UUID]Review
	byRewrite map[uuid.UUID]uuid.UUID
	comments  map[uuid.UUID][]Comment
}

// NewMemoryStore creates an empty in-memory review store.
func NewMemoryStore(ledger *audit.MemoryLedger) *MemoryStore {
	return &MemoryStore{
		ledger:    ledger,
		reviews:   make(map[uuid.UUID]Review),
		byRewrite: make(map[uuid.UUID]uuid.UUID),
		comments:  make(map[uuid.UUID][]Comment),
	}
}

func (m *MemoryStore) Find(ctx context.Context, id uuid.UUID) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	review, ok := m.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &review, nil
}

func (m *MemoryStore) FindByRewrite(ctx context.Context, rewriteID uuid.UUID) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byRewrite[rewriteID]
	if !ok {
		return nil, ErrNotFound
	}
	review := m.reviews[id]
	return &review, nil
}

func (m *MemoryStore) Create(ctx context.Context, id, rewriteID uuid.UUID, entry audit.Entry) (*Review, error) {
	var created Review
	_, err := m.ledger.AppendWithin(ctx, entry, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok := m.byRewrite[rewriteID]; ok {
			return ErrDuplicate
		}

		now := time.Now()
		created = Review{
			ID:        id,
			RewriteID: rewriteID,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.reviews[id] = created
		m.byRewrite[rewriteID] = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (m *MemoryStore) Decide(ctx context.Context, id uuid.UUID, upd DecisionUpdate, entry audit.Entry) (*Review, error) {
	var decided Review
	_, err := m.ledger.AppendWithin(ctx, entry, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		review, ok := m.reviews[id]
		if !ok {
			return ErrNotFound
		}
		if !review.Status.Decidable() {
			return &ConflictError{Current: review.Status}
		}

		now := time.Now()
		review.Status = upd.Status
		review.EditedText = upd.EditedText
		review.OverrideReason = upd.OverrideReason
		review.DecidedBy = upd.DecidedBy
		review.DecidedAt = &now
		review.UpdatedAt = now

		m.reviews[id] = review
		decided = review
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &decided, nil
}

func (m *MemoryStore) AddComment(ctx context.Context, reviewID uuid.UUID, cmd CommentCommand, entry audit.Entry) (*Comment, error) {
	var added Comment
	_, err := m.ledger.AppendWithin(ctx, entry, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok := m.reviews[reviewID]; !ok {
			return ErrNotFound
		}

		added = Comment{
			ID:        uuid.New(),
			ReviewID:  reviewID,
			ParentID:  cmd.ParentID,
			AuthorID:  cmd.AuthorID,
			Body:      cmd.Body,
			CreatedAt: time.Now(),
		}
		m.comments[reviewID] = append(m.comments[reviewID], added)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

func (m *MemoryStore) Comments(ctx context.Context, reviewID uuid.UUID) ([]Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread := m.comments[reviewID]
	out := make([]Comment, len(thread))
	copy(out, thread)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
