package rulesets

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory System for tests and fixtures.
type MemoryStore struct {
	mu       sync.RWMutex
	rulesets map[uuid.UUID]Ruleset
	logger   *slog.Logger
}

// NewMemoryStore creates an empty in-memory ruleset store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		rulesets: make(map[uuid.UUID]Ruleset),
		logger:   logger.With("system", "rulesets"),
	}
}

func (m *MemoryStore) Handler() *Handler {
	return NewHandler(m, m.logger)
}

// Seed registers a ruleset as-is, for tests.
func (m *MemoryStore) Seed(rs Ruleset) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now()
		rs.UpdatedAt = rs.CreatedAt
	}
	m.rulesets[rs.ID] = rs
}

func (m *MemoryStore) List(ctx context.Context) ([]Ruleset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sets := make([]Ruleset, 0, len(m.rulesets))
	for _, rs := range m.rulesets {
		sets = append(sets, rs)
	}
	sort.Slice(sets, func(i, j int) bool {
		return sets[i].CreatedAt.After(sets[j].CreatedAt)
	})
	return sets, nil
}

func (m *MemoryStore) Find(ctx context.Context, id uuid.UUID) (*Ruleset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs, ok := m.rulesets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rs, nil
}

func (m *MemoryStore) Create(ctx context.Context, cmd CreateCommand) (*Ruleset, error) {
	if len(cmd.Fragments) == 0 {
		return nil, ErrNoFragments
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rs := Ruleset{
		ID:           uuid.New(),
		Name:         cmd.Name,
		Version:      1,
		Jurisdiction: cmd.Jurisdiction,
		Fragments:    cmd.Fragments,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.rulesets[rs.ID] = rs
	return &rs, nil
}

func (m *MemoryStore) Activate(ctx context.Context, id uuid.UUID) (*Ruleset, error) {
	return m.setActive(id, true)
}

func (m *MemoryStore) Deactivate(ctx context.Context, id uuid.UUID) (*Ruleset, error) {
	return m.setActive(id, false)
}

func (m *MemoryStore) setActive(id uuid.UUID, active bool) (*Ruleset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rulesets[id]
	if !ok {
		return nil, ErrNotFound
	}
	rs.Active = active
	rs.UpdatedAt = time.Now()
	m.rulesets[id] = rs
	return &rs, nil
}
