package sections

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory System for tests and fixtures. Seed methods
// stand in for the ingestion collaborator.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[uuid.UUID]Document
	sections  map[uuid.UUID]Section
	edges     map[uuid.UUID][]Edge
	logger    *slog.Logger
}

// NewMemoryStore creates an empty in-memory section store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		documents: make(map[uuid.UUID]Document),
		sections:  make(map[uuid.UUID]Section),
		edges:     make(map[uuid.UUID][]Edge),
		logger:    logger.With("system", "sections"),
	}
}

func (m *MemoryStore) Handler() *Handler {
	return NewHandler(m, m.logger)
}

// SeedDocument registers a document, standing in for ingestion.
func (m *MemoryStore) SeedDocument(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
		doc.UpdatedAt = doc.CreatedAt
	}
	m.documents[doc.ID] = doc
}

// SeedSections registers sections and their cross-reference edges for a
// document, standing in for ingestion. Content hashes are filled in when
// absent.
func (m *MemoryStore) SeedSections(documentID uuid.UUID, secs []Section, edges []Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range secs {
		if s.ContentHash == "" {
			s.ContentHash = HashContent(s.OriginalText, s.Type)
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now()
		}
		s.DocumentID = documentID
		m.sections[s.ID] = s
	}
	m.edges[documentID] = append(m.edges[documentID], edges...)
}

func (m *MemoryStore) Document(ctx context.Context, id uuid.UUID) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &doc, nil
}

func (m *MemoryStore) Find(ctx context.Context, id uuid.UUID) (*Section, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sections[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) List(ctx context.Context, documentID uuid.UUID) ([]Section, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var secs []Section
	for _, s := range m.sections {
		if s.DocumentID == documentID {
			secs = append(secs, s)
		}
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i].Sequence < secs[j].Sequence })
	return secs, nil
}

func (m *MemoryStore) Edges(ctx context.Context, documentID uuid.UUID) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := make([]Edge, len(m.edges[documentID]))
	copy(edges, m.edges[documentID])
	return edges, nil
}

func (m *MemoryStore) Graph(ctx context.Context, documentID uuid.UUID) (*Graph, error) {
	secs, err := m.List(ctx, documentID)
	if err != nil {
		return nil, err
	}
	edges, err := m.Edges(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return BuildGraph(secs, edges)
}
