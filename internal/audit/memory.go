package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reviso/reviso/pkg/pagination"
)

// MemoryLedger is an in-memory ledger with the same chaining and
// serialization guarantees as the PostgreSQL implementation. It backs unit
// tests and the in-memory store variants.
type MemoryLedger struct {
	mu     sync.Mutex
	events []Event
	nextID int64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{nextID: 1}
}

// Append writes a single event chained onto the current ledger head.
func (l *MemoryLedger) Append(ctx context.Context, e Entry) (*Event, error) {
	return l.AppendWithin(ctx, e, nil)
}

// AppendWithin appends an event after executing within under the append
// lock. If within fails the event is not appended, mirroring the
// transactional coupling of the PostgreSQL ledger.
func (l *MemoryLedger) AppendWithin(
	ctx context.Context,
	e Entry,
	within func() error,
) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if within != nil {
		if err := within(); err != nil {
			return nil, err
		}
	}

	prevHash := GenesisHash
	if len(l.events) > 0 {
		prevHash = l.events[len(l.events)-1].EventHash
	}

	event, err := e.build(prevHash, time.Now())
	if err != nil {
		return nil, fmt.Errorf("canonicalize event: %w", err)
	}
	event.ID = l.nextID
	l.nextID++

	l.events = append(l.events, *event)
	return event, nil
}

// Verify walks the ledger in append order, recomputing every digest.
func (l *MemoryLedger) Verify(ctx context.Context) (*VerifyResult, error) {
	l.mu.Lock()
	events := make([]Event, len(l.events))
	copy(events, l.events)
	l.mu.Unlock()

	return verifyChain(events), nil
}

// List returns a page of events matching the filters in append order.
func (l *MemoryLedger) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Event], error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	matched := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		if filters.matches(e) {
			matched = append(matched, e)
		}
	}

	start := min(page.Offset(), len(matched))
	end := min(start+page.PageSize, len(matched))

	result := pagination.NewPageResult(matched[start:end], len(matched), page.Page, page.PageSize)
	return &result, nil
}

// Events returns a copy of the full ledger contents, for tests.
func (l *MemoryLedger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]Event, len(l.events))
	copy(events, l.events)
	return events
}

// Tamper overwrites a stored event in place, for tests exercising chain
// breakage. Returns false if no event has the given id.
func (l *MemoryLedger) Tamper(id int64, mutate func(*Event)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.events {
		if l.events[i].ID == id {
			mutate(&l.events[i])
			return true
		}
	}
	return false
}

func (f Filters) matches(e Event) bool {
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if f.EntityType != nil && e.EntityType != *f.EntityType {
		return false
	}
	if f.EntityID != nil && e.EntityID != *f.EntityID {
		return false
	}
	if f.EventType != nil && e.EventType != *f.EventType {
		return false
	}
	return true
}
