package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reviso/reviso/pkg/pagination"
	"github.com/reviso/reviso/pkg/query"
	"github.com/reviso/reviso/pkg/repository"
)

// Ledger is the PostgreSQL-backed ledger. Appends are strictly serialized:
// the mutex spans the read of the previous hash through transaction commit,
// so prev_hash chaining observes a total order even under concurrent
// writers. This is a correctness requirement, not an optimization.
type Ledger struct {
	db       *sql.DB
	logger   *slog.Logger
	observer Observer
	mu       sync.Mutex
}

// Observer receives append notifications for metrics collection.
// Methods must be non-blocking; they run inside the append critical section.
type Observer interface {
	AuditAppended()
}

// New creates a Ledger over the given connection pool.
func New(db *sql.DB, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger.With("system", "audit"),
	}
}

// SetObserver wires metrics collection.
func (l *Ledger) SetObserver(obs Observer) {
	l.observer = obs
}

// Append writes a single event chained onto the current ledger head.
func (l *Ledger) Append(ctx context.Context, e Entry) (*Event, error) {
	return l.AppendWithin(ctx, e, nil)
}

// AppendWithin appends an event and, when within is non-nil, executes it in
// the same transaction before the append. Domain stores use this to make a
// state mutation and its audit record one atomic unit: if either fails,
// neither persists.
func (l *Ledger) AppendWithin(
	ctx context.Context,
	e Entry,
	within func(tx *sql.Tx) error,
) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	event, err := repository.WithTx(ctx, l.db, func(tx *sql.Tx) (*Event, error) {
		if within != nil {
			if err := within(tx); err != nil {
				return nil, err
			}
		}

		prevHash, err := lastHash(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("read ledger head: %w", err)
		}

		event, err := e.build(prevHash, time.Now())
		if err != nil {
			return nil, fmt.Errorf("canonicalize event: %w", err)
		}

		const q = `
			INSERT INTO audit_events(
				event_type, actor_id, actor_name, entity_type, entity_id,
				correlation_id, payload_json, event_hash, prev_hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`

		if err := tx.QueryRowContext(
			ctx, q,
			event.EventType, event.ActorID, event.ActorName,
			event.EntityType, event.EntityID, event.CorrelationID,
			event.PayloadJSON, event.EventHash, event.PrevHash, event.CreatedAt,
		).Scan(&event.ID); err != nil {
			return nil, fmt.Errorf("insert audit event: %w", err)
		}

		return event, nil
	})

	if err != nil {
		return nil, err
	}

	if l.observer != nil {
		l.observer.AuditAppended()
	}
	l.logger.Debug(
		"audit event appended",
		"id", event.ID,
		"event_type", event.EventType,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
	)
	return event, nil
}

// Verify walks the full ledger in append order, recomputing every digest.
func (l *Ledger) Verify(ctx context.Context) (*VerifyResult, error) {
	events, err := repository.QueryMany(
		ctx, l.db,
		"SELECT "+projection.Columns()+" FROM "+projection.From()+" ORDER BY e.id ASC",
		nil, scanEvent,
	)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	result := verifyChain(events)
	if !result.Valid {
		l.logger.Error("audit chain broken", "first_broken_at", *result.FirstBrokenAt)
	}
	return result, nil
}

// List returns a page of events filtered by actor, entity, or event type,
// ordered by the monotonic identifier.
func (l *Ledger) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Event], error) {
	qb := query.NewBuilder(projection, defaultSort)
	filters.Apply(qb)

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := l.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit events: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	events, err := repository.QueryMany(ctx, l.db, pageSQL, pageArgs, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	result := pagination.NewPageResult(events, total, page.Page, page.PageSize)
	return &result, nil
}

func lastHash(ctx context.Context, q repository.Querier) (string, error) {
	var hash string
	err := q.QueryRowContext(
		ctx,
		"SELECT event_hash FROM audit_events ORDER BY id DESC LIMIT 1",
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}
