package audit

import (
	"context"

	"github.com/reviso/reviso/pkg/pagination"
)

// VerifyResult reports the outcome of a chain verification walk.
// FirstBrokenAt is the ID of the earliest event whose recomputed digest or
// prev_hash linkage does not match its stored values; nil when the chain
// is intact.
type VerifyResult struct {
	Valid         bool   `json:"valid"`
	FirstBrokenAt *int64 `json:"first_broken_at"`
	Events        int    `json:"events"`
}

// System defines the ledger contract consumed by the rest of the core.
// Append is internal-only; it is never exposed as an external endpoint.
type System interface {
	Append(ctx context.Context, e Entry) (*Event, error)
	Verify(ctx context.Context) (*VerifyResult, error)
	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Event], error)
}

// verifyChain walks events in append order and recomputes each digest.
// The first mismatch (either the stored digest or the prev_hash linkage)
// is reported; later events are unverifiable by construction so the walk
// reports only the earliest break.
func verifyChain(events []Event) *VerifyResult {
	prevHash := GenesisHash
	for i := range events {
		event := &events[i]

		expected := ComputeEventHash(
			event.EventType, event.ActorID, event.EntityType, event.EntityID,
			event.PayloadJSON, event.CreatedAt, prevHash,
		)
		if event.PrevHash != prevHash || event.EventHash != expected {
			id := event.ID
			return &VerifyResult{Valid: false, FirstBrokenAt: &id, Events: len(events)}
		}

		prevHash = event.EventHash
	}
	return &VerifyResult{Valid: true, Events: len(events)}
}
