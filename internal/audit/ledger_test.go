package audit_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/audit"
	"github.com/reviso/reviso/pkg/pagination"
)

func seedLedger(t *testing.T, n int) *audit.MemoryLedger {
	t.Helper()
	ledger := audit.NewMemoryLedger()

	for i := 0; i < n; i++ {
		_, err := ledger.Append(context.Background(), audit.Entry{
			EventType:  "job.created",
			EntityType: "rewrite_job",
			EntityID:   uuid.New().String(),
			Payload:    map[string]any{"seq": i},
		})
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
	return ledger
}

func TestAppendChaining(t *testing.T) {
	ledger := seedLedger(t, 3)
	events := ledger.Events()

	if events[0].PrevHash != audit.GenesisHash {
		t.Errorf("first event prev_hash = %s, want genesis", events[0].PrevHash)
	}
	for i := 1; i < len(events); i++ {
		if events[i].PrevHash != events[i-1].EventHash {
			t.Errorf("event %d prev_hash does not match predecessor hash", events[i].ID)
		}
	}
	for i, e := range events {
		if e.ID != int64(i+1) {
			t.Errorf("event %d has id %d, want %d", i, e.ID, i+1)
		}
	}
}

func TestVerifyIntactChain(t *testing.T) {
	ledger := seedLedger(t, 5)

	result, err := ledger.Verify(context.Background())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("intact chain reported invalid, first break %v", result.FirstBrokenAt)
	}
	if result.Events != 5 {
		t.Errorf("got %d events, want 5", result.Events)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	payload := `{"altered":true}`
	actor := uuid.New()

	tests := []struct {
		name   string
		mutate func(*audit.Event)
	}{
		{"event_type", func(e *audit.Event) { e.EventType = "job.cancelled" }},
		{"entity_id", func(e *audit.Event) { e.EntityID = uuid.New().String() }},
		{"payload", func(e *audit.Event) { e.PayloadJSON = &payload }},
		{"created_at", func(e *audit.Event) { e.CreatedAt = e.CreatedAt.Add(time.Second) }},
		{"actor_id", func(e *audit.Event) { e.ActorID = &actor }},
		{"prev_hash", func(e *audit.Event) { e.PrevHash = audit.GenesisHash }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := seedLedger(t, 5)
			if !ledger.Tamper(3, tt.mutate) {
				t.Fatal("tamper target not found")
			}

			result, err := ledger.Verify(context.Background())
			if err != nil {
				t.Fatalf("verify failed: %v", err)
			}
			if result.Valid {
				t.Fatal("tampered chain reported valid")
			}
			if result.FirstBrokenAt == nil || *result.FirstBrokenAt != 3 {
				t.Errorf("first break at %v, want 3", result.FirstBrokenAt)
			}
		})
	}
}

func TestVerifyReportsEarliestBreak(t *testing.T) {
	ledger := seedLedger(t, 6)
	ledger.Tamper(5, func(e *audit.Event) { e.EventType = "x" })
	ledger.Tamper(2, func(e *audit.Event) { e.EventType = "y" })

	result, err := ledger.Verify(context.Background())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if *result.FirstBrokenAt != 2 {
		t.Errorf("first break at %d, want 2", *result.FirstBrokenAt)
	}
}

func TestAppendWithinFailureDropsEvent(t *testing.T) {
	ledger := audit.NewMemoryLedger()
	boom := errors.New("mutation failed")

	_, err := ledger.AppendWithin(context.Background(), audit.Entry{
		EventType:  "review.decided",
		EntityType: "review",
		EntityID:   uuid.New().String(),
	}, func() error { return boom })

	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped mutation error", err)
	}
	if events := ledger.Events(); len(events) != 0 {
		t.Errorf("failed mutation still appended %d events", len(events))
	}
}

func TestPayloadCanonicalization(t *testing.T) {
	ledger := audit.NewMemoryLedger()

	event, err := ledger.Append(context.Background(), audit.Entry{
		EventType:  "rewrite.completed",
		EntityType: "section_rewrite",
		EntityID:   uuid.New().String(),
		Payload:    map[string]any{"zeta": 1, "alpha": 2, "mid": 3},
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// encoding/json sorts map keys, giving a stable canonical form.
	want := `{"alpha":2,"mid":3,"zeta":1}`
	if event.PayloadJSON == nil || *event.PayloadJSON != want {
		t.Errorf("payload = %v, want %s", event.PayloadJSON, want)
	}

	recomputed := audit.ComputeEventHash(
		event.EventType, event.ActorID, event.EntityType, event.EntityID,
		event.PayloadJSON, event.CreatedAt, event.PrevHash,
	)
	if recomputed != event.EventHash {
		t.Errorf("stored hash does not match recomputed canonical hash")
	}
}

func TestListFilters(t *testing.T) {
	ledger := audit.NewMemoryLedger()
	actor := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := ledger.Append(context.Background(), audit.Entry{
			EventType:  "review.decided",
			ActorID:    &actor,
			EntityType: "review",
			EntityID:   fmt.Sprintf("review-%d", i),
		}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if _, err := ledger.Append(context.Background(), audit.Entry{
		EventType:  "job.created",
		EntityType: "rewrite_job",
		EntityID:   "job-1",
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	page := pagination.PageRequest{Page: 1, PageSize: 10}

	t.Run("by event type", func(t *testing.T) {
		eventType := "job.created"
		result, err := ledger.List(context.Background(), page, audit.Filters{EventType: &eventType})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if result.Total != 1 {
			t.Errorf("got %d events, want 1", result.Total)
		}
	})

	t.Run("by actor", func(t *testing.T) {
		result, err := ledger.List(context.Background(), page, audit.Filters{ActorID: &actor})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if result.Total != 3 {
			t.Errorf("got %d events, want 3", result.Total)
		}
	})
}
