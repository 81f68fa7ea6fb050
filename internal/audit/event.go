// Package audit implements the tamper-evident ledger for Reviso.
// Every state transition in the rewrite and review pipelines appends one
// event; each event's hash covers the hash of its predecessor, forming a
// chain whose integrity can be recomputed at any time.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the prev_hash recorded on the first event of a ledger.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event is a single immutable ledger entry. ID is a monotonic sequence
// assigned at append time; chain verification depends on it recovering
// append order exactly.
type Event struct {
	ID            int64      `json:"id"`
	EventType     string     `json:"event_type"`
	ActorID       *uuid.UUID `json:"actor_id"`
	ActorName     *string    `json:"actor_name"`
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	CorrelationID *uuid.UUID `json:"correlation_id"`
	PayloadJSON   *string    `json:"payload"`
	EventHash     string     `json:"event_hash"`
	PrevHash      string     `json:"prev_hash"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Entry carries the caller-supplied fields of an event to be appended.
// ActorID is nil for system-initiated events.
type Entry struct {
	EventType     string
	ActorID       *uuid.UUID
	ActorName     *string
	EntityType    string
	EntityID      string
	CorrelationID *uuid.UUID
	Payload       map[string]any
}

// canonicalEvent fixes the byte representation hashed into event_hash.
// Field declaration order is the canonical (alphabetical) key order; any
// change here invalidates every existing chain.
type canonicalEvent struct {
	ActorID     string `json:"actor_id"`
	CreatedAt   string `json:"created_at"`
	EntityID    string `json:"entity_id"`
	EntityType  string `json:"entity_type"`
	EventType   string `json:"event_type"`
	PayloadJSON string `json:"payload_json"`
	PrevHash    string `json:"prev_hash"`
}

// ComputeEventHash produces the SHA-256 digest of the event's canonical
// serialized form. The digest covers prevHash, which is what links each
// event to its predecessor.
func ComputeEventHash(
	eventType string,
	actorID *uuid.UUID,
	entityType, entityID string,
	payloadJSON *string,
	createdAt time.Time,
	prevHash string,
) string {
	c := canonicalEvent{
		CreatedAt:  createdAt.UTC().Format(time.RFC3339Nano),
		EntityID:   entityID,
		EntityType: entityType,
		EventType:  eventType,
		PrevHash:   prevHash,
	}
	if actorID != nil {
		c.ActorID = actorID.String()
	}
	if payloadJSON != nil {
		c.PayloadJSON = *payloadJSON
	}

	canonical, _ := json.Marshal(c)
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:])
}

// marshalPayload renders an entry payload as deterministic JSON.
// Go's encoding/json sorts map keys, which is exactly the stability the
// canonical form requires. Nil payloads stay nil.
func marshalPayload(payload map[string]any) (*string, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// build materializes an Entry into an Event chained onto prevHash.
// Timestamps are truncated to microseconds so the hashed representation
// round-trips through timestamptz storage without precision loss.
func (e Entry) build(prevHash string, now time.Time) (*Event, error) {
	payloadJSON, err := marshalPayload(e.Payload)
	if err != nil {
		return nil, err
	}

	createdAt := now.UTC().Truncate(time.Microsecond)
	return &Event{
		EventType:     e.EventType,
		ActorID:       e.ActorID,
		ActorName:     e.ActorName,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		CorrelationID: e.CorrelationID,
		PayloadJSON:   payloadJSON,
		EventHash: ComputeEventHash(
			e.EventType, e.ActorID, e.EntityType, e.EntityID,
			payloadJSON, createdAt, prevHash,
		),
		PrevHash:  prevHash,
		CreatedAt: createdAt,
	}, nil
}
