package audit

import (
	"net/url"

	"github.com/google/uuid"

	"github.com/reviso/reviso/pkg/query"
	"github.com/reviso/reviso/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "audit_events", "e").
	Project("id", "ID").
	Project("event_type", "EventType").
	Project("actor_id", "ActorID").
	Project("actor_name", "ActorName").
	Project("entity_type", "EntityType").
	Project("entity_id", "EntityID").
	Project("correlation_id", "CorrelationID").
	Project("payload_json", "PayloadJSON").
	Project("event_hash", "EventHash").
	Project("prev_hash", "PrevHash").
	Project("created_at", "CreatedAt")

var defaultSort = query.SortField{Field: "ID"}

// Filters contains optional filtering criteria for ledger queries.
// Nil fields are ignored; all matches are exact.
type Filters struct {
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	EntityType *string    `json:"entity_type,omitempty"`
	EntityID   *string    `json:"entity_id,omitempty"`
	EventType  *string    `json:"event_type,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	b.WhereEquals("ActorID", f.ActorID).
		WhereEquals("EntityType", f.EntityType).
		WhereEquals("EntityID", f.EntityID).
		WhereEquals("EventType", f.EventType)
	return b
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if a := values.Get("actor_id"); a != "" {
		if id, err := uuid.Parse(a); err == nil {
			f.ActorID = &id
		}
	}
	if et := values.Get("entity_type"); et != "" {
		f.EntityType = &et
	}
	if eid := values.Get("entity_id"); eid != "" {
		f.EntityID = &eid
	}
	if ev := values.Get("event_type"); ev != "" {
		f.EventType = &ev
	}

	return f
}

func scanEvent(s repository.Scanner) (Event, error) {
	var e Event
	err := s.Scan(
		&e.ID,
		&e.EventType,
		&e.ActorID,
		&e.ActorName,
		&e.EntityType,
		&e.EntityID,
		&e.CorrelationID,
		&e.PayloadJSON,
		&e.EventHash,
		&e.PrevHash,
		&e.CreatedAt,
	)
	return e, err
}
