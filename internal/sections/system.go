package sections

import (
	"context"

	"github.com/google/uuid"
)

// System defines the read contract over ingested document structure.
// The core never mutates sections; writes belong to the ingestion
// collaborator.
type System interface {
	Handler() *Handler

	Document(ctx context.Context, id uuid.UUID) (*Document, error)
	Find(ctx context.Context, id uuid.UUID) (*Section, error)
	List(ctx context.Context, documentID uuid.UUID) ([]Section, error)
	Edges(ctx context.Context, documentID uuid.UUID) ([]Edge, error)

	// Graph loads a document's sections and edges and builds the
	// dependency view in one call.
	Graph(ctx context.Context, documentID uuid.UUID) (*Graph, error)
}
