package sections

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/reviso/reviso/pkg/repository"
)

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a section repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger) System {
	return &repo{
		db:     db,
		logger: logger.With("system", "sections"),
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger)
}

func (r *repo) Document(ctx context.Context, id uuid.UUID) (*Document, error) {
	const q = `
		SELECT id, filename, status, created_at, updated_at
		FROM documents
		WHERE id = $1`

	d, err := repository.QueryOne(ctx, r.db, q, []any{id}, scanDocument)
	if err != nil {
		return nil, repository.MapError(err, ErrDocumentNotFound, ErrDocumentNotFound)
	}
	return &d, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Section, error) {
	q := sectionSelect + " WHERE s.id = $1"

	s, err := repository.QueryOne(ctx, r.db, q, []any{id}, scanSection)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrNotFound)
	}
	return &s, nil
}

func (r *repo) List(ctx context.Context, documentID uuid.UUID) ([]Section, error) {
	q := sectionSelect + " WHERE s.document_id = $1 ORDER BY s.sequence_no ASC"

	secs, err := repository.QueryMany(ctx, r.db, q, []any{documentID}, scanSection)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	return secs, nil
}

func (r *repo) Edges(ctx context.Context, documentID uuid.UUID) ([]Edge, error) {
	const q = `
		SELECT e.from_section_id, e.to_section_id
		FROM section_edges e
		JOIN sections s ON s.id = e.from_section_id
		WHERE s.document_id = $1`

	edges, err := repository.QueryMany(ctx, r.db, q, []any{documentID}, scanEdge)
	if err != nil {
		return nil, fmt.Errorf("query section edges: %w", err)
	}
	return edges, nil
}

func (r *repo) Graph(ctx context.Context, documentID uuid.UUID) (*Graph, error) {
	secs, err := r.List(ctx, documentID)
	if err != nil {
		return nil, err
	}

	edges, err := r.Edges(ctx, documentID)
	if err != nil {
		return nil, err
	}

	return BuildGraph(secs, edges)
}

const sectionSelect = `
	SELECT s.id, s.document_id, s.parent_id, s.sequence_no, s.heading,
	       s.section_type, s.content_hash, s.original_text, s.created_at
	FROM sections s`

func scanDocument(s repository.Scanner) (Document, error) {
	var d Document
	err := s.Scan(&d.ID, &d.Filename, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func scanSection(sc repository.Scanner) (Section, error) {
	var s Section
	err := sc.Scan(
		&s.ID,
		&s.DocumentID,
		&s.ParentID,
		&s.Sequence,
		&s.Heading,
		&s.Type,
		&s.ContentHash,
		&s.OriginalText,
		&s.CreatedAt,
	)
	return s, err
}

func scanEdge(s repository.Scanner) (Edge, error) {
	var e Edge
	err := s.Scan(&e.FromSectionID, &e.ToSectionID)
	return e, err
}
