// Package sections implements the immutable document structure consumed by
// the rewrite pipeline. Sections and their cross-reference edges are
// produced by the ingestion collaborator once a document reaches mapped
// status; the core only reads them.
package sections

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks how far ingestion has taken a document.
// Only mapped documents are eligible for rewrite jobs.
type DocumentStatus string

// Document statuses.
const (
	StatusUploaded DocumentStatus = "uploaded"
	StatusMapping  DocumentStatus = "mapping"
	StatusMapped   DocumentStatus = "mapped"
	StatusFailed   DocumentStatus = "failed"
)

// SectionType classifies the structural role of a section.
type SectionType string

// Section classification tags.
const (
	TypeHeading    SectionType = "heading"
	TypeClause     SectionType = "clause"
	TypeDefinition SectionType = "definition"
	TypeTable      SectionType = "table"
	TypeList       SectionType = "list"
	TypePreamble   SectionType = "preamble"
	TypeAppendix   SectionType = "appendix"
	TypeUnknown    SectionType = "unknown"
)

// Document is the owning container for a section tree.
type Document struct {
	ID        uuid.UUID      `json:"id"`
	Filename  string         `json:"filename"`
	Status    DocumentStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Mapped reports whether the document's structure is ready for rewriting.
func (d *Document) Mapped() bool {
	return d.Status == StatusMapped
}

// Section is the smallest addressable unit of document text. Sections are
// immutable: created once during ingestion, never mutated, deleted only
// with their owning document.
type Section struct {
	ID           uuid.UUID   `json:"id"`
	DocumentID   uuid.UUID   `json:"document_id"`
	ParentID     *uuid.UUID  `json:"parent_id"`
	Sequence     int         `json:"sequence"`
	Heading      *string     `json:"heading"`
	Type         SectionType `json:"type"`
	ContentHash  string      `json:"content_hash"`
	OriginalText string      `json:"original_text"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Edge is a cross-reference dependency: From references To, so From is
// eligible for rewriting only once To holds a terminal rewrite.
type Edge struct {
	FromSectionID uuid.UUID `json:"from_section_id"`
	ToSectionID   uuid.UUID `json:"to_section_id"`
}

// HashContent returns the content-address of a section: a pure function of
// its text and classification. Two sections with identical text and type
// share a hash but not an identity.
func HashContent(text string, sectionType SectionType) string {
	h := sha256.New()
	h.Write([]byte(sectionType))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
