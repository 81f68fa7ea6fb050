// Package rulesets implements the rewrite instruction domain. A ruleset is
// a versioned, activatable collection of instruction fragments keyed by
// section type; the core treats fragment content as opaque prompt material.
package rulesets

import (
	"time"

	"github.com/google/uuid"
)

// Fragment is one ordered rewrite instruction. SectionTypes limits which
// section classifications it applies to; an empty list applies everywhere.
type Fragment struct {
	SectionTypes []string `json:"section_types"`
	Instruction  string   `json:"instruction"`
}

// AppliesTo reports whether the fragment applies to the given section type.
func (f Fragment) AppliesTo(sectionType string) bool {
	if len(f.SectionTypes) == 0 {
		return true
	}
	for _, t := range f.SectionTypes {
		if t == sectionType {
			return true
		}
	}
	return false
}

// Ruleset is one compiled rewrite instruction set. Version increments on
// every content change; jobs snapshot the version they were created
// against, which keeps prompt hashes stable for the life of a job.
type Ruleset struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Version      int        `json:"version"`
	Jurisdiction *string    `json:"jurisdiction"`
	Active       bool       `json:"active"`
	Fragments    []Fragment `json:"fragments"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FragmentsFor returns the instruction fragments applicable to a section
// type, in their defined order.
func (r *Ruleset) FragmentsFor(sectionType string) []Fragment {
	var out []Fragment
	for _, f := range r.Fragments {
		if f.AppliesTo(sectionType) {
			out = append(out, f)
		}
	}
	return out
}

// CreateCommand carries the data needed to register a new ruleset.
type CreateCommand struct {
	Name         string     `json:"name"`
	Jurisdiction *string    `json:"jurisdiction"`
	Fragments    []Fragment `json:"fragments"`
}
