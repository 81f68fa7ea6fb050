// Package prompts compiles ruleset fragments and section content into
// deterministic inference prompts. The prompt hash identifies a unit of
// rewrite work: two compilations over the same ruleset version, section
// content, and attempt number always produce the same hash.
package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/reviso/reviso/internal/rulesets"
	"github.com/reviso/reviso/internal/sections"
)

const systemTemplate = `You are a legal document rewriting assistant. Rewrite the
provided section so it complies with the rules below while preserving its legal
meaning. Preserve all monetary amounts, dates, deadlines, and party names exactly
as written. Return only the rewritten text with no commentary.`

// CompiledPrompt is the fully rendered input for a single rewrite call.
type CompiledPrompt struct {
	System string `json:"system"`
	User   string `json:"user"`
	Hash   string `json:"hash"`
}

// Compile renders the prompt for a section under a ruleset and attempt number.
// Fragments whose section type filter does not match the section are skipped.
func Compile(rs *rulesets.Ruleset, sec *sections.Section, attempt int) CompiledPrompt {
	var sb strings.Builder
	sb.WriteString("Rules:\n")
	for i, frag := range rs.FragmentsFor(string(sec.Type)) {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, frag.Instruction)
	}

	sb.WriteString("\nSection type: ")
	sb.WriteString(string(sec.Type))
	if sec.Heading != nil {
		sb.WriteString("\nHeading: ")
		sb.WriteString(*sec.Heading)
	}
	sb.WriteString("\n\nOriginal text:\n")
	sb.WriteString(sec.OriginalText)

	return CompiledPrompt{
		System: systemTemplate,
		User:   sb.String(),
		Hash:   Hash(rs, sec, attempt),
	}
}

// Hash computes the identity of a rewrite unit. The attempt number is part of
// the hash so retries schedule distinct work, while re-submitting the same
// attempt over unchanged content is a no-op.
func Hash(rs *rulesets.Ruleset, sec *sections.Section, attempt int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d", rs.ID, rs.Version)
	h.Write([]byte{0})
	h.Write([]byte(sec.ContentHash))
	h.Write([]byte{0})
	h.Write([]byte(sec.Type))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", attempt)
	return hex.EncodeToString(h.Sum(nil))
}
