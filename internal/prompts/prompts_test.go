package prompts_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/prompts"
	"github.com/reviso/reviso/internal/rulesets"
	"github.com/reviso/reviso/internal/sections"
)

func fixtureRuleset() *rulesets.Ruleset {
	return &rulesets.Ruleset{
		ID:      uuid.New(),
		Name:    "plain-language",
		Version: 1,
		Active:  true,
		Fragments: []rulesets.Fragment{
			{Instruction: "Use plain language."},
			{SectionTypes: []string{"definition"}, Instruction: "Keep defined terms capitalized."},
		},
	}
}

func fixtureSection(typ sections.SectionType, text string) *sections.Section {
	return &sections.Section{
		ID:           uuid.New(),
		Sequence:     1,
		Type:         typ,
		OriginalText: text,
		ContentHash:  sections.HashContent(text, typ),
	}
}

func TestCompileDeterministic(t *testing.T) {
	rs := fixtureRuleset()
	sec := fixtureSection(sections.TypeClause, "The tenant shall pay rent monthly.")

	a := prompts.Compile(rs, sec, 1)
	b := prompts.Compile(rs, sec, 1)

	if a.Hash != b.Hash {
		t.Errorf("hashes differ: %s vs %s", a.Hash, b.Hash)
	}
	if a.User != b.User {
		t.Errorf("user prompts differ")
	}
	if len(a.Hash) != 64 {
		t.Errorf("hash length %d, want 64", len(a.Hash))
	}
}

func TestCompileFragmentFiltering(t *testing.T) {
	rs := fixtureRuleset()

	t.Run("clause skips definition fragments", func(t *testing.T) {
		p := prompts.Compile(rs, fixtureSection(sections.TypeClause, "text"), 1)
		if strings.Contains(p.User, "capitalized") {
			t.Errorf("definition-scoped fragment leaked into clause prompt:\n%s", p.User)
		}
		if !strings.Contains(p.User, "plain language") {
			t.Errorf("unscoped fragment missing from prompt:\n%s", p.User)
		}
	})

	t.Run("definition receives scoped fragments", func(t *testing.T) {
		p := prompts.Compile(rs, fixtureSection(sections.TypeDefinition, "text"), 1)
		if !strings.Contains(p.User, "capitalized") {
			t.Errorf("definition-scoped fragment missing:\n%s", p.User)
		}
	})
}

func TestHashVariance(t *testing.T) {
	rs := fixtureRuleset()
	sec := fixtureSection(sections.TypeClause, "original text")
	base := prompts.Hash(rs, sec, 1)

	t.Run("attempt changes hash", func(t *testing.T) {
		if prompts.Hash(rs, sec, 2) == base {
			t.Error("attempt bump should change the hash")
		}
	})

	t.Run("content changes hash", func(t *testing.T) {
		other := fixtureSection(sections.TypeClause, "different text")
		if prompts.Hash(rs, other, 1) == base {
			t.Error("content change should change the hash")
		}
	})

	t.Run("ruleset version changes hash", func(t *testing.T) {
		bumped := *rs
		bumped.Version = 2
		if prompts.Hash(&bumped, sec, 1) == base {
			t.Error("ruleset version bump should change the hash")
		}
	})

	t.Run("section type changes hash", func(t *testing.T) {
		retyped := *sec
		retyped.Type = sections.TypeDefinition
		if prompts.Hash(rs, &retyped, 1) == base {
			t.Error("section type change should change the hash")
		}
	})
}

func TestCompileIncludesSectionText(t *testing.T) {
	rs := fixtureRuleset()
	heading := "Payment Terms"
	sec := fixtureSection(sections.TypeClause, "The tenant shall pay rent monthly.")
	sec.Heading = &heading

	p := prompts.Compile(rs, sec, 1)
	if !strings.Contains(p.User, sec.OriginalText) {
		t.Errorf("original text missing from prompt:\n%s", p.User)
	}
	if !strings.Contains(p.User, heading) {
		t.Errorf("heading missing from prompt:\n%s", p.User)
	}
	if p.System == "" {
		t.Error("system prompt empty")
	}
}
