package sections_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/sections"
)

func makeSections(n int) []sections.Section {
	secs := make([]sections.Section, n)
	for i := range secs {
		secs[i] = sections.Section{
			ID:           uuid.New(),
			Sequence:     i + 1,
			Type:         sections.TypeClause,
			OriginalText: "clause text",
		}
	}
	return secs
}

func position(order []uuid.UUID, id uuid.UUID) int {
	for i, o := range order {
		if o == id {
			return i
		}
	}
	return -1
}

func TestBuildGraphOrder(t *testing.T) {
	secs := makeSections(4)
	// 2 references 0, 3 references 2: processing order must put targets
	// before their referrers.
	edges := []sections.Edge{
		{FromSectionID: secs[2].ID, ToSectionID: secs[0].ID},
		{FromSectionID: secs[3].ID, ToSectionID: secs[2].ID},
	}

	graph, err := sections.BuildGraph(secs, edges)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	order := graph.Order()
	if len(order) != 4 {
		t.Fatalf("got %d ordered sections, want 4", len(order))
	}

	tests := []struct {
		name   string
		before uuid.UUID
		after  uuid.UUID
	}{
		{"referenced before referrer", secs[0].ID, secs[2].ID},
		{"transitive chain ordered", secs[2].ID, secs[3].ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if position(order, tt.before) >= position(order, tt.after) {
				t.Errorf("%s not before %s in %v", tt.before, tt.after, order)
			}
		})
	}
}

func TestBuildGraphSequenceTies(t *testing.T) {
	secs := makeSections(3)

	graph, err := sections.BuildGraph(secs, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	order := graph.Order()
	for i, sec := range secs {
		if order[i] != sec.ID {
			t.Fatalf("unconstrained order should follow sequence, got %v", order)
		}
	}
}

func TestBuildGraphCycle(t *testing.T) {
	secs := makeSections(3)
	edges := []sections.Edge{
		{FromSectionID: secs[0].ID, ToSectionID: secs[1].ID},
		{FromSectionID: secs[1].ID, ToSectionID: secs[2].ID},
		{FromSectionID: secs[2].ID, ToSectionID: secs[0].ID},
	}

	_, err := sections.BuildGraph(secs, edges)
	if !errors.Is(err, sections.ErrDependencyCycle) {
		t.Errorf("got %v, want ErrDependencyCycle", err)
	}
}

func TestBuildGraphUnknownEdge(t *testing.T) {
	secs := makeSections(2)
	edges := []sections.Edge{
		{FromSectionID: secs[0].ID, ToSectionID: uuid.New()},
	}

	_, err := sections.BuildGraph(secs, edges)
	if !errors.Is(err, sections.ErrUnknownSection) {
		t.Errorf("got %v, want ErrUnknownSection", err)
	}
}

func TestGraphDependencies(t *testing.T) {
	secs := makeSections(3)
	edges := []sections.Edge{
		{FromSectionID: secs[2].ID, ToSectionID: secs[0].ID},
		{FromSectionID: secs[2].ID, ToSectionID: secs[1].ID},
	}

	graph, err := sections.BuildGraph(secs, edges)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	deps := graph.Dependencies(secs[2].ID)
	if len(deps) != 2 {
		t.Errorf("got %d dependencies, want 2", len(deps))
	}
	if len(graph.Dependencies(secs[0].ID)) != 0 {
		t.Errorf("leaf section should have no dependencies")
	}
}

func TestHashContent(t *testing.T) {
	base := sections.HashContent("text", sections.TypeClause)

	tests := []struct {
		name string
		text string
		typ  sections.SectionType
		same bool
	}{
		{"identical input", "text", sections.TypeClause, true},
		{"different text", "other", sections.TypeClause, false},
		{"different type", "text", sections.TypeDefinition, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sections.HashContent(tt.text, tt.typ)
			if (got == base) != tt.same {
				t.Errorf("hash equality = %v, want %v", got == base, tt.same)
			}
			if len(got) != 64 {
				t.Errorf("hash length %d, want 64", len(got))
			}
		})
	}
}
