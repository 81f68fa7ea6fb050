package query_test

import (
	"testing"

	"github.com/reviso/reviso/pkg/query"
)

func eventProjection() *query.ProjectionMap {
	return query.NewProjectionMap("public", "audit_events", "e").
		Project("id", "id").
		Project("event_type", "eventType").
		Project("created_at", "createdAt")
}

func TestProjectionReferences(t *testing.T) {
	p := eventProjection()

	if got := p.Table(); got != "public.audit_events" {
		t.Errorf("table = %q, want public.audit_events", got)
	}
	if got := p.From(); got != "public.audit_events e" {
		t.Errorf("from = %q, want aliased table reference", got)
	}
	if got := p.Alias(); got != "e" {
		t.Errorf("alias = %q, want e", got)
	}
	if got := p.Column("eventType"); got != "e.event_type" {
		t.Errorf("column = %q, want e.event_type", got)
	}
	if got := p.Column("unmapped"); got != "unmapped" {
		t.Errorf("unmapped column = %q, want passthrough", got)
	}
	if got := p.Columns(); got != "e.id, e.event_type, e.created_at" {
		t.Errorf("columns = %q", got)
	}
}

func TestBuildSelect(t *testing.T) {
	eventType := "job.created"
	b := query.NewBuilder(eventProjection(), query.SortField{Field: "id"}).
		WhereEquals("eventType", eventType)

	sql, args := b.Build()
	want := "SELECT e.id, e.event_type, e.created_at FROM public.audit_events e" +
		" WHERE e.event_type = $1 ORDER BY e.id ASC"
	if sql != want {
		t.Errorf("sql = %q\nwant  %q", sql, want)
	}
	if len(args) != 1 || args[0] != eventType {
		t.Errorf("args = %v, want [%s]", args, eventType)
	}
}

func TestBuildCount(t *testing.T) {
	sql, args := query.NewBuilder(eventProjection()).BuildCount()
	if want := "SELECT COUNT(*) FROM public.audit_events e"; sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
}

func TestBuildPage(t *testing.T) {
	b := query.NewBuilder(eventProjection(), query.SortField{Field: "createdAt", Descending: true})

	sql, _ := b.BuildPage(2, 25)
	want := "SELECT e.id, e.event_type, e.created_at FROM public.audit_events e" +
		" ORDER BY e.created_at DESC LIMIT 25 OFFSET 25"
	if sql != want {
		t.Errorf("sql = %q\nwant  %q", sql, want)
	}
}
