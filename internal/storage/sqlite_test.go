package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least 2 migrations, got %v", versions)
	}
	for i, v := range versions {
		if v != i+1 {
			t.Fatalf("migrations out of order: %v", versions)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	id, err := s1.InsertEvent(Event{EventType: "app_launch", Description: "opened editor"})
	if err != nil {
		t.Fatalf("inserting event: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	events, err := s2.RecentEvents(10, "")
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(events) != 1 || events[0].ID != id {
		t.Fatalf("expected event %d to survive reopen, got %+v", id, events)
	}
}

func TestMigrationBackfillsISOColumns(t *testing.T) {
	dir := t.TempDir()

	// Build a database at schema version 1 (pre-ISO) by hand, with rows.
	db, err := sql.Open("sqlite", filepath.Join(dir, "muninn.db"))
	if err != nil {
		t.Fatalf("opening raw database: %v", err)
	}
	initSQL, err := migrationsFS.ReadFile("migrations/1_init.sql")
	if err != nil {
		t.Fatalf("reading init migration: %v", err)
	}
	if _, err := db.Exec(string(initSQL)); err != nil {
		t.Fatalf("applying init migration: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("creating schema_version: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
		t.Fatalf("recording version 1: %v", err)
	}
	ts := int64(1700000000) // 2023-11-14T22:13:20Z
	if _, err := db.Exec(`INSERT INTO events (timestamp, event_type, data, description, created_at) VALUES (?, 'app_launch', '{}', 'opened editor', ?)`, ts, ts); err != nil {
		t.Fatalf("inserting legacy event: %v", err)
	}
	db.Close()

	// Open runs the remaining migrations and backfills the new columns.
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("opening store over legacy database: %v", err)
	}
	defer s.Close()

	events, err := s.RecentEvents(10, "")
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	want := "2023-11-14T22:13:20Z"
	if events[0].TimestampISO != want {
		t.Fatalf("expected backfilled timestamp_iso %q, got %q", want, events[0].TimestampISO)
	}
	if events[0].CreatedAtISO != want {
		t.Fatalf("expected backfilled created_at_iso %q, got %q", want, events[0].CreatedAtISO)
	}
	if events[0].Timestamp != ts {
		t.Fatalf("integer timestamp changed during migration: %d", events[0].Timestamp)
	}
}

func TestInsertEventValidation(t *testing.T) {
	s := openTestStore(t)

	_, err := s.InsertEvent(Event{Description: "missing type"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "event_type" {
		t.Fatalf("expected event_type validation error, got %v", err)
	}

	_, err = s.InsertEvent(Event{EventType: "app_launch"})
	if !errors.As(err, &ve) || ve.Field != "description" {
		t.Fatalf("expected description validation error, got %v", err)
	}
}

func TestEventPayloadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	data := map[string]any{
		"app":    "firefox",
		"pid":    float64(4242),
		"flags":  []any{"a", "b"},
		"nested": map[string]any{"ok": true},
	}
	id, err := s.InsertEvent(Event{EventType: "app_launch", Description: "opened Firefox", Data: data})
	if err != nil {
		t.Fatalf("inserting event: %v", err)
	}

	events, err := s.RecentEvents(1, "")
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if events[0].ID != id {
		t.Fatalf("expected id %d, got %d", id, events[0].ID)
	}
	if !reflect.DeepEqual(events[0].Data, data) {
		t.Fatalf("payload did not round-trip:\nwant %#v\ngot  %#v", data, events[0].Data)
	}
}

func TestEventTimestampDefaultsAndISO(t *testing.T) {
	s := openTestStore(t)

	before := time.Now().Unix()
	if _, err := s.InsertEvent(Event{EventType: "note", Description: "no timestamp given"}); err != nil {
		t.Fatalf("inserting event: %v", err)
	}
	after := time.Now().Unix()

	events, err := s.RecentEvents(1, "")
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	e := events[0]
	if e.Timestamp < before || e.Timestamp > after {
		t.Fatalf("timestamp %d not defaulted to now", e.Timestamp)
	}
	wantISO := time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339)
	if e.TimestampISO != wantISO {
		t.Fatalf("timestamp_iso %q is not a projection of %d", e.TimestampISO, e.Timestamp)
	}
	if e.CreatedAtISO != time.Unix(e.CreatedAt, 0).UTC().Format(time.RFC3339) {
		t.Fatalf("created_at_iso %q is not a projection of %d", e.CreatedAtISO, e.CreatedAt)
	}
}

func TestQueryEventsFilters(t *testing.T) {
	s := openTestStore(t)

	base := int64(1700000000)
	fixtures := []Event{
		{EventType: "app_launch", Description: "opened editor", Timestamp: base},
		{EventType: "app_launch", Description: "opened browser", Timestamp: base + 100},
		{EventType: "file_save", Description: "saved report", Timestamp: base + 200},
	}
	for _, e := range fixtures {
		if _, err := s.InsertEvent(e); err != nil {
			t.Fatalf("inserting fixture: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter EventFilter
		want   []string
	}{
		{"by type", EventFilter{EventType: "app_launch", Limit: 10}, []string{"opened browser", "opened editor"}},
		{"time range inclusive", EventFilter{StartTime: base + 100, EndTime: base + 200, Limit: 10}, []string{"saved report", "opened browser"}},
		{"type and range conjunctive", EventFilter{EventType: "app_launch", StartTime: base + 50, Limit: 10}, []string{"opened browser"}},
		{"limit truncates newest first", EventFilter{Limit: 2}, []string{"saved report", "opened browser"}},
		{"no match", EventFilter{EventType: "missing", Limit: 10}, []string{}},
		{"zero limit", EventFilter{EventType: "app_launch"}, []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			events, err := s.QueryEvents(tc.filter)
			if err != nil {
				t.Fatalf("querying events: %v", err)
			}
			got := make([]string, 0, len(events))
			for _, e := range events {
				got = append(got, e.Description)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestPatternsOrdering(t *testing.T) {
	s := openTestStore(t)

	fixtures := []Pattern{
		{PatternType: "schedule", Description: "morning email triage", Confidence: 0.6, OccurrenceCount: 3},
		{PatternType: "schedule", Description: "friday deploys", Confidence: 0.9, OccurrenceCount: 2},
		{PatternType: "schedule", Description: "late night commits", Confidence: 0.9, OccurrenceCount: 7},
		{PatternType: "tooling", Description: "prefers dark mode", Confidence: 0.8},
	}
	for _, p := range fixtures {
		if _, err := s.InsertPattern(p); err != nil {
			t.Fatalf("inserting pattern: %v", err)
		}
	}

	patterns, err := s.Patterns("schedule", 0)
	if err != nil {
		t.Fatalf("querying patterns: %v", err)
	}
	got := make([]string, 0, len(patterns))
	for _, p := range patterns {
		got = append(got, p.Description)
	}
	want := []string{"late night commits", "friday deploys", "morning email triage"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}

	strong, err := s.Patterns("", 0.7)
	if err != nil {
		t.Fatalf("querying by confidence: %v", err)
	}
	if len(strong) != 3 {
		t.Fatalf("expected 3 patterns at confidence >= 0.7, got %d", len(strong))
	}
}

func TestPatternConfidenceNotClamped(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.InsertPattern(Pattern{PatternType: "odd", Description: "overconfident", Confidence: 3.5}); err != nil {
		t.Fatalf("inserting pattern: %v", err)
	}
	patterns, err := s.Patterns("odd", 0)
	if err != nil {
		t.Fatalf("querying patterns: %v", err)
	}
	if patterns[0].Confidence != 3.5 {
		t.Fatalf("confidence was altered: %v", patterns[0].Confidence)
	}
}

func TestDecisionSuccessTriState(t *testing.T) {
	s := openTestStore(t)

	yes := true
	no := false
	fixtures := []Decision{
		{Action: "migrated to WAL", Reasoning: "fewer lock errors", Success: &yes},
		{Action: "tried remote sync", Reasoning: "wanted backups", Success: &no, Outcome: "too slow"},
		{Action: "evaluating new editor", Reasoning: "curiosity"},
	}
	base := int64(1700000000)
	for n, d := range fixtures {
		d.Timestamp = base + int64(n)
		if _, err := s.InsertDecision(d); err != nil {
			t.Fatalf("inserting decision: %v", err)
		}
	}

	decisions, err := s.RecentDecisions(10)
	if err != nil {
		t.Fatalf("reading decisions: %v", err)
	}
	if len(decisions) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(decisions))
	}
	// Newest first: the pending one comes back first.
	if decisions[0].Success != nil {
		t.Fatalf("expected pending decision to have nil success, got %v", *decisions[0].Success)
	}
	if decisions[1].Success == nil || *decisions[1].Success {
		t.Fatalf("expected failed decision, got %+v", decisions[1])
	}
	if decisions[1].Outcome != "too slow" {
		t.Fatalf("outcome did not round-trip: %+v", decisions[1])
	}
	if decisions[2].Success == nil || !*decisions[2].Success {
		t.Fatalf("expected successful decision, got %+v", decisions[2])
	}
}

func TestQueryInteractionsFilters(t *testing.T) {
	s := openTestStore(t)

	base := int64(1700000000)
	fixtures := []Interaction{
		{ContactEmail: "ada@example.com", InteractionType: "email", Summary: "quarterly planning", Timestamp: base},
		{ContactEmail: "ada@example.com", InteractionType: "meeting", Summary: "design review", Timestamp: base + 100},
		{ContactEmail: "bob@example.com", InteractionType: "email", Summary: "invoice follow-up", Timestamp: base + 200},
	}
	for _, i := range fixtures {
		if _, err := s.InsertInteraction(i); err != nil {
			t.Fatalf("inserting interaction: %v", err)
		}
	}

	got, err := s.QueryInteractions(InteractionFilter{ContactEmail: "ada@example.com", InteractionType: "meeting", Limit: 10})
	if err != nil {
		t.Fatalf("querying interactions: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "design review" {
		t.Fatalf("conjunctive filter failed: %+v", got)
	}

	got, err = s.QueryInteractions(InteractionFilter{StartTime: base + 100, Limit: 10})
	if err != nil {
		t.Fatalf("querying interactions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 interactions from start bound, got %d", len(got))
	}
}

func TestInteractionListsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := Interaction{
		ContactEmail:    "ada@example.com",
		InteractionType: "meeting",
		Subject:         "Q3 roadmap",
		Summary:         "agreed on milestones",
		Topics:          []string{"roadmap", "budget"},
		ActionItems:     []string{"send notes", "book follow-up"},
		Sentiment:       "positive",
	}
	if _, err := s.InsertInteraction(in); err != nil {
		t.Fatalf("inserting interaction: %v", err)
	}

	got, err := s.RecentInteractions(1)
	if err != nil {
		t.Fatalf("reading interactions: %v", err)
	}
	if !reflect.DeepEqual(got[0].Topics, in.Topics) {
		t.Fatalf("topics did not round-trip: %v", got[0].Topics)
	}
	if !reflect.DeepEqual(got[0].ActionItems, in.ActionItems) {
		t.Fatalf("action items did not round-trip: %v", got[0].ActionItems)
	}
	if got[0].Sentiment != "positive" || got[0].Subject != "Q3 roadmap" {
		t.Fatalf("fields did not round-trip: %+v", got[0])
	}
}

func TestContactTimeline(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.InsertInteraction(Interaction{ContactEmail: "ada@example.com", InteractionType: "email", Summary: "intro"}); err != nil {
		t.Fatalf("inserting interaction: %v", err)
	}
	if _, err := s.InsertContactNote(ContactNote{ContactEmail: "ada@example.com", NoteText: "prefers async", Tags: []string{"communication"}}); err != nil {
		t.Fatalf("inserting note: %v", err)
	}
	if _, err := s.InsertContactNote(ContactNote{ContactEmail: "bob@example.com", NoteText: "met at conference"}); err != nil {
		t.Fatalf("inserting other note: %v", err)
	}

	tl, err := s.ContactTimeline("ada@example.com", 0)
	if err != nil {
		t.Fatalf("building timeline: %v", err)
	}
	if tl.TotalInteractions != 1 || tl.TotalNotes != 1 {
		t.Fatalf("unexpected timeline counts: %+v", tl)
	}
	if tl.Notes[0].NoteText != "prefers async" {
		t.Fatalf("timeline picked up the wrong contact's note: %+v", tl.Notes)
	}

	_, err = s.ContactTimeline("", 10)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for empty email, got %v", err)
	}
}

func TestStatistics(t *testing.T) {
	s := openTestStore(t)

	yes := true
	no := false
	if _, err := s.InsertEvent(Event{EventType: "app_launch", Description: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertEvent(Event{EventType: "app_launch", Description: "b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertEvent(Event{EventType: "file_save", Description: "c"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertPattern(Pattern{PatternType: "p", Description: "d", Confidence: 0.5}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertDecision(Decision{Action: "x", Reasoning: "y", Success: &yes}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertDecision(Decision{Action: "x2", Reasoning: "y2", Success: &no}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertDecision(Decision{Action: "x3", Reasoning: "y3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertInteraction(Interaction{ContactEmail: "ada@example.com", InteractionType: "email", Summary: "s"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertInteraction(Interaction{ContactEmail: "ada@example.com", InteractionType: "meeting", Summary: "s2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertContactNote(ContactNote{ContactEmail: "ada@example.com", NoteText: "n"}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Statistics()
	if err != nil {
		t.Fatalf("computing statistics: %v", err)
	}

	if stats.TotalEvents != 3 || stats.EventsByType["app_launch"] != 2 || stats.EventsByType["file_save"] != 1 {
		t.Fatalf("unexpected event stats: %+v", stats)
	}
	if stats.TotalPatterns != 1 {
		t.Fatalf("unexpected pattern count: %d", stats.TotalPatterns)
	}
	if stats.TotalDecisions != 3 || stats.SuccessfulDecisions != 1 {
		t.Fatalf("unexpected decision stats: %+v", stats)
	}
	if stats.TotalInteractions != 2 || stats.InteractionsByType["email"] != 1 {
		t.Fatalf("unexpected interaction stats: %+v", stats)
	}
	if stats.TotalContactNotes != 1 || stats.ContactsWithInteractions != 1 {
		t.Fatalf("unexpected contact stats: %+v", stats)
	}
}

func TestSetEmbeddingID(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertEvent(Event{EventType: "app_launch", Description: "opened editor"})
	if err != nil {
		t.Fatalf("inserting event: %v", err)
	}

	unindexed, err := s.UnindexedEvents()
	if err != nil {
		t.Fatalf("listing unindexed: %v", err)
	}
	if len(unindexed) != 1 {
		t.Fatalf("expected 1 unindexed event, got %d", len(unindexed))
	}

	if err := s.SetEventEmbeddingID(id, "emb-123"); err != nil {
		t.Fatalf("linking embedding: %v", err)
	}

	unindexed, err = s.UnindexedEvents()
	if err != nil {
		t.Fatalf("listing unindexed: %v", err)
	}
	if len(unindexed) != 0 {
		t.Fatalf("expected no unindexed events, got %d", len(unindexed))
	}

	events, err := s.RecentEvents(1, "")
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if events[0].EmbeddingID != "emb-123" {
		t.Fatalf("embedding id not linked: %+v", events[0])
	}

	if err := s.SetEventEmbeddingID(9999, "emb-x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
}
