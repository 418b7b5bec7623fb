package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/muninn/internal/embedder"
	"github.com/kalambet/muninn/internal/memory"
	"github.com/kalambet/muninn/internal/storage"
	"github.com/kalambet/muninn/internal/vector"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	vectors, err := vector.Open(":memory:", embedder.NewHash(256))
	if err != nil {
		t.Fatalf("opening vector store: %v", err)
	}

	return MCPDeps{
		Store:  store,
		Memory: memory.New(store, vectors),
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func callOK(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) string {
	t.Helper()
	result, err := handler(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	if result.IsError {
		t.Fatalf("%s: unexpected tool error: %s", name, toolText(t, result))
	}
	return toolText(t, result)
}

// --- tests ---

func TestMCPStoreEvent(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpStoreEvent(deps)

	text := callOK(t, handler, "store_event", map[string]interface{}{
		"event_type":  "app_launch",
		"description": "opened the editor",
		"data":        map[string]interface{}{"app": "editor"},
	})

	var res memory.RememberResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.RecordID == 0 || !res.Indexed || res.EmbeddingID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	events, err := deps.Store.RecentEvents(1, "")
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if events[0].Data["app"] != "editor" {
		t.Fatalf("payload not stored: %+v", events[0])
	}
}

func TestMCPStoreEventMissingField(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpStoreEvent(deps)

	result, err := handler(context.Background(), makeCallToolRequest("store_event", map[string]interface{}{
		"description": "no type",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing event_type")
	}
}

func TestMCPRecentEventsDefaultLimit(t *testing.T) {
	deps := newTestMCPDeps(t)

	store := mcpStoreEvent(deps)
	for i := 0; i < 12; i++ {
		callOK(t, store, "store_event", map[string]interface{}{
			"event_type":  "tick",
			"description": "periodic tick",
		})
	}

	text := callOK(t, mcpRecentEvents(deps), "get_recent_events", map[string]interface{}{})
	var events []storage.Event
	if err := json.Unmarshal([]byte(text), &events); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(events) != defaultRecentLimit {
		t.Fatalf("expected default limit of %d, got %d", defaultRecentLimit, len(events))
	}
}

func TestMCPQueryEvents(t *testing.T) {
	deps := newTestMCPDeps(t)
	store := mcpStoreEvent(deps)

	callOK(t, store, "store_event", map[string]interface{}{
		"event_type": "app_launch", "description": "opened editor", "timestamp": float64(1700000000),
	})
	callOK(t, store, "store_event", map[string]interface{}{
		"event_type": "file_save", "description": "saved report", "timestamp": float64(1700000100),
	})

	text := callOK(t, mcpQueryEvents(deps), "query_events", map[string]interface{}{
		"event_type": "app_launch",
	})
	var events []storage.Event
	if err := json.Unmarshal([]byte(text), &events); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(events) != 1 || events[0].Description != "opened editor" {
		t.Fatalf("unexpected query result: %+v", events)
	}
}

func TestMCPSemanticSearch(t *testing.T) {
	deps := newTestMCPDeps(t)
	store := mcpStoreEvent(deps)

	callOK(t, store, "store_event", map[string]interface{}{
		"event_type": "app_crash", "description": "system crashed unexpectedly",
	})
	callOK(t, store, "store_event", map[string]interface{}{
		"event_type": "app_launch", "description": "opened Firefox browser",
	})

	text := callOK(t, mcpSemanticSearch(deps), "semantic_search", map[string]interface{}{
		"query": "stability problems and crashes",
		"limit": float64(1),
	})
	var matches []vector.Match
	if err := json.Unmarshal([]byte(text), &matches); err != nil {
		t.Fatalf("decoding matches: %v", err)
	}
	if len(matches) != 1 || matches[0].Text != "system crashed unexpectedly" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}

func TestMCPSemanticSearchUnknownType(t *testing.T) {
	deps := newTestMCPDeps(t)

	result, err := mcpSemanticSearch(deps)(context.Background(), makeCallToolRequest("semantic_search", map[string]interface{}{
		"query":       "anything",
		"search_type": "patterns",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unsearchable kind")
	}
}

func TestMCPStoreAndGetPatterns(t *testing.T) {
	deps := newTestMCPDeps(t)

	callOK(t, mcpStorePattern(deps), "store_pattern", map[string]interface{}{
		"pattern_type": "schedule",
		"description":  "morning email triage",
		"confidence":   float64(0.9),
	})
	callOK(t, mcpStorePattern(deps), "store_pattern", map[string]interface{}{
		"pattern_type": "schedule",
		"description":  "friday deploys",
		"confidence":   float64(0.4),
	})

	text := callOK(t, mcpGetPatterns(deps), "get_patterns", map[string]interface{}{
		"min_confidence": float64(0.5),
	})
	var patterns []storage.Pattern
	if err := json.Unmarshal([]byte(text), &patterns); err != nil {
		t.Fatalf("decoding patterns: %v", err)
	}
	if len(patterns) != 1 || patterns[0].Description != "morning email triage" {
		t.Fatalf("unexpected patterns: %+v", patterns)
	}
}

func TestMCPStoreDecisionTriState(t *testing.T) {
	deps := newTestMCPDeps(t)
	store := mcpStoreDecision(deps)

	callOK(t, store, "store_decision", map[string]interface{}{
		"action": "enabled WAL", "reasoning": "fewer lock errors", "success": true,
	})
	callOK(t, store, "store_decision", map[string]interface{}{
		"action": "evaluating editor", "reasoning": "curiosity",
	})

	text := callOK(t, mcpRecentDecisions(deps), "get_recent_decisions", map[string]interface{}{})
	var decisions []storage.Decision
	if err := json.Unmarshal([]byte(text), &decisions); err != nil {
		t.Fatalf("decoding decisions: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	var pending, resolved *storage.Decision
	for i := range decisions {
		if decisions[i].Action == "evaluating editor" {
			pending = &decisions[i]
		} else {
			resolved = &decisions[i]
		}
	}
	if pending == nil || pending.Success != nil {
		t.Fatalf("expected nil success for pending decision: %+v", pending)
	}
	if resolved == nil || resolved.Success == nil || !*resolved.Success {
		t.Fatalf("expected true success for resolved decision: %+v", resolved)
	}
}

func TestMCPLogAndSearchInteractions(t *testing.T) {
	deps := newTestMCPDeps(t)

	callOK(t, mcpLogInteraction(deps), "log_interaction", map[string]interface{}{
		"contact_email":    "ada@example.com",
		"interaction_type": "meeting",
		"subject":          "Q3 roadmap",
		"summary":          "agreed on milestones",
		"topics":           []string{"roadmap"},
	})
	callOK(t, mcpLogInteraction(deps), "log_interaction", map[string]interface{}{
		"contact_email":    "bob@example.com",
		"interaction_type": "email",
		"summary":          "invoice follow-up",
	})

	text := callOK(t, mcpSearchInteractions(deps), "search_interactions", map[string]interface{}{
		"query":         "roadmap milestones",
		"contact_email": "ada@example.com",
	})
	var matches []vector.Match
	if err := json.Unmarshal([]byte(text), &matches); err != nil {
		t.Fatalf("decoding matches: %v", err)
	}
	if len(matches) != 1 || matches[0].Text != "Q3 roadmap: agreed on milestones" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}

func TestMCPContactTimelineAndNotes(t *testing.T) {
	deps := newTestMCPDeps(t)

	callOK(t, mcpLogInteraction(deps), "log_interaction", map[string]interface{}{
		"contact_email":    "ada@example.com",
		"interaction_type": "email",
		"summary":          "intro",
	})
	callOK(t, mcpAddContactNote(deps), "add_contact_note", map[string]interface{}{
		"contact_email": "ada@example.com",
		"note_text":     "prefers async",
		"tags":          []string{"communication"},
	})

	text := callOK(t, mcpContactTimeline(deps), "get_contact_timeline", map[string]interface{}{
		"contact_email": "ada@example.com",
	})
	var tl storage.ContactTimeline
	if err := json.Unmarshal([]byte(text), &tl); err != nil {
		t.Fatalf("decoding timeline: %v", err)
	}
	if tl.TotalInteractions != 1 || tl.TotalNotes != 1 {
		t.Fatalf("unexpected timeline: %+v", tl)
	}

	text = callOK(t, mcpGetContactNotes(deps), "get_contact_notes", map[string]interface{}{
		"contact_email": "ada@example.com",
	})
	var notes []storage.ContactNote
	if err := json.Unmarshal([]byte(text), &notes); err != nil {
		t.Fatalf("decoding notes: %v", err)
	}
	if len(notes) != 1 || notes[0].NoteText != "prefers async" {
		t.Fatalf("unexpected notes: %+v", notes)
	}
}

func TestMCPStatistics(t *testing.T) {
	deps := newTestMCPDeps(t)

	callOK(t, mcpStoreEvent(deps), "store_event", map[string]interface{}{
		"event_type": "app_launch", "description": "opened editor",
	})

	text := callOK(t, mcpStatistics(deps), "get_statistics", nil)
	var stats map[string]interface{}
	if err := json.Unmarshal([]byte(text), &stats); err != nil {
		t.Fatalf("decoding statistics: %v", err)
	}
	if stats["total_events"] != float64(1) {
		t.Fatalf("unexpected total_events: %v", stats["total_events"])
	}
	vs, ok := stats["vector_store"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing vector_store section: %v", stats)
	}
	if vs["events_count"] != float64(1) {
		t.Fatalf("unexpected vector events_count: %v", vs["events_count"])
	}
}

func TestMCPServerRegistersTools(t *testing.T) {
	deps := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("expected a server")
	}
}
