package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/muninn/internal/memory"
	"github.com/kalambet/muninn/internal/storage"
)

// Default result limits applied at the protocol boundary. The stores
// themselves require explicit limits.
const (
	defaultRecentLimit = 10
	defaultQueryLimit  = 100
	defaultSearchLimit = 10
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Memory *memory.Store
}

// NewMCPServer creates an MCP server with all muninn tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"muninn",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("muninn — persistent personal memory: events, patterns, decisions, and contact history with semantic recall."),
		server.WithRecovery(),
	)

	// Event tools
	s.AddTool(
		mcp.NewTool("store_event",
			mcp.WithDescription("Record an observed event with a structured payload. The event is also indexed for semantic search."),
			mcp.WithString("event_type", mcp.Description("Category of the event (e.g. app_launch, file_save)"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Human-readable description, used for semantic indexing"), mcp.Required()),
			mcp.WithObject("data", mcp.Description("Arbitrary structured payload")),
			mcp.WithObject("metadata", mcp.Description("Optional additional metadata")),
			mcp.WithNumber("timestamp", mcp.Description("Unix epoch seconds; defaults to now")),
		),
		mcpStoreEvent(deps),
	)

	s.AddTool(
		mcp.NewTool("get_recent_events",
			mcp.WithDescription("Return the most recent events, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of events (default 10)")),
			mcp.WithString("event_type", mcp.Description("Restrict to one event type")),
		),
		mcpRecentEvents(deps),
	)

	s.AddTool(
		mcp.NewTool("query_events",
			mcp.WithDescription("Query events by type and/or inclusive time range. All given filters must match."),
			mcp.WithString("event_type", mcp.Description("Restrict to one event type")),
			mcp.WithNumber("start_time", mcp.Description("Inclusive lower bound, unix epoch seconds")),
			mcp.WithNumber("end_time", mcp.Description("Inclusive upper bound, unix epoch seconds")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of events (default 100)")),
		),
		mcpQueryEvents(deps),
	)

	s.AddTool(
		mcp.NewTool("semantic_search",
			mcp.WithDescription("Search stored events or decisions by meaning. Results are ordered by ascending distance (lower is more similar)."),
			mcp.WithString("query", mcp.Description("Natural-language search query"), mcp.Required()),
			mcp.WithString("search_type", mcp.Description("What to search: events or decisions (default events)"), mcp.Enum("events", "decisions")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSemanticSearch(deps),
	)

	// Pattern tools
	s.AddTool(
		mcp.NewTool("store_pattern",
			mcp.WithDescription("Record a recurring behavioral pattern with a confidence score."),
			mcp.WithString("pattern_type", mcp.Description("Category of the pattern"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What the pattern is"), mcp.Required()),
			mcp.WithNumber("confidence", mcp.Description("Caller-owned confidence score (default 0.5)")),
			mcp.WithNumber("occurrence_count", mcp.Description("How many times the pattern was observed (default 1)")),
			mcp.WithObject("data", mcp.Description("Arbitrary structured payload")),
		),
		mcpStorePattern(deps),
	)

	s.AddTool(
		mcp.NewTool("get_patterns",
			mcp.WithDescription("Return stored patterns, strongest first (confidence, then occurrence count)."),
			mcp.WithString("pattern_type", mcp.Description("Restrict to one pattern type")),
			mcp.WithNumber("min_confidence", mcp.Description("Minimum confidence (default 0)")),
		),
		mcpGetPatterns(deps),
	)

	// Decision tools
	s.AddTool(
		mcp.NewTool("store_decision",
			mcp.WithDescription("Record a decision with its reasoning. The reasoning is indexed for semantic search."),
			mcp.WithString("action", mcp.Description("What was decided or done"), mcp.Required()),
			mcp.WithString("reasoning", mcp.Description("Why, used for semantic indexing"), mcp.Required()),
			mcp.WithObject("context", mcp.Description("Structured context at decision time")),
			mcp.WithString("outcome", mcp.Description("What happened, if already known")),
			mcp.WithBoolean("success", mcp.Description("Whether it worked out; omit if not yet known")),
			mcp.WithNumber("timestamp", mcp.Description("Unix epoch seconds; defaults to now")),
		),
		mcpStoreDecision(deps),
	)

	s.AddTool(
		mcp.NewTool("get_recent_decisions",
			mcp.WithDescription("Return the most recent decisions, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of decisions (default 10)")),
		),
		mcpRecentDecisions(deps),
	)

	// Statistics
	s.AddTool(
		mcp.NewTool("get_statistics",
			mcp.WithDescription("Return record counts for both the structured store and the semantic index."),
		),
		mcpStatistics(deps),
	)

	// Contact tools
	s.AddTool(
		mcp.NewTool("log_interaction",
			mcp.WithDescription("Record an interaction with a contact. Subject and summary are indexed for semantic search."),
			mcp.WithString("contact_email", mcp.Description("Contact identifier"), mcp.Required()),
			mcp.WithString("interaction_type", mcp.Description("Kind of interaction"), mcp.Required(), mcp.Enum("email", "meeting", "manual")),
			mcp.WithString("summary", mcp.Description("What the interaction was about"), mcp.Required()),
			mcp.WithString("subject", mcp.Description("Subject line or title")),
			mcp.WithArray("topics", mcp.Description("Topics discussed")),
			mcp.WithArray("action_items", mcp.Description("Follow-ups agreed")),
			mcp.WithString("sentiment", mcp.Description("Overall tone"), mcp.Enum("positive", "neutral", "negative")),
			mcp.WithString("notes", mcp.Description("Free-form notes")),
			mcp.WithObject("metadata", mcp.Description("Optional additional metadata")),
			mcp.WithNumber("timestamp", mcp.Description("Unix epoch seconds; defaults to now")),
		),
		mcpLogInteraction(deps),
	)

	s.AddTool(
		mcp.NewTool("query_interactions",
			mcp.WithDescription("Query interactions by contact, type, and/or inclusive time range. All given filters must match."),
			mcp.WithString("contact_email", mcp.Description("Restrict to one contact")),
			mcp.WithString("interaction_type", mcp.Description("Restrict to one interaction type")),
			mcp.WithNumber("start_time", mcp.Description("Inclusive lower bound, unix epoch seconds")),
			mcp.WithNumber("end_time", mcp.Description("Inclusive upper bound, unix epoch seconds")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of interactions (default 100)")),
		),
		mcpQueryInteractions(deps),
	)

	s.AddTool(
		mcp.NewTool("search_interactions",
			mcp.WithDescription("Search interactions by meaning, optionally restricted to one contact."),
			mcp.WithString("query", mcp.Description("Natural-language search query"), mcp.Required()),
			mcp.WithString("contact_email", mcp.Description("Restrict to one contact")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchInteractions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_contact_timeline",
			mcp.WithDescription("Return a contact's interactions and notes, newest first."),
			mcp.WithString("contact_email", mcp.Description("Contact identifier"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum entries per section (default 50)")),
		),
		mcpContactTimeline(deps),
	)

	s.AddTool(
		mcp.NewTool("get_recent_interactions",
			mcp.WithDescription("Return the most recent interactions across all contacts, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of interactions (default 10)")),
		),
		mcpRecentInteractions(deps),
	)

	s.AddTool(
		mcp.NewTool("add_contact_note",
			mcp.WithDescription("Attach a free-form note to a contact."),
			mcp.WithString("contact_email", mcp.Description("Contact identifier"), mcp.Required()),
			mcp.WithString("note_text", mcp.Description("The note"), mcp.Required()),
			mcp.WithArray("tags", mcp.Description("Optional tags for categorization")),
			mcp.WithObject("metadata", mcp.Description("Optional additional metadata")),
		),
		mcpAddContactNote(deps),
	)

	s.AddTool(
		mcp.NewTool("get_contact_notes",
			mcp.WithDescription("Return notes, newest first, across all contacts or for one contact."),
			mcp.WithString("contact_email", mcp.Description("Restrict to one contact")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of notes (default 50)")),
		),
		mcpGetContactNotes(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"memory://stats",
			"Memory Statistics",
			mcp.WithResourceDescription("Combined structured and semantic index statistics as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpStoreEvent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		eventType, err := req.RequireString("event_type")
		if err != nil {
			return mcpError("event_type is required"), nil
		}
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		res, err := deps.Memory.RememberEvent(ctx, storage.Event{
			EventType:   eventType,
			Description: description,
			Data:        objectArg(req, "data"),
			Metadata:    objectArg(req, "metadata"),
			Timestamp:   int64(req.GetInt("timestamp", 0)),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store event: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpRecentEvents(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", defaultRecentLimit)
		events, err := deps.Store.RecentEvents(limit, req.GetString("event_type", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list events: %v", err)), nil
		}
		return mcpJSON(events)
	}
}

func mcpQueryEvents(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		events, err := deps.Store.QueryEvents(storage.EventFilter{
			EventType: req.GetString("event_type", ""),
			StartTime: int64(req.GetInt("start_time", 0)),
			EndTime:   int64(req.GetInt("end_time", 0)),
			Limit:     req.GetInt("limit", defaultQueryLimit),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to query events: %v", err)), nil
		}
		return mcpJSON(events)
	}
}

func mcpSemanticSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", defaultSearchLimit)

		switch searchType := req.GetString("search_type", "events"); searchType {
		case "events":
			matches, err := deps.Memory.RecallEvents(ctx, query, limit)
			if err != nil {
				return mcpError(fmt.Sprintf("search failed: %v", err)), nil
			}
			return mcpJSON(matches)
		case "decisions":
			matches, err := deps.Memory.RecallDecisions(ctx, query, limit)
			if err != nil {
				return mcpError(fmt.Sprintf("search failed: %v", err)), nil
			}
			return mcpJSON(matches)
		default:
			return mcpError(fmt.Sprintf("unknown search_type %q", searchType)), nil
		}
	}
}

func mcpStorePattern(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		patternType, err := req.RequireString("pattern_type")
		if err != nil {
			return mcpError("pattern_type is required"), nil
		}
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		id, err := deps.Memory.StorePattern(storage.Pattern{
			PatternType:     patternType,
			Description:     description,
			Confidence:      req.GetFloat("confidence", 0.5),
			OccurrenceCount: req.GetInt("occurrence_count", 1),
			Data:            objectArg(req, "data"),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store pattern: %v", err)), nil
		}
		return mcpJSON(map[string]any{"pattern_id": id})
	}
}

func mcpGetPatterns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		patterns, err := deps.Store.Patterns(req.GetString("pattern_type", ""), req.GetFloat("min_confidence", 0))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list patterns: %v", err)), nil
		}
		return mcpJSON(patterns)
	}
}

func mcpStoreDecision(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		action, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}
		reasoning, err := req.RequireString("reasoning")
		if err != nil {
			return mcpError("reasoning is required"), nil
		}

		d := storage.Decision{
			Action:    action,
			Reasoning: reasoning,
			Context:   objectArg(req, "context"),
			Outcome:   req.GetString("outcome", ""),
			Timestamp: int64(req.GetInt("timestamp", 0)),
		}
		// Success is tri-state: only set when the argument is present.
		if v, ok := req.GetArguments()["success"].(bool); ok {
			d.Success = &v
		}

		res, err := deps.Memory.RememberDecision(ctx, d)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store decision: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpRecentDecisions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decisions, err := deps.Store.RecentDecisions(req.GetInt("limit", defaultRecentLimit))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list decisions: %v", err)), nil
		}
		return mcpJSON(decisions)
	}
}

func mcpStatistics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Memory.Statistics()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute statistics: %v", err)), nil
		}
		return mcpJSON(stats)
	}
}

func mcpLogInteraction(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		contactEmail, err := req.RequireString("contact_email")
		if err != nil {
			return mcpError("contact_email is required"), nil
		}
		interactionType, err := req.RequireString("interaction_type")
		if err != nil {
			return mcpError("interaction_type is required"), nil
		}
		summary, err := req.RequireString("summary")
		if err != nil {
			return mcpError("summary is required"), nil
		}

		res, err := deps.Memory.RememberInteraction(ctx, storage.Interaction{
			ContactEmail:    contactEmail,
			InteractionType: interactionType,
			Summary:         summary,
			Subject:         req.GetString("subject", ""),
			Topics:          req.GetStringSlice("topics", nil),
			ActionItems:     req.GetStringSlice("action_items", nil),
			Sentiment:       req.GetString("sentiment", ""),
			Notes:           req.GetString("notes", ""),
			Metadata:        objectArg(req, "metadata"),
			Timestamp:       int64(req.GetInt("timestamp", 0)),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to log interaction: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpQueryInteractions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		interactions, err := deps.Store.QueryInteractions(storage.InteractionFilter{
			ContactEmail:    req.GetString("contact_email", ""),
			InteractionType: req.GetString("interaction_type", ""),
			StartTime:       int64(req.GetInt("start_time", 0)),
			EndTime:         int64(req.GetInt("end_time", 0)),
			Limit:           req.GetInt("limit", defaultQueryLimit),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to query interactions: %v", err)), nil
		}
		return mcpJSON(interactions)
	}
}

func mcpSearchInteractions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		matches, err := deps.Memory.RecallInteractions(ctx, query,
			req.GetInt("limit", defaultSearchLimit),
			req.GetString("contact_email", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(matches)
	}
}

func mcpContactTimeline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		contactEmail, err := req.RequireString("contact_email")
		if err != nil {
			return mcpError("contact_email is required"), nil
		}

		timeline, err := deps.Store.ContactTimeline(contactEmail, req.GetInt("limit", 50))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to build timeline: %v", err)), nil
		}
		return mcpJSON(timeline)
	}
}

func mcpRecentInteractions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		interactions, err := deps.Store.RecentInteractions(req.GetInt("limit", defaultRecentLimit))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list interactions: %v", err)), nil
		}
		return mcpJSON(interactions)
	}
}

func mcpAddContactNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		contactEmail, err := req.RequireString("contact_email")
		if err != nil {
			return mcpError("contact_email is required"), nil
		}
		noteText, err := req.RequireString("note_text")
		if err != nil {
			return mcpError("note_text is required"), nil
		}

		id, err := deps.Memory.AddContactNote(storage.ContactNote{
			ContactEmail: contactEmail,
			NoteText:     noteText,
			Tags:         req.GetStringSlice("tags", nil),
			Metadata:     objectArg(req, "metadata"),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add note: %v", err)), nil
		}
		return mcpJSON(map[string]any{"note_id": id})
	}
}

func mcpGetContactNotes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		notes, err := deps.Store.ContactNotes(req.GetString("contact_email", ""), req.GetInt("limit", 50))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list notes: %v", err)), nil
		}
		return mcpJSON(notes)
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Memory.Statistics()
		if err != nil {
			return nil, fmt.Errorf("failed to compute statistics: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal statistics: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// objectArg reads an optional object-typed argument.
func objectArg(req mcp.CallToolRequest, key string) map[string]any {
	if m, ok := req.GetArguments()[key].(map[string]any); ok {
		return m
	}
	return nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
