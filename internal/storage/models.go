package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError is returned when a record or filter is missing a required
// field or carries a malformed value. The write never reaches the engine.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps a serialization or engine failure with the operation
// that produced it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Event is an observed occurrence: something that happened, when, and a
// free-form payload describing it. Timestamps are unix epoch seconds; the
// *_iso fields are derived UTC RFC3339 projections of the same instants.
type Event struct {
	ID           int64          `json:"id"`
	Timestamp    int64          `json:"timestamp"`
	TimestampISO string         `json:"timestamp_iso,omitempty"`
	EventType    string         `json:"event_type"`
	Data         map[string]any `json:"data"`
	Description  string         `json:"description"`
	EmbeddingID  string         `json:"embedding_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	CreatedAtISO string         `json:"created_at_iso,omitempty"`
}

// Pattern is a recurring observation with a caller-supplied confidence.
// Confidence is stored as given; callers own its scale.
type Pattern struct {
	ID              int64          `json:"id"`
	PatternType     string         `json:"pattern_type"`
	Description     string         `json:"description"`
	Confidence      float64        `json:"confidence"`
	OccurrenceCount int            `json:"occurrence_count"`
	FirstSeen       int64          `json:"first_seen"`
	FirstSeenISO    string         `json:"first_seen_iso,omitempty"`
	LastSeen        int64          `json:"last_seen"`
	LastSeenISO     string         `json:"last_seen_iso,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	CreatedAtISO    string         `json:"created_at_iso,omitempty"`
}

// Decision records an action taken, the reasoning behind it, and an optional
// outcome recorded later. Success is tri-state: nil means not yet known.
type Decision struct {
	ID           int64          `json:"id"`
	Timestamp    int64          `json:"timestamp"`
	TimestampISO string         `json:"timestamp_iso,omitempty"`
	Action       string         `json:"action"`
	Reasoning    string         `json:"reasoning"`
	Context      map[string]any `json:"context,omitempty"`
	Outcome      string         `json:"outcome,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	EmbeddingID  string         `json:"embedding_id,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	CreatedAtISO string         `json:"created_at_iso,omitempty"`
}

// Interaction is a contact touchpoint (email thread, meeting, manual entry).
type Interaction struct {
	ID              int64          `json:"id"`
	Timestamp       int64          `json:"timestamp"`
	TimestampISO    string         `json:"timestamp_iso,omitempty"`
	ContactEmail    string         `json:"contact_email"`
	InteractionType string         `json:"interaction_type"`
	Subject         string         `json:"subject,omitempty"`
	Summary         string         `json:"summary"`
	Topics          []string       `json:"topics,omitempty"`
	ActionItems     []string       `json:"action_items,omitempty"`
	Sentiment       string         `json:"sentiment,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	EmbeddingID     string         `json:"embedding_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	CreatedAtISO    string         `json:"created_at_iso,omitempty"`
}

// ContactNote is a free-form annotation about a contact, outside the
// interaction timeline.
type ContactNote struct {
	ID           int64          `json:"id"`
	Timestamp    int64          `json:"timestamp"`
	TimestampISO string         `json:"timestamp_iso,omitempty"`
	ContactEmail string         `json:"contact_email"`
	NoteText     string         `json:"note_text"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	CreatedAtISO string         `json:"created_at_iso,omitempty"`
}

// EventFilter narrows QueryEvents. Zero values mean "no constraint";
// time bounds are inclusive epoch seconds. Limit is required.
type EventFilter struct {
	EventType string
	StartTime int64
	EndTime   int64
	Limit     int
}

// InteractionFilter narrows QueryInteractions. Semantics match EventFilter.
type InteractionFilter struct {
	ContactEmail    string
	InteractionType string
	StartTime       int64
	EndTime         int64
	Limit           int
}

// ContactTimeline merges a contact's interactions and notes, newest first.
type ContactTimeline struct {
	ContactEmail      string        `json:"contact_email"`
	Interactions      []Interaction `json:"interactions"`
	Notes             []ContactNote `json:"notes"`
	TotalInteractions int           `json:"total_interactions"`
	TotalNotes        int           `json:"total_notes"`
}

// Statistics is a snapshot of the relational side, computed in a single read
// transaction so the counts are mutually consistent.
type Statistics struct {
	TotalEvents              int            `json:"total_events"`
	EventsByType             map[string]int `json:"events_by_type"`
	TotalPatterns            int            `json:"total_patterns"`
	TotalDecisions           int            `json:"total_decisions"`
	SuccessfulDecisions      int            `json:"successful_decisions"`
	TotalInteractions        int            `json:"total_interactions"`
	InteractionsByType       map[string]int `json:"interactions_by_type"`
	TotalContactNotes        int            `json:"total_contact_notes"`
	ContactsWithInteractions int            `json:"contacts_with_interactions"`
}
