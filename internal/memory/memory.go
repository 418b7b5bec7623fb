// Package memory coordinates the relational store and the semantic index.
// Writes are two-phase: the structured insert is authoritative and happens
// first; the semantic write is additive and its failure never rolls the
// record back.
package memory

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/kalambet/muninn/internal/storage"
	"github.com/kalambet/muninn/internal/vector"
)

// Store is the coordination core composing both backends.
type Store struct {
	records *storage.Store
	vectors *vector.Store
}

// New creates a Store over the given backends.
func New(records *storage.Store, vectors *vector.Store) *Store {
	return &Store{records: records, vectors: vectors}
}

// Records exposes the relational store for structured queries.
func (s *Store) Records() *storage.Store { return s.records }

// Vectors exposes the semantic index for direct lookups.
func (s *Store) Vectors() *vector.Store { return s.vectors }

// RememberResult reports the outcome of a two-phase write. Indexed false
// with a non-empty IndexError means the record exists but is not
// semantically searchable; reindexing can repair it later.
type RememberResult struct {
	RecordID    int64  `json:"record_id"`
	EmbeddingID string `json:"embedding_id,omitempty"`
	Indexed     bool   `json:"indexed"`
	IndexError  string `json:"index_error,omitempty"`
}

// CombinedStatistics merges relational counts with the semantic index
// snapshot. The two sides are read independently; transient drift between
// them is expected and not reconciled.
type CombinedStatistics struct {
	storage.Statistics
	VectorStore vector.Stats `json:"vector_store"`
}

// ReindexReport summarizes a ReindexMissing pass.
type ReindexReport struct {
	EventsIndexed       int `json:"events_indexed"`
	DecisionsIndexed    int `json:"decisions_indexed"`
	InteractionsIndexed int `json:"interactions_indexed"`
	Failed              int `json:"failed"`
}

// Total returns the number of records indexed by the pass.
func (r ReindexReport) Total() int {
	return r.EventsIndexed + r.DecisionsIndexed + r.InteractionsIndexed
}

// RememberEvent inserts the event, then indexes its description. A failed
// insert aborts before any semantic work; a failed index write logs a
// warning and returns partial success.
func (s *Store) RememberEvent(ctx context.Context, e storage.Event) (RememberResult, error) {
	id, err := s.records.InsertEvent(e)
	if err != nil {
		return RememberResult{}, err
	}

	meta := map[string]string{
		"record_id":  strconv.FormatInt(id, 10),
		"event_type": e.EventType,
	}
	return s.index(ctx, id, vector.CollectionEvents, e.Description, meta, s.records.SetEventEmbeddingID), nil
}

// RememberDecision inserts the decision, then indexes its reasoning.
func (s *Store) RememberDecision(ctx context.Context, d storage.Decision) (RememberResult, error) {
	id, err := s.records.InsertDecision(d)
	if err != nil {
		return RememberResult{}, err
	}

	meta := map[string]string{
		"record_id": strconv.FormatInt(id, 10),
		"action":    d.Action,
	}
	return s.index(ctx, id, vector.CollectionDecisions, d.Reasoning, meta, s.records.SetDecisionEmbeddingID), nil
}

// RememberInteraction inserts the interaction, then indexes the composed
// subject/summary text.
func (s *Store) RememberInteraction(ctx context.Context, i storage.Interaction) (RememberResult, error) {
	id, err := s.records.InsertInteraction(i)
	if err != nil {
		return RememberResult{}, err
	}

	meta := map[string]string{
		"record_id":        strconv.FormatInt(id, 10),
		"contact_email":    i.ContactEmail,
		"interaction_type": i.InteractionType,
	}
	text := vector.InteractionText(i.Subject, i.Summary)
	return s.index(ctx, id, vector.CollectionInteractions, text, meta, s.records.SetInteractionEmbeddingID), nil
}

func (s *Store) index(ctx context.Context, recordID int64, collection, text string, meta map[string]string, link func(int64, string) error) RememberResult {
	res := RememberResult{RecordID: recordID}

	embeddingID, err := s.vectors.Index(ctx, collection, text, meta)
	if err != nil {
		slog.Warn("record stored but not indexed", "collection", collection, "record_id", recordID, "error", err)
		res.IndexError = err.Error()
		return res
	}
	if err := link(recordID, embeddingID); err != nil {
		slog.Warn("record indexed but link not recorded", "collection", collection, "record_id", recordID, "embedding_id", embeddingID, "error", err)
		res.IndexError = err.Error()
		return res
	}

	res.EmbeddingID = embeddingID
	res.Indexed = true
	return res
}

// StorePattern inserts a pattern. Patterns are structured-only; they are
// never mirrored into the semantic index.
func (s *Store) StorePattern(p storage.Pattern) (int64, error) {
	return s.records.InsertPattern(p)
}

// AddContactNote inserts a contact note (structured-only, like patterns).
func (s *Store) AddContactNote(n storage.ContactNote) (int64, error) {
	return s.records.InsertContactNote(n)
}

// RecallEvents searches the event index. Results carry the record id in
// metadata; no relational join is performed.
func (s *Store) RecallEvents(ctx context.Context, query string, limit int) ([]vector.Match, error) {
	return s.vectors.Search(ctx, vector.CollectionEvents, query, limit, nil)
}

// RecallDecisions searches the decision index.
func (s *Store) RecallDecisions(ctx context.Context, query string, limit int) ([]vector.Match, error) {
	return s.vectors.Search(ctx, vector.CollectionDecisions, query, limit, nil)
}

// RecallInteractions searches the interaction index, optionally restricted
// to a single contact.
func (s *Store) RecallInteractions(ctx context.Context, query string, limit int, contactEmail string) ([]vector.Match, error) {
	var where map[string]string
	if contactEmail != "" {
		where = map[string]string{"contact_email": contactEmail}
	}
	return s.vectors.Search(ctx, vector.CollectionInteractions, query, limit, where)
}

// Statistics merges both backends' snapshots.
func (s *Store) Statistics() (CombinedStatistics, error) {
	rel, err := s.records.Statistics()
	if err != nil {
		return CombinedStatistics{}, err
	}
	return CombinedStatistics{
		Statistics:  rel,
		VectorStore: s.vectors.Stats(),
	}, nil
}

// ReindexMissing indexes every record whose semantic write never completed
// and links the new embedding ids. Per-record failures are counted and
// logged, not fatal.
func (s *Store) ReindexMissing(ctx context.Context) (ReindexReport, error) {
	var report ReindexReport

	events, err := s.records.UnindexedEvents()
	if err != nil {
		return report, err
	}
	for _, e := range events {
		meta := map[string]string{
			"record_id":  strconv.FormatInt(e.ID, 10),
			"event_type": e.EventType,
		}
		if res := s.index(ctx, e.ID, vector.CollectionEvents, e.Description, meta, s.records.SetEventEmbeddingID); res.Indexed {
			report.EventsIndexed++
		} else {
			report.Failed++
		}
	}

	decisions, err := s.records.UnindexedDecisions()
	if err != nil {
		return report, err
	}
	for _, d := range decisions {
		meta := map[string]string{
			"record_id": strconv.FormatInt(d.ID, 10),
			"action":    d.Action,
		}
		if res := s.index(ctx, d.ID, vector.CollectionDecisions, d.Reasoning, meta, s.records.SetDecisionEmbeddingID); res.Indexed {
			report.DecisionsIndexed++
		} else {
			report.Failed++
		}
	}

	interactions, err := s.records.UnindexedInteractions()
	if err != nil {
		return report, err
	}
	for _, i := range interactions {
		meta := map[string]string{
			"record_id":        strconv.FormatInt(i.ID, 10),
			"contact_email":    i.ContactEmail,
			"interaction_type": i.InteractionType,
		}
		text := vector.InteractionText(i.Subject, i.Summary)
		if res := s.index(ctx, i.ID, vector.CollectionInteractions, text, meta, s.records.SetInteractionEmbeddingID); res.Indexed {
			report.InteractionsIndexed++
		} else {
			report.Failed++
		}
	}

	return report, nil
}
