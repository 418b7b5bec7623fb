// Package vector maintains the semantic index: an embedded vector database
// holding one collection per indexable record kind. Entries are keyed by
// generated embedding ids and carry the originating record id in metadata;
// the relational side stays authoritative.
package vector

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/kalambet/muninn/internal/embedder"
)

// Collection names, one per indexable record kind.
const (
	CollectionEvents       = "events"
	CollectionDecisions    = "decisions"
	CollectionInteractions = "interactions"
)

// Store wraps a chromem database with one collection per record kind.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	provider    embedder.Provider
}

// Match is one search result. Distance is 1 - cosine similarity: lower means
// more similar, and results are always ordered by ascending distance.
type Match struct {
	EmbeddingID string            `json:"embedding_id"`
	Text        string            `json:"text"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Distance    float32           `json:"distance"`
}

// Entry is a stored index entry fetched by id.
type Entry struct {
	EmbeddingID string            `json:"embedding_id"`
	Text        string            `json:"text"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Stats summarizes the index for combined statistics reporting.
type Stats struct {
	EventsCount        int    `json:"events_count"`
	DecisionsCount     int    `json:"decisions_count"`
	InteractionsCount  int    `json:"interactions_count"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Model              string `json:"model"`
}

// Open creates (or reopens) the vector database under dataDir/vectors and
// ensures all collections exist. Pass ":memory:" as dataDir for an ephemeral
// database (used by tests). Embeddings are produced by the given provider.
func Open(dataDir string, provider embedder.Provider) (*Store, error) {
	var db *chromem.DB
	if dataDir == ":memory:" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(dataDir, "vectors"), false)
		if err != nil {
			return nil, fmt.Errorf("opening vector database: %w", err)
		}
	}

	s := &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		provider:    provider,
	}

	embedFn := chromem.EmbeddingFunc(provider.Embed)
	for _, name := range []string{CollectionEvents, CollectionDecisions, CollectionInteractions} {
		col, err := db.GetOrCreateCollection(name, nil, embedFn)
		if err != nil {
			return nil, fmt.Errorf("creating collection %s: %w", name, err)
		}
		s.collections[name] = col
	}

	return s, nil
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", name)
	}
	return col, nil
}

// Index embeds text and stores it under a fresh embedding id. The id is
// generated here, decoupled from relational record ids; callers put the
// record id into metadata to link back.
func (s *Store) Index(ctx context.Context, collection, text string, metadata map[string]string) (string, error) {
	col, err := s.collection(collection)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	doc := chromem.Document{
		ID:       id,
		Content:  text,
		Metadata: metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("indexing into %s: %w", collection, err)
	}
	return id, nil
}

// Search embeds the query once and returns up to limit nearest entries,
// optionally restricted to entries whose metadata contains every pair in
// where. An empty collection yields an empty result, not an error.
func (s *Store) Search(ctx context.Context, collection, query string, limit int, where map[string]string) ([]Match, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Match{}, nil
	}

	// chromem rejects nResults larger than the collection, so clamp.
	if n := col.Count(); n == 0 {
		return []Match{}, nil
	} else if limit > n {
		limit = n
	}

	results, err := col.Query(ctx, query, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			EmbeddingID: r.ID,
			Text:        r.Content,
			Metadata:    r.Metadata,
			Distance:    1 - r.Similarity,
		}
	}
	return matches, nil
}

// GetByID returns the stored entry, or nil when the id is not indexed.
// A missing entry is a normal state, not an error.
func (s *Store) GetByID(ctx context.Context, collection, id string) (*Entry, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		// chromem reports unknown ids as errors; absence is valid here.
		return nil, nil
	}
	return &Entry{
		EmbeddingID: doc.ID,
		Text:        doc.Content,
		Metadata:    doc.Metadata,
	}, nil
}

// Delete removes an entry. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}
	return nil
}

// Stats reports per-collection entry counts and the embedding configuration.
// The dimension may be 0 when the provider has not embedded anything yet.
func (s *Store) Stats() Stats {
	return Stats{
		EventsCount:        s.collections[CollectionEvents].Count(),
		DecisionsCount:     s.collections[CollectionDecisions].Count(),
		InteractionsCount:  s.collections[CollectionInteractions].Count(),
		EmbeddingDimension: s.provider.Dimensions(),
		Model:              s.provider.ModelName(),
	}
}

// InteractionText composes the text indexed for an interaction. The exact
// "<subject>: <summary>" form is load-bearing: reindexing must reproduce the
// same text that was originally embedded.
func InteractionText(subject, summary string) string {
	if subject == "" {
		return summary
	}
	return subject + ": " + summary
}
