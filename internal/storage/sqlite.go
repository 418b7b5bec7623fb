package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the structured record kinds: events,
// patterns, decisions, contact interactions, and contact notes.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "muninn.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- serialization helpers ---

// isoTime renders an epoch second as a UTC RFC3339 string. The ISO columns
// are projections of the integer columns, never the source of truth.
func isoTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func marshalMap(op string, m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", &StorageError{Op: op, Err: err}
	}
	return string(b), nil
}

func marshalList(op string, l []string) (string, error) {
	if l == nil {
		l = []string{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return "", &StorageError{Op: op, Err: err}
	}
	return string(b), nil
}

func unmarshalMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func unmarshalList(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var l []string
	if err := json.Unmarshal([]byte(s.String), &l); err != nil {
		return nil, err
	}
	if len(l) == 0 {
		return nil, nil
	}
	return l, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- Events ---

const eventColumns = `id, timestamp, timestamp_iso, event_type, data, description, embedding_id, metadata, created_at, created_at_iso`

// InsertEvent appends an event and returns its id. Timestamp defaults to now
// when zero; created_at is always stamped at call time.
func (s *Store) InsertEvent(e Event) (int64, error) {
	if e.EventType == "" {
		return 0, &ValidationError{Field: "event_type", Reason: "required"}
	}
	if e.Description == "" {
		return 0, &ValidationError{Field: "description", Reason: "required"}
	}

	now := time.Now().Unix()
	if e.Timestamp == 0 {
		e.Timestamp = now
	}
	data, err := marshalMap("encoding event data", e.Data)
	if err != nil {
		return 0, err
	}
	meta, err := marshalMap("encoding event metadata", e.Metadata)
	if err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`
		INSERT INTO events (timestamp, timestamp_iso, event_type, data, description, embedding_id, metadata, created_at, created_at_iso)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, isoTime(e.Timestamp), e.EventType, data, e.Description,
		nullable(e.EmbeddingID), meta, now, isoTime(now),
	)
	if err != nil {
		return 0, &StorageError{Op: "inserting event", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "reading event id", Err: err}
	}
	return id, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var e Event
	var tsISO, data, embeddingID, meta, createdISO sql.NullString
	if err := rows.Scan(&e.ID, &e.Timestamp, &tsISO, &e.EventType, &data, &e.Description, &embeddingID, &meta, &e.CreatedAt, &createdISO); err != nil {
		return Event{}, err
	}
	e.TimestampISO = tsISO.String
	e.CreatedAtISO = createdISO.String
	e.EmbeddingID = embeddingID.String

	var err error
	if e.Data, err = unmarshalMap(data); err != nil {
		return Event{}, fmt.Errorf("decoding event %d data: %w", e.ID, err)
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	if e.Metadata, err = unmarshalMap(meta); err != nil {
		return Event{}, fmt.Errorf("decoding event %d metadata: %w", e.ID, err)
	}
	return e, nil
}

func (s *Store) queryEventRows(query string, args ...any) ([]Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "querying events", Err: err}
	}
	defer rows.Close()

	results := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// RecentEvents returns the newest events, optionally restricted to one type.
// A non-positive limit yields an empty result.
func (s *Store) RecentEvents(limit int, eventType string) ([]Event, error) {
	if limit <= 0 {
		return []Event{}, nil
	}
	if eventType != "" {
		return s.queryEventRows(`SELECT `+eventColumns+` FROM events
			WHERE event_type = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, eventType, limit)
	}
	return s.queryEventRows(`SELECT `+eventColumns+` FROM events
		ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// QueryEvents returns events matching every set filter field (conjunctive),
// newest first. Time bounds are inclusive.
func (s *Store) QueryEvents(f EventFilter) ([]Event, error) {
	if f.Limit <= 0 {
		return []Event{}, nil
	}

	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	args := []any{}
	if f.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	if f.StartTime != 0 {
		query += " AND timestamp >= ?"
		args = append(args, f.StartTime)
	}
	if f.EndTime != 0 {
		query += " AND timestamp <= ?"
		args = append(args, f.EndTime)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, f.Limit)

	return s.queryEventRows(query, args...)
}

// UnindexedEvents returns events whose semantic write never completed.
func (s *Store) UnindexedEvents() ([]Event, error) {
	return s.queryEventRows(`SELECT ` + eventColumns + ` FROM events
		WHERE embedding_id IS NULL ORDER BY id ASC`)
}

// SetEventEmbeddingID links an event row to its vector entry. This is the
// only in-place write events receive.
func (s *Store) SetEventEmbeddingID(id int64, embeddingID string) error {
	return s.setEmbeddingID("events", id, embeddingID)
}

func (s *Store) setEmbeddingID(table string, id int64, embeddingID string) error {
	res, err := s.db.Exec(`UPDATE `+table+` SET embedding_id = ? WHERE id = ?`, embeddingID, id)
	if err != nil {
		return &StorageError{Op: "linking embedding", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "linking embedding", Err: err}
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Patterns ---

const patternColumns = `id, pattern_type, description, confidence, occurrence_count, first_seen, first_seen_iso, last_seen, last_seen_iso, data, created_at, created_at_iso`

// InsertPattern appends a pattern. Confidence is stored exactly as given;
// callers own its scale and bounds.
func (s *Store) InsertPattern(p Pattern) (int64, error) {
	if p.PatternType == "" {
		return 0, &ValidationError{Field: "pattern_type", Reason: "required"}
	}
	if p.Description == "" {
		return 0, &ValidationError{Field: "description", Reason: "required"}
	}

	now := time.Now().Unix()
	if p.FirstSeen == 0 {
		p.FirstSeen = now
	}
	if p.LastSeen == 0 {
		p.LastSeen = now
	}
	if p.OccurrenceCount <= 0 {
		p.OccurrenceCount = 1
	}
	data, err := marshalMap("encoding pattern data", p.Data)
	if err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`
		INSERT INTO patterns (pattern_type, description, confidence, occurrence_count, first_seen, first_seen_iso, last_seen, last_seen_iso, data, created_at, created_at_iso)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PatternType, p.Description, p.Confidence, p.OccurrenceCount,
		p.FirstSeen, isoTime(p.FirstSeen), p.LastSeen, isoTime(p.LastSeen),
		data, now, isoTime(now),
	)
	if err != nil {
		return 0, &StorageError{Op: "inserting pattern", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "reading pattern id", Err: err}
	}
	return id, nil
}

// Patterns returns patterns at or above minConfidence, optionally restricted
// to one type, strongest first (confidence, then occurrence count).
func (s *Store) Patterns(patternType string, minConfidence float64) ([]Pattern, error) {
	query := `SELECT ` + patternColumns + ` FROM patterns WHERE confidence >= ?`
	args := []any{minConfidence}
	if patternType != "" {
		query += " AND pattern_type = ?"
		args = append(args, patternType)
	}
	query += " ORDER BY confidence DESC, occurrence_count DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "querying patterns", Err: err}
	}
	defer rows.Close()

	results := []Pattern{}
	for rows.Next() {
		var p Pattern
		var firstISO, lastISO, data, createdISO sql.NullString
		if err := rows.Scan(&p.ID, &p.PatternType, &p.Description, &p.Confidence, &p.OccurrenceCount,
			&p.FirstSeen, &firstISO, &p.LastSeen, &lastISO, &data, &p.CreatedAt, &createdISO); err != nil {
			return nil, err
		}
		p.FirstSeenISO = firstISO.String
		p.LastSeenISO = lastISO.String
		p.CreatedAtISO = createdISO.String
		if p.Data, err = unmarshalMap(data); err != nil {
			return nil, fmt.Errorf("decoding pattern %d data: %w", p.ID, err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Decisions ---

const decisionColumns = `id, timestamp, timestamp_iso, action, reasoning, context, outcome, success, embedding_id, created_at, created_at_iso`

// InsertDecision appends a decision. Success stays NULL until an outcome is
// known; a nil pointer preserves that tri-state.
func (s *Store) InsertDecision(d Decision) (int64, error) {
	if d.Action == "" {
		return 0, &ValidationError{Field: "action", Reason: "required"}
	}
	if d.Reasoning == "" {
		return 0, &ValidationError{Field: "reasoning", Reason: "required"}
	}

	now := time.Now().Unix()
	if d.Timestamp == 0 {
		d.Timestamp = now
	}
	ctxJSON, err := marshalMap("encoding decision context", d.Context)
	if err != nil {
		return 0, err
	}

	var success any
	if d.Success != nil {
		success = *d.Success
	}

	res, err := s.db.Exec(`
		INSERT INTO decisions (timestamp, timestamp_iso, action, reasoning, context, outcome, success, embedding_id, created_at, created_at_iso)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp, isoTime(d.Timestamp), d.Action, d.Reasoning, ctxJSON,
		nullable(d.Outcome), success, nullable(d.EmbeddingID), now, isoTime(now),
	)
	if err != nil {
		return 0, &StorageError{Op: "inserting decision", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "reading decision id", Err: err}
	}
	return id, nil
}

func (s *Store) queryDecisionRows(query string, args ...any) ([]Decision, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "querying decisions", Err: err}
	}
	defer rows.Close()

	results := []Decision{}
	for rows.Next() {
		var d Decision
		var tsISO, ctxJSON, outcome, embeddingID, createdISO sql.NullString
		var success sql.NullBool
		if err := rows.Scan(&d.ID, &d.Timestamp, &tsISO, &d.Action, &d.Reasoning, &ctxJSON,
			&outcome, &success, &embeddingID, &d.CreatedAt, &createdISO); err != nil {
			return nil, err
		}
		d.TimestampISO = tsISO.String
		d.Outcome = outcome.String
		d.EmbeddingID = embeddingID.String
		d.CreatedAtISO = createdISO.String
		if success.Valid {
			v := success.Bool
			d.Success = &v
		}
		var err error
		if d.Context, err = unmarshalMap(ctxJSON); err != nil {
			return nil, fmt.Errorf("decoding decision %d context: %w", d.ID, err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// RecentDecisions returns the newest decisions. A non-positive limit yields
// an empty result.
func (s *Store) RecentDecisions(limit int) ([]Decision, error) {
	if limit <= 0 {
		return []Decision{}, nil
	}
	return s.queryDecisionRows(`SELECT `+decisionColumns+` FROM decisions
		ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// UnindexedDecisions returns decisions whose semantic write never completed.
func (s *Store) UnindexedDecisions() ([]Decision, error) {
	return s.queryDecisionRows(`SELECT ` + decisionColumns + ` FROM decisions
		WHERE embedding_id IS NULL ORDER BY id ASC`)
}

// SetDecisionEmbeddingID links a decision row to its vector entry.
func (s *Store) SetDecisionEmbeddingID(id int64, embeddingID string) error {
	return s.setEmbeddingID("decisions", id, embeddingID)
}

// --- Interactions ---

const interactionColumns = `id, timestamp, timestamp_iso, contact_email, interaction_type, subject, summary, topics, action_items, sentiment, notes, embedding_id, metadata, created_at, created_at_iso`

// InsertInteraction appends a contact interaction and returns its id.
func (s *Store) InsertInteraction(i Interaction) (int64, error) {
	if i.ContactEmail == "" {
		return 0, &ValidationError{Field: "contact_email", Reason: "required"}
	}
	if i.InteractionType == "" {
		return 0, &ValidationError{Field: "interaction_type", Reason: "required"}
	}
	if i.Summary == "" {
		return 0, &ValidationError{Field: "summary", Reason: "required"}
	}

	now := time.Now().Unix()
	if i.Timestamp == 0 {
		i.Timestamp = now
	}
	topics, err := marshalList("encoding interaction topics", i.Topics)
	if err != nil {
		return 0, err
	}
	actionItems, err := marshalList("encoding interaction action items", i.ActionItems)
	if err != nil {
		return 0, err
	}
	meta, err := marshalMap("encoding interaction metadata", i.Metadata)
	if err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`
		INSERT INTO interactions (timestamp, timestamp_iso, contact_email, interaction_type, subject, summary, topics, action_items, sentiment, notes, embedding_id, metadata, created_at, created_at_iso)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.Timestamp, isoTime(i.Timestamp), i.ContactEmail, i.InteractionType,
		nullable(i.Subject), i.Summary, topics, actionItems,
		nullable(i.Sentiment), nullable(i.Notes), nullable(i.EmbeddingID),
		meta, now, isoTime(now),
	)
	if err != nil {
		return 0, &StorageError{Op: "inserting interaction", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "reading interaction id", Err: err}
	}
	return id, nil
}

func (s *Store) queryInteractionRows(query string, args ...any) ([]Interaction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "querying interactions", Err: err}
	}
	defer rows.Close()

	results := []Interaction{}
	for rows.Next() {
		var i Interaction
		var tsISO, subject, topics, actionItems, sentiment, notes, embeddingID, meta, createdISO sql.NullString
		if err := rows.Scan(&i.ID, &i.Timestamp, &tsISO, &i.ContactEmail, &i.InteractionType,
			&subject, &i.Summary, &topics, &actionItems, &sentiment, &notes,
			&embeddingID, &meta, &i.CreatedAt, &createdISO); err != nil {
			return nil, err
		}
		i.TimestampISO = tsISO.String
		i.Subject = subject.String
		i.Sentiment = sentiment.String
		i.Notes = notes.String
		i.EmbeddingID = embeddingID.String
		i.CreatedAtISO = createdISO.String
		var err error
		if i.Topics, err = unmarshalList(topics); err != nil {
			return nil, fmt.Errorf("decoding interaction %d topics: %w", i.ID, err)
		}
		if i.ActionItems, err = unmarshalList(actionItems); err != nil {
			return nil, fmt.Errorf("decoding interaction %d action items: %w", i.ID, err)
		}
		if i.Metadata, err = unmarshalMap(meta); err != nil {
			return nil, fmt.Errorf("decoding interaction %d metadata: %w", i.ID, err)
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

// RecentInteractions returns the newest interactions across all contacts.
func (s *Store) RecentInteractions(limit int) ([]Interaction, error) {
	if limit <= 0 {
		return []Interaction{}, nil
	}
	return s.queryInteractionRows(`SELECT `+interactionColumns+` FROM interactions
		ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// QueryInteractions returns interactions matching every set filter field
// (conjunctive), newest first. Time bounds are inclusive.
func (s *Store) QueryInteractions(f InteractionFilter) ([]Interaction, error) {
	if f.Limit <= 0 {
		return []Interaction{}, nil
	}

	query := `SELECT ` + interactionColumns + ` FROM interactions WHERE 1=1`
	args := []any{}
	if f.ContactEmail != "" {
		query += " AND contact_email = ?"
		args = append(args, f.ContactEmail)
	}
	if f.InteractionType != "" {
		query += " AND interaction_type = ?"
		args = append(args, f.InteractionType)
	}
	if f.StartTime != 0 {
		query += " AND timestamp >= ?"
		args = append(args, f.StartTime)
	}
	if f.EndTime != 0 {
		query += " AND timestamp <= ?"
		args = append(args, f.EndTime)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, f.Limit)

	return s.queryInteractionRows(query, args...)
}

// UnindexedInteractions returns interactions whose semantic write never completed.
func (s *Store) UnindexedInteractions() ([]Interaction, error) {
	return s.queryInteractionRows(`SELECT ` + interactionColumns + ` FROM interactions
		WHERE embedding_id IS NULL ORDER BY id ASC`)
}

// SetInteractionEmbeddingID links an interaction row to its vector entry.
func (s *Store) SetInteractionEmbeddingID(id int64, embeddingID string) error {
	return s.setEmbeddingID("interactions", id, embeddingID)
}

// --- Contact notes ---

const contactNoteColumns = `id, timestamp, timestamp_iso, contact_email, note_text, tags, metadata, created_at, created_at_iso`

// InsertContactNote appends a note about a contact.
func (s *Store) InsertContactNote(n ContactNote) (int64, error) {
	if n.ContactEmail == "" {
		return 0, &ValidationError{Field: "contact_email", Reason: "required"}
	}
	if n.NoteText == "" {
		return 0, &ValidationError{Field: "note_text", Reason: "required"}
	}

	now := time.Now().Unix()
	if n.Timestamp == 0 {
		n.Timestamp = now
	}
	tags, err := marshalList("encoding note tags", n.Tags)
	if err != nil {
		return 0, err
	}
	meta, err := marshalMap("encoding note metadata", n.Metadata)
	if err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`
		INSERT INTO contact_notes (timestamp, timestamp_iso, contact_email, note_text, tags, metadata, created_at, created_at_iso)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Timestamp, isoTime(n.Timestamp), n.ContactEmail, n.NoteText,
		tags, meta, now, isoTime(now),
	)
	if err != nil {
		return 0, &StorageError{Op: "inserting contact note", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "reading contact note id", Err: err}
	}
	return id, nil
}

// ContactNotes returns notes newest first, across all contacts when
// contactEmail is empty.
func (s *Store) ContactNotes(contactEmail string, limit int) ([]ContactNote, error) {
	if limit <= 0 {
		return []ContactNote{}, nil
	}

	query := `SELECT ` + contactNoteColumns + ` FROM contact_notes`
	args := []any{}
	if contactEmail != "" {
		query += " WHERE contact_email = ?"
		args = append(args, contactEmail)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "querying contact notes", Err: err}
	}
	defer rows.Close()

	results := []ContactNote{}
	for rows.Next() {
		var n ContactNote
		var tsISO, tags, meta, createdISO sql.NullString
		if err := rows.Scan(&n.ID, &n.Timestamp, &tsISO, &n.ContactEmail, &n.NoteText,
			&tags, &meta, &n.CreatedAt, &createdISO); err != nil {
			return nil, err
		}
		n.TimestampISO = tsISO.String
		n.CreatedAtISO = createdISO.String
		if n.Tags, err = unmarshalList(tags); err != nil {
			return nil, fmt.Errorf("decoding note %d tags: %w", n.ID, err)
		}
		if n.Metadata, err = unmarshalMap(meta); err != nil {
			return nil, fmt.Errorf("decoding note %d metadata: %w", n.ID, err)
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// --- Timeline and statistics ---

// ContactTimeline merges a contact's interactions and notes, newest first,
// each side capped at limit.
func (s *Store) ContactTimeline(contactEmail string, limit int) (ContactTimeline, error) {
	if contactEmail == "" {
		return ContactTimeline{}, &ValidationError{Field: "contact_email", Reason: "required"}
	}
	if limit <= 0 {
		limit = 50
	}

	interactions, err := s.QueryInteractions(InteractionFilter{ContactEmail: contactEmail, Limit: limit})
	if err != nil {
		return ContactTimeline{}, err
	}
	notes, err := s.ContactNotes(contactEmail, limit)
	if err != nil {
		return ContactTimeline{}, err
	}

	return ContactTimeline{
		ContactEmail:      contactEmail,
		Interactions:      interactions,
		Notes:             notes,
		TotalInteractions: len(interactions),
		TotalNotes:        len(notes),
	}, nil
}

// Statistics computes counts for every record kind inside one read
// transaction, so the returned numbers describe a single point in time.
func (s *Store) Statistics() (Statistics, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Statistics{}, &StorageError{Op: "beginning statistics transaction", Err: err}
	}
	defer tx.Rollback()

	stats := Statistics{
		EventsByType:       map[string]int{},
		InteractionsByType: map[string]int{},
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM events", &stats.TotalEvents},
		{"SELECT COUNT(*) FROM patterns", &stats.TotalPatterns},
		{"SELECT COUNT(*) FROM decisions", &stats.TotalDecisions},
		{"SELECT COUNT(*) FROM decisions WHERE success = 1", &stats.SuccessfulDecisions},
		{"SELECT COUNT(*) FROM interactions", &stats.TotalInteractions},
		{"SELECT COUNT(*) FROM contact_notes", &stats.TotalContactNotes},
		{"SELECT COUNT(DISTINCT contact_email) FROM interactions", &stats.ContactsWithInteractions},
	}
	for _, c := range counts {
		if err := tx.QueryRow(c.query).Scan(c.dest); err != nil {
			return Statistics{}, &StorageError{Op: "counting records", Err: err}
		}
	}

	groups := []struct {
		query string
		dest  map[string]int
	}{
		{"SELECT event_type, COUNT(*) FROM events GROUP BY event_type", stats.EventsByType},
		{"SELECT interaction_type, COUNT(*) FROM interactions GROUP BY interaction_type", stats.InteractionsByType},
	}
	for _, g := range groups {
		rows, err := tx.Query(g.query)
		if err != nil {
			return Statistics{}, &StorageError{Op: "grouping records", Err: err}
		}
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return Statistics{}, &StorageError{Op: "grouping records", Err: err}
			}
			g.dest[key] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return Statistics{}, &StorageError{Op: "grouping records", Err: err}
		}
		rows.Close()
	}

	return stats, nil
}
