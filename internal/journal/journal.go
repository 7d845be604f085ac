// Package journal persists routed utterances to SQLite so past dispatches
// and fallbacks can be reviewed with "okpi history".
package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/normanking/okpi/internal/bus"
)

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// Outcome tells whether an utterance reached a skill.
type Outcome string

const (
	OutcomeMatched  Outcome = "matched"
	OutcomeFallback Outcome = "fallback"
)

// Entry is one routed utterance.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	SessionID string            `json:"session_id,omitempty"`
	Outcome   Outcome           `json:"outcome"`
	Text      string            `json:"text"`
	Skill     string            `json:"skill,omitempty"`
	Template  string            `json:"template,omitempty"`
	Slots     map[string]string `json:"slots,omitempty"`
	Score     int               `json:"score"`
}

// FromEvent converts a routing event. It reports false for other event types.
func FromEvent(e bus.Event) (Entry, bool) {
	var outcome Outcome
	switch e.Type {
	case bus.EventUtteranceMatched:
		outcome = OutcomeMatched
	case bus.EventUtteranceFallback:
		outcome = OutcomeFallback
	default:
		return Entry{}, false
	}
	return Entry{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
		Outcome:   outcome,
		Text:      e.Text,
		Skill:     e.Skill,
		Template:  e.Template,
		Slots:     e.Slots,
		Score:     e.Score,
	}, true
}

// Journal is a SQLite-backed dispatch log.
type Journal struct {
	db  *sql.DB
	mu  sync.RWMutex
	log zerolog.Logger

	subs []bus.SubscriptionID
	bus  *bus.Bus
}

// Open opens or creates the journal at path. The parent directory is
// created if needed; MemoryPath opens a throwaway database.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: path is empty")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one connection keeps :memory: databases shared and writes serialized
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &Journal{
		db:  db,
		log: log.With().Str("component", "journal").Logger(),
	}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatches (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		utterance TEXT NOT NULL,
		skill TEXT NOT NULL DEFAULT '',
		template TEXT NOT NULL DEFAULT '',
		slots TEXT NOT NULL DEFAULT '{}',
		score INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dispatches_created_at ON dispatches(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_dispatches_skill ON dispatches(skill);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record stores e. Entries with an existing ID are ignored.
func (j *Journal) Record(e Entry) error {
	if e.ID == "" {
		return errors.New("journal: entry id is empty")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	slots := e.Slots
	if slots == nil {
		slots = map[string]string{}
	}
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("marshal slots: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	query := `
	INSERT INTO dispatches (id, session_id, outcome, utterance, skill, template, slots, score, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`
	_, err = j.db.Exec(query,
		e.ID,
		e.SessionID,
		string(e.Outcome),
		e.Text,
		e.Skill,
		e.Template,
		string(slotsJSON),
		e.Score,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	query := `
	SELECT id, session_id, outcome, utterance, skill, template, slots, score, created_at
	FROM dispatches
	ORDER BY created_at DESC, rowid DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			outcome   string
			slotsJSON string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &outcome, &e.Text, &e.Skill, &e.Template, &slotsJSON, &e.Score, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		e.Outcome = Outcome(outcome)
		if err := json.Unmarshal([]byte(slotsJSON), &e.Slots); err != nil {
			return nil, fmt.Errorf("unmarshal slots: %w", err)
		}
		if len(e.Slots) == 0 {
			e.Slots = nil
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries per outcome.
func (j *Journal) Count() (map[Outcome]int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.Query(`SELECT outcome, COUNT(*) FROM dispatches GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count dispatches: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Attach records every routing event published on b until Close.
func (j *Journal) Attach(b *bus.Bus) error {
	handler := func(e bus.Event) {
		entry, ok := FromEvent(e)
		if !ok {
			return
		}
		if err := j.Record(entry); err != nil {
			j.log.Warn().Err(err).Str("utterance", entry.Text).Msg("journal write failed")
		}
	}

	for _, t := range []bus.EventType{bus.EventUtteranceMatched, bus.EventUtteranceFallback} {
		id, err := b.Subscribe(t, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
		j.mu.Lock()
		j.subs = append(j.subs, id)
		j.bus = b
		j.mu.Unlock()
	}
	return nil
}

// Close detaches from the bus and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	subs, b := j.subs, j.bus
	j.subs, j.bus = nil, nil
	j.mu.Unlock()

	for _, id := range subs {
		_ = b.Unsubscribe(id)
	}
	return j.db.Close()
}
