// Package archive persists explicitly saved session transcripts in
// sqlite with full-text search over their flattened text.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/charla-ai/charla/internal/interfaces"
)

// ErrNotFound means no transcript exists with the requested id.
var ErrNotFound = errors.New("transcript not found")

// Transcript is a saved copy of one session's history.
type Transcript struct {
	ID        int64             `json:"id"`
	SessionID string            `json:"session_id"`
	SavedAt   time.Time         `json:"saved_at"`
	TurnCount int               `json:"turn_count"`
	Turns     []interfaces.Turn `json:"turns,omitempty"`
}

// SearchHit is one full-text match.
type SearchHit struct {
	Transcript
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// Archive is the transcript store.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the archive database at path.
func Open(path string, logger *slog.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open db: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: wal mode: %w", err)
	}

	a := &Archive{
		db:     db,
		logger: logger.With("component", "archive"),
	}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return a, nil
}

// migrate creates tables on first run.
func (a *Archive) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcripts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			saved_at   INTEGER NOT NULL,
			turn_count INTEGER NOT NULL,
			turns_json TEXT NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS transcripts_fts USING fts5(
			session_id, content
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Save stores a snapshot of the given turns. Saving the same session
// again creates a new transcript; snapshots are never merged.
func (a *Archive) Save(ctx context.Context, sessionID string, turns []interfaces.Turn) (*Transcript, error) {
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("archive: marshal turns: %w", err)
	}
	savedAt := time.Now()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, saved_at, turn_count, turns_json) VALUES(?, ?, ?, ?)`,
		sessionID, savedAt.Unix(), len(turns), string(turnsJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: insert transcript: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transcripts_fts(rowid, session_id, content) VALUES(?, ?, ?)`,
		id, sessionID, flattenTurns(turns),
	); err != nil {
		return nil, fmt.Errorf("archive: index transcript: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	a.logger.Info("transcript saved",
		"archive_id", id, "session", sessionID, "turns", len(turns))
	return &Transcript{
		ID:        id,
		SessionID: sessionID,
		SavedAt:   savedAt,
		TurnCount: len(turns),
		Turns:     turns,
	}, nil
}

// List returns the most recent transcripts without their turns.
func (a *Archive) List(ctx context.Context, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, session_id, saved_at, turn_count
		 FROM transcripts
		 ORDER BY saved_at DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var t Transcript
		var savedAt int64
		if err := rows.Scan(&t.ID, &t.SessionID, &savedAt, &t.TurnCount); err != nil {
			return nil, err
		}
		t.SavedAt = time.Unix(savedAt, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get returns one transcript with its full turn list.
func (a *Archive) Get(ctx context.Context, id int64) (*Transcript, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, session_id, saved_at, turn_count, turns_json FROM transcripts WHERE id = ?`, id)

	var t Transcript
	var savedAt int64
	var turnsJSON string
	if err := row.Scan(&t.ID, &t.SessionID, &savedAt, &t.TurnCount, &turnsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archive: get %d: %w", id, err)
	}
	t.SavedAt = time.Unix(savedAt, 0)
	if err := json.Unmarshal([]byte(turnsJSON), &t.Turns); err != nil {
		return nil, fmt.Errorf("archive: decode turns: %w", err)
	}
	return &t, nil
}

// Search performs BM25-ranked full-text search over archived transcripts.
func (a *Archive) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT t.id, t.session_id, t.saved_at, t.turn_count,
		        bm25(transcripts_fts),
		        snippet(transcripts_fts, 1, '[', ']', '...', 16)
		 FROM transcripts_fts
		 JOIN transcripts t ON t.id = transcripts_fts.rowid
		 WHERE transcripts_fts MATCH ?
		 ORDER BY bm25(transcripts_fts)
		 LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var savedAt int64
		var bm25Score float64
		if err := rows.Scan(&h.ID, &h.SessionID, &savedAt, &h.TurnCount, &bm25Score, &h.Snippet); err != nil {
			return nil, err
		}
		h.SavedAt = time.Unix(savedAt, 0)
		// BM25 returns negative scores (lower = better), invert for ranking
		h.Score = -bm25Score
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// flattenTurns projects a history into the plain text the FTS index sees:
// user and model text, tool names, tool-result payloads.
func flattenTurns(turns []interfaces.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		if turn.Text != "" {
			b.WriteString(turn.Text)
			b.WriteByte('\n')
		}
		for _, call := range turn.Calls {
			b.WriteString(call.Name)
			b.WriteByte('\n')
		}
		if turn.Result != nil && turn.Result.Content != "" {
			b.WriteString(turn.Result.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
