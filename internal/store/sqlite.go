package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fpang/ai-deck-builder/internal/deck"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// SQLiteStore implements DeckStore on a local SQLite file. Slides are kept
// as JSON documents keyed by deck and position.
type SQLiteStore struct {
	db *sql.DB
}

var _ DeckStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	theme TEXT NOT NULL DEFAULT '',
	background_image TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS slides (
	deck_id TEXT NOT NULL REFERENCES decks(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	slide_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (deck_id, position)
);
CREATE INDEX IF NOT EXISTS idx_decks_updated_at ON decks(updated_at);`

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	log.Debug().Str("path", path).Msg("SQLite deck store ready")
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutDeck(ctx context.Context, d deck.Deck) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	created, updated := d.CreatedAt, d.UpdatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if updated.IsZero() {
		updated = created
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO decks (id, title, theme, background_image, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			theme = excluded.theme,
			background_image = excluded.background_image,
			updated_at = excluded.updated_at`,
		d.ID, d.Title, d.Theme, d.BackgroundImage, created.UTC(), updated.UTC())
	if err != nil {
		return fmt.Errorf("upsert deck %s: %w", d.ID, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM slides WHERE deck_id = ?`, d.ID); err != nil {
		return fmt.Errorf("clear slides of %s: %w", d.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO slides (deck_id, position, slide_id, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare slide insert: %w", err)
	}
	defer stmt.Close()
	for i, sl := range d.Slides {
		payload, mErr := json.Marshal(sl)
		if mErr != nil {
			err = fmt.Errorf("marshal slide %s: %w", sl.ID, mErr)
			return err
		}
		if _, err = stmt.ExecContext(ctx, d.ID, i, sl.ID, string(payload)); err != nil {
			return fmt.Errorf("insert slide %s: %w", sl.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit deck %s: %w", d.ID, err)
	}
	log.Debug().Str("deckId", d.ID).Int("slides", len(d.Slides)).Msg("Deck persisted to SQLite")
	return nil
}

func (s *SQLiteStore) GetDeck(ctx context.Context, id string) (*deck.Deck, error) {
	d := deck.Deck{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT title, theme, background_image, created_at, updated_at FROM decks WHERE id = ?`, id).
		Scan(&d.Title, &d.Theme, &d.BackgroundImage, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deck %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM slides WHERE deck_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("get slides of %s: %w", id, err)
	}
	defer rows.Close()
	d.Slides = []deck.Slide{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan slide: %w", err)
		}
		var sl deck.Slide
		if err := json.Unmarshal([]byte(payload), &sl); err != nil {
			return nil, fmt.Errorf("decode slide of %s: %w", id, err)
		}
		d.Slides = append(d.Slides, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slides of %s: %w", id, err)
	}
	return &d, nil
}

func (s *SQLiteStore) ListDecks(ctx context.Context) ([]DeckSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.theme, d.updated_at, COUNT(s.position)
		FROM decks d LEFT JOIN slides s ON s.deck_id = d.id
		GROUP BY d.id
		ORDER BY d.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	defer rows.Close()

	var out []DeckSummary
	for rows.Next() {
		var sum DeckSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Theme, &sum.UpdatedAt, &sum.Slides); err != nil {
			return nil, fmt.Errorf("scan deck summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteDeck(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM decks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete deck %s: %w", id, err)
	}
	return nil
}
