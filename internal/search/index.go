// Package search maintains the full-text index over the fragment library.
//
// The index is derived data: it can be deleted and rebuilt from the
// fragments at any time, which is also how schema migrations work. Open
// reports when the caller must run Rebuild.
package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/NeverlandYao/iknow/internal/storage/content"
	"github.com/maruel/ksid"
	_ "modernc.org/sqlite"
)

// schemaVersion is bumped whenever the FTS table layout changes. A
// mismatch on Open drops and recreates the schema, forcing a rebuild.
const schemaVersion = "1"

// Hit is a single ranked search result.
type Hit struct {
	FragmentID ksid.ID `json:"fragment_id"`
	Title      string  `json:"title"`
	// Snippet is an excerpt of the best matching column with matches
	// wrapped in <mark> tags.
	Snippet string `json:"snippet"`
	// Rank is the bm25 score, lower is better.
	Rank float64 `json:"rank"`
}

// Index is the SQLite FTS5 index over fragment titles, bodies and tags.
// Pipeline-created fragments carry the OCR-extracted text as their body,
// so recognized text is searchable through the same columns.
type Index struct {
	db *sql.DB
}

// Open opens or creates the index at path. The second return value
// reports whether the caller must Rebuild: true for a fresh database and
// after a schema version bump.
func Open(path string) (*Index, bool, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": {"journal_mode(WAL)", "busy_timeout(5000)", "synchronous(NORMAL)"},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open search index: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between writers; reads
	// are quick enough to share it.
	db.SetMaxOpenConns(1)

	needsRebuild, err := ensureSchema(db)
	if err != nil {
		db.Close()
		return nil, false, err
	}
	return &Index{db: db}, needsRebuild, nil
}

func ensureSchema(db *sql.DB) (bool, error) {
	var version string
	err := db.QueryRow(`SELECT value FROM index_meta WHERE key = 'schema_version'`).Scan(&version)
	if err == nil && version == schemaVersion {
		return false, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) && !isMissingTable(err) {
		return false, fmt.Errorf("failed to read index schema version: %w", err)
	}

	stmts := []string{
		`DROP TABLE IF EXISTS fragments_fts`,
		`DROP TABLE IF EXISTS index_meta`,
		`CREATE VIRTUAL TABLE fragments_fts USING fts5(
			title, body, tags,
			tokenize = 'porter unicode61'
		)`,
		`CREATE TABLE index_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`INSERT INTO index_meta (key, value) VALUES ('schema_version', '` + schemaVersion + `')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return false, fmt.Errorf("failed to create index schema: %w", err)
		}
	}
	return true, nil
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Index inserts or replaces a fragment in the index. The fragment ID is
// the FTS rowid, so replacement is a delete plus insert.
func (ix *Index) Index(f *content.Fragment) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to index fragment: %w", err)
	}
	defer tx.Rollback()

	if err := indexInTx(tx, f); err != nil {
		return err
	}
	return tx.Commit()
}

func indexInTx(tx *sql.Tx, f *content.Fragment) error {
	if _, err := tx.Exec(`DELETE FROM fragments_fts WHERE rowid = ?`, int64(f.ID)); err != nil {
		return fmt.Errorf("failed to index fragment: %w", err)
	}
	_, err := tx.Exec(
		`INSERT INTO fragments_fts (rowid, title, body, tags) VALUES (?, ?, ?, ?)`,
		int64(f.ID), f.Title, PlainText(f.Content), strings.Join(f.Tags, " "),
	)
	if err != nil {
		return fmt.Errorf("failed to index fragment: %w", err)
	}
	return nil
}

// Remove deletes a fragment from the index. Removing an unindexed ID is
// a no-op.
func (ix *Index) Remove(id ksid.ID) error {
	if _, err := ix.db.Exec(`DELETE FROM fragments_fts WHERE rowid = ?`, int64(id)); err != nil {
		return fmt.Errorf("failed to remove fragment from index: %w", err)
	}
	return nil
}

// Query returns up to limit hits for q, best matches first. An empty or
// whitespace-only query returns no hits.
func (ix *Index) Query(q string, limit int) ([]Hit, error) {
	match := ftsQuery(q)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := ix.db.Query(
		`SELECT rowid, title, snippet(fragments_fts, -1, '<mark>', '</mark>', '…', 12), bm25(fragments_fts)
		 FROM fragments_fts WHERE fragments_fts MATCH ? ORDER BY rank LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var rowid int64
		if err := rows.Scan(&rowid, &h.Title, &h.Snippet, &h.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		h.FragmentID = ksid.ID(rowid)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Rebuild replaces the whole index with the given fragments.
func (ix *Index) Rebuild(ctx context.Context, fragments []*content.Fragment) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM fragments_fts`); err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	for _, f := range fragments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := indexInTx(tx, f); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ftsQuery turns free-form user input into an FTS5 MATCH expression.
// Every token is quoted so query syntax characters cannot break the
// statement; tokens are ANDed. Tokens without a letter or digit would
// tokenize to an empty phrase and are dropped.
func ftsQuery(q string) string {
	var b strings.Builder
	for _, f := range strings.Fields(q) {
		if !strings.ContainsFunc(f, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	return b.String()
}
