// Package store provides highlight persistence: a local SQLite store and a
// remote HTTP client, both implementing highlight.Store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dmelnik/readmark/internal/anchor"
	"github.com/dmelnik/readmark/internal/highlight"
)

// SQLite stores highlight records in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the highlight database at path and
// runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS highlights (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			section_id TEXT NOT NULL,
			chapter_id TEXT,
			start_path TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_path TEXT NOT NULL,
			end_offset INTEGER NOT NULL,
			text TEXT NOT NULL,
			color TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_utc TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_highlights_doc_section
			ON highlights(document_id, section_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate highlights: %w", err)
		}
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, documentID, sectionID string) ([]highlight.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, section_id, chapter_id, start_path, start_offset,
			end_path, end_offset, text, color, note, created_utc
		 FROM highlights WHERE document_id = ? AND section_id = ?
		 ORDER BY created_utc, id`, documentID, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLite) ListDocument(ctx context.Context, documentID string) ([]highlight.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, section_id, chapter_id, start_path, start_offset,
			end_path, end_offset, text, color, note, created_utc
		 FROM highlights WHERE document_id = ?
		 ORDER BY section_id, created_utc, id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document highlights: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLite) Create(ctx context.Context, rec highlight.Record) (highlight.Record, error) {
	if rec.ID == "" {
		rec.ID = highlight.NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO highlights (id, document_id, section_id, chapter_id, start_path,
			start_offset, end_path, end_offset, text, color, note, created_utc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DocumentID, rec.Range.SectionID, rec.Range.ChapterID,
		rec.Range.Start, rec.Range.StartOffset, rec.Range.End, rec.Range.EndOffset,
		rec.Range.Text, rec.Color, rec.Note, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return highlight.Record{}, fmt.Errorf("insert highlight: %w", err)
	}
	return rec, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete highlight: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateColor(ctx context.Context, id, color string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE highlights SET color = ? WHERE id = ?`, color, id)
	if err != nil {
		return fmt.Errorf("update highlight color: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("highlight %s not found", id)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]highlight.Record, error) {
	var out []highlight.Record
	for rows.Next() {
		var rec highlight.Record
		var rng anchor.TextRange
		var created string
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rng.SectionID, &rng.ChapterID,
			&rng.Start, &rng.StartOffset, &rng.End, &rng.EndOffset,
			&rng.Text, &rec.Color, &rec.Note, &created); err != nil {
			return nil, fmt.Errorf("scan highlight: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = ts
		}
		rec.Range = rng
		out = append(out, rec)
	}
	return out, rows.Err()
}
