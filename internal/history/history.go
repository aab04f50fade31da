// Package history keeps a durable record of conversion runs in a SQLite
// database, with the build subprocess transcripts stored alongside as
// xz-compressed files.
//
// The SQLite driver is pure Go (modernc.org/sqlite) by default; build
// with -tags cgo_sqlite to use mattn/go-sqlite3 instead.
package history

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/planforge/planforge/core/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	source_path   TEXT NOT NULL,
	source_blake3 TEXT NOT NULL DEFAULT '',
	output_path   TEXT NOT NULL DEFAULT '',
	stage         TEXT NOT NULL DEFAULT '',
	kind          TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Record is one persisted conversion run.
type Record struct {
	ID           string
	SourcePath   string
	SourceBLAKE3 string // hex blake3 of the source image, "" when unreadable
	OutputPath   string // artifact path, "" on failure
	Stage        string // failing stage, "" on success
	Kind         string // failure kind, "" on success
	Message      string // failure diagnostic, "" on success
	DurationMS   int64
	CreatedAt    time.Time
}

// Succeeded reports whether the recorded run produced an artifact.
func (r *Record) Succeeded() bool {
	return r.Kind == ""
}

// Store persists run records under a directory: history.db plus a
// transcripts/ subdirectory.
type Store struct {
	db  *sql.DB
	dir string
}

// Open opens (creating if needed) the history store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "transcripts"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open(driverName, filepath.Join(dir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}

	return &Store{db: db, dir: dir}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists the terminal result of run id and its transcript.
func (s *Store) RecordRun(id string, req pipeline.Request, result *pipeline.Result) (*Record, error) {
	rec := &Record{
		ID:           id,
		SourcePath:   req.SourceImagePath,
		SourceBLAKE3: hashFile(req.SourceImagePath),
		OutputPath:   result.OutputPath,
		DurationMS:   result.Duration.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if result.Failure != nil {
		rec.Stage = string(result.Failure.Stage)
		rec.Kind = string(result.Failure.Kind)
		rec.Message = result.Failure.Message
	}

	_, err := s.db.Exec(`INSERT INTO runs
		(id, source_path, source_blake3, output_path, stage, kind, message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SourcePath, rec.SourceBLAKE3, rec.OutputPath,
		rec.Stage, rec.Kind, rec.Message, rec.DurationMS,
		rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to insert run record: %w", err)
	}

	if result.Transcript.Stdout != "" || result.Transcript.Stderr != "" {
		if err := s.writeTranscript(id, result.Transcript); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

// Get returns the record for a run ID.
func (s *Store) Get(id string) (*Record, error) {
	row := s.db.QueryRow(`SELECT id, source_path, source_blake3, output_path,
		stage, kind, message, duration_ms, created_at FROM runs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return rec, err
}

// List returns the most recent records, newest first.
func (s *Store) List(limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, source_path, source_blake3, output_path,
		stage, kind, message, duration_ms, created_at FROM runs
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountBySource returns how many runs exist for a given source hash.
// Lets callers surface same-image duplicate conversions.
func (s *Store) CountBySource(sourceBlake3 string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE source_blake3 = ?`, sourceBlake3).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var createdAt string
	err := s.Scan(&rec.ID, &rec.SourcePath, &rec.SourceBLAKE3, &rec.OutputPath,
		&rec.Stage, &rec.Kind, &rec.Message, &rec.DurationMS, &createdAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}

// transcriptPath returns the on-disk location of a run's transcript.
func (s *Store) transcriptPath(id string) string {
	return filepath.Join(s.dir, "transcripts", id+".log.xz")
}

// writeTranscript stores the build output xz-compressed.
func (s *Store) writeTranscript(id string, tr pipeline.Transcript) error {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err := io.WriteString(w, "--- stdout ---\n"+tr.Stdout+"\n--- stderr ---\n"+tr.Stderr+"\n"); err != nil {
		return fmt.Errorf("failed to compress transcript: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish transcript: %w", err)
	}

	if err := os.WriteFile(s.transcriptPath(id), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// Transcript returns the decompressed build output for a run, or "" when
// none was stored.
func (s *Store) Transcript(id string) (string, error) {
	data, err := os.ReadFile(s.transcriptPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read transcript: %w", err)
	}

	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to open transcript: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to decompress transcript: %w", err)
	}
	return string(out), nil
}

// hashFile returns the hex blake3 of a file, or "" when it cannot be
// read. Hashing is best-effort; a missing source never fails a record.
func hashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
