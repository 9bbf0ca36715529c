package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/proctor"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists violations in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// One writer; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Save inserts one violation.
func (s *SQLiteStore) Save(ctx context.Context, v proctor.Violation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO violations (id, session_id, subject_id, exam_code, label, label_name, confidence, emitted_at, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.SessionID.String(), v.SubjectID, v.ExamCode,
		int(v.Label), v.LabelName, v.Confidence, v.EmittedAt.UnixNano(), string(v.Source),
	)
	if err != nil {
		return fmt.Errorf("store: insert violation: %w", err)
	}
	return nil
}

func where(f Filter) (string, []any) {
	var clauses []string
	var args []any
	if f.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.SubjectID != "" {
		clauses = append(clauses, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.ExamCode != "" {
		clauses = append(clauses, "exam_code = ?")
		args = append(args, f.ExamCode)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "emitted_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns matching violations, oldest first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]proctor.Violation, error) {
	cond, args := where(f)
	q := `SELECT id, session_id, subject_id, exam_code, label, label_name, confidence, emitted_at, source
	      FROM violations` + cond + ` ORDER BY emitted_at, rowid`
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query violations: %w", err)
	}
	defer rows.Close()

	var out []proctor.Violation
	for rows.Next() {
		var (
			v                 proctor.Violation
			id, sessionID     string
			label             int
			emittedAtUnixNano int64
			source            string
		)
		if err := rows.Scan(&id, &sessionID, &v.SubjectID, &v.ExamCode, &label, &v.LabelName, &v.Confidence, &emittedAtUnixNano, &source); err != nil {
			return nil, fmt.Errorf("store: scan violation: %w", err)
		}
		if v.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: bad violation id %q: %w", id, err)
		}
		if v.SessionID, err = uuid.Parse(sessionID); err != nil {
			return nil, fmt.Errorf("store: bad session id %q: %w", sessionID, err)
		}
		v.Label = behavior.Label(label)
		v.EmittedAt = time.Unix(0, emittedAtUnixNano).UTC()
		v.Source = proctor.Source(source)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountByLabel returns matching counts keyed by label name.
func (s *SQLiteStore) CountByLabel(ctx context.Context, f Filter) (map[string]int64, error) {
	cond, args := where(f)
	rows, err := s.db.QueryContext(ctx, `SELECT label, COUNT(*) FROM violations`+cond+` GROUP BY label`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: count violations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var label int
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("store: scan count: %w", err)
		}
		counts[labelName(label)] = n
	}
	return counts, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// OnViolation implements proctor.Sink.
func (s *SQLiteStore) OnViolation(ctx context.Context, v proctor.Violation) error {
	return s.Save(ctx, v)
}

// Open returns a SQLite store for a non-empty path, otherwise a memory store.
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	s, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
