// Package storage persists reviewed documents and their suggestions in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/redliner/internal/redline"
)

// ErrNotFound is returned when no document has the requested ID.
var ErrNotFound = errors.New("document not found")

// Repository stores Document records together with their suggestions.
type Repository interface {
	Save(ctx context.Context, doc *redline.Document) error
	Load(ctx context.Context, id string) (*redline.Document, error)
	List(ctx context.Context, offset, limit int) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Summary is a document listing entry without content.
type Summary struct {
	ID          string           `json:"id"`
	Metadata    redline.Metadata `json:"metadata"`
	Suggestions int              `json:"suggestions"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// SQLiteStore implements Repository on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the database at path and initializes the schema.
// Parent directories are created if needed. ":memory:" is accepted.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		original_content TEXT NOT NULL,
		current_content TEXT NOT NULL,
		metadata TEXT NOT NULL,
		position_map TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS suggestions (
		document_id TEXT NOT NULL,
		id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		start_pos INTEGER NOT NULL,
		end_pos INTEGER NOT NULL,
		original_text TEXT NOT NULL,
		suggested_text TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		explanation TEXT NOT NULL,
		confidence REAL,
		verification_status TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		alternative_urls TEXT,
		applied INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (document_id, id),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_suggestions_document ON suggestions(document_id, ordinal);
	`
	_, err := db.Exec(schema)
	return err
}

// Save writes doc and replaces its stored suggestions in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, doc *redline.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var positionJSON sql.NullString
	if doc.PositionMap != nil {
		b, err := json.Marshal(doc.PositionMap)
		if err != nil {
			return fmt.Errorf("marshal position map: %w", err)
		}
		positionJSON = sql.NullString{String: string(b), Valid: true}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, original_content, current_content, metadata, position_map, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			original_content = excluded.original_content,
			current_content = excluded.current_content,
			metadata = excluded.metadata,
			position_map = excluded.position_map,
			updated_at = excluded.updated_at`,
		doc.ID, doc.OriginalContent, doc.CurrentContent, string(metadataJSON), positionJSON,
		doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM suggestions WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear suggestions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO suggestions (document_id, id, ordinal, start_pos, end_pos, original_text, suggested_text,
			type, severity, status, explanation, confidence, verification_status, source_url, alternative_urls, applied)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, sg := range doc.Suggestions {
		var confidence sql.NullFloat64
		if sg.Confidence != nil {
			confidence = sql.NullFloat64{Float64: *sg.Confidence, Valid: true}
		}
		var alts sql.NullString
		if len(sg.AlternativeURLs) > 0 {
			b, _ := json.Marshal(sg.AlternativeURLs)
			alts = sql.NullString{String: string(b), Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			doc.ID, sg.ID, i, sg.StartPos, sg.EndPos, sg.OriginalText, sg.SuggestedText,
			string(sg.Type), string(sg.Severity), string(sg.Status), sg.Explanation, confidence,
			sg.VerificationStatus, sg.SourceURL, alts, sg.Applied,
		)
		if err != nil {
			return fmt.Errorf("save suggestion %s: %w", sg.ID, err)
		}
	}
	return tx.Commit()
}

// Load returns the document with its suggestions in stored order.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*redline.Document, error) {
	var doc redline.Document
	var metadataJSON string
	var positionJSON sql.NullString
	var created, updated int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, original_content, current_content, metadata, position_map, created_at, updated_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.OriginalContent, &doc.CurrentContent, &metadataJSON, &positionJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	doc.CreatedAt = time.Unix(0, created)
	doc.UpdatedAt = time.Unix(0, updated)

	if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if positionJSON.Valid {
		if err := json.Unmarshal([]byte(positionJSON.String), &doc.PositionMap); err != nil {
			return nil, fmt.Errorf("unmarshal position map: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_pos, end_pos, original_text, suggested_text, type, severity, status,
			explanation, confidence, verification_status, source_url, alternative_urls, applied
		 FROM suggestions WHERE document_id = ? ORDER BY ordinal`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	doc.Suggestions = []redline.Suggestion{}
	for rows.Next() {
		var sg redline.Suggestion
		var typ, sev, status string
		var confidence sql.NullFloat64
		var alts sql.NullString
		if err := rows.Scan(&sg.ID, &sg.StartPos, &sg.EndPos, &sg.OriginalText, &sg.SuggestedText,
			&typ, &sev, &status, &sg.Explanation, &confidence, &sg.VerificationStatus, &sg.SourceURL,
			&alts, &sg.Applied); err != nil {
			return nil, err
		}
		sg.Type = redline.SuggestionType(typ)
		sg.Severity = redline.Severity(sev)
		sg.Status = redline.Status(status)
		if confidence.Valid {
			c := confidence.Float64
			sg.Confidence = &c
		}
		if alts.Valid {
			if err := json.Unmarshal([]byte(alts.String), &sg.AlternativeURLs); err != nil {
				return nil, fmt.Errorf("unmarshal alternative urls of %s: %w", sg.ID, err)
			}
		}
		doc.Suggestions = append(doc.Suggestions, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List returns summaries ordered by most recent update.
func (s *SQLiteStore) List(ctx context.Context, offset, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.metadata, d.created_at, d.updated_at,
			(SELECT COUNT(*) FROM suggestions WHERE document_id = d.id)
		 FROM documents d ORDER BY d.updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var metadataJSON string
		var created, updated int64
		if err := rows.Scan(&sum.ID, &metadataJSON, &created, &updated, &sum.Suggestions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metadataJSON), &sum.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata of %s: %w", sum.ID, err)
		}
		sum.CreatedAt = time.Unix(0, created)
		sum.UpdatedAt = time.Unix(0, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a document and its suggestions.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
