package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/ismart-scholar/workbench/internal/models"
)

// HistoryEntry is one row of the local upload results ledger.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	ProjectID  int64     `json:"projectId"`
	FileName   string    `json:"fileName"`
	PaperID    int64     `json:"paperId"`
	AnalysisID int64     `json:"analysisId"`
	Title      string    `json:"title,omitempty"`
	Author     string    `json:"author,omitempty"`
	Year       string    `json:"year,omitempty"`
	Message    string    `json:"message,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// DuckStore implements Store on a DuckDB file and also keeps a ledger of
// completed uploads that can be queried with History.
type DuckStore struct {
	db     *sql.DB
	dbPath string
}

// NewDuckStore opens or creates a DuckDB database at dbPath.
func NewDuckStore(dbPath string) (*DuckStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key   VARCHAR PRIMARY KEY,
			value BLOB NOT NULL
		)`,
		`CREATE SEQUENCE IF NOT EXISTS upload_results_seq`,
		`CREATE TABLE IF NOT EXISTS upload_results (
			id          BIGINT PRIMARY KEY DEFAULT nextval('upload_results_seq'),
			project_id  BIGINT NOT NULL,
			file_name   VARCHAR NOT NULL,
			paper_id    BIGINT,
			analysis_id BIGINT,
			title       VARCHAR,
			author      VARCHAR,
			year        VARCHAR,
			message     VARCHAR,
			recorded_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &DuckStore{db: db, dbPath: dbPath}, nil
}

// Get returns the value stored under key.
func (ds *DuckStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := ds.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading key %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key.
func (ds *DuckStore) Set(key string, value []byte) error {
	if _, err := ds.db.Exec(`INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (ds *DuckStore) Delete(key string) error {
	if _, err := ds.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// RecordResult appends a completed upload to the ledger.
func (ds *DuckStore) RecordResult(ctx context.Context, projectID int64, res models.UploadResult) error {
	_, err := ds.db.ExecContext(ctx, `
		INSERT INTO upload_results
			(project_id, file_name, paper_id, analysis_id, title, author, year, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		projectID, res.FileName, res.PaperID, res.AnalysisID,
		string(res.Metadata.Title), string(res.Metadata.Author), string(res.Metadata.Year),
		res.Message, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording result for %s: %w", res.FileName, err)
	}
	return nil
}

// History returns the newest ledger rows first. projectID 0 means every project;
// limit <= 0 means no limit.
func (ds *DuckStore) History(ctx context.Context, projectID int64, limit int) ([]HistoryEntry, error) {
	query := `SELECT id, project_id, file_name, paper_id, analysis_id,
		COALESCE(title, ''), COALESCE(author, ''), COALESCE(year, ''), COALESCE(message, ''), recorded_at
		FROM upload_results`
	var args []interface{}
	if projectID != 0 {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var paperID, analysisID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.FileName, &paperID, &analysisID,
			&e.Title, &e.Author, &e.Year, &e.Message, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		e.PaperID = paperID.Int64
		e.AnalysisID = analysisID.Int64
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Path returns the database file location.
func (ds *DuckStore) Path() string {
	return ds.dbPath
}

// Close closes the database. The file is kept.
func (ds *DuckStore) Close() error {
	if ds.db != nil {
		return ds.db.Close()
	}
	return nil
}
