package trace

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a sqlite-backed Recorder. All calls recorded by one Store share
// a run id, so records from a single process can be pulled together later.
type Store struct {
	db       *sql.DB
	path     string
	runID    string
	maxBytes int64
}

// Open creates a Recorder from config: a NoOp when tracing is disabled,
// a sqlite Store otherwise. When RetentionH is set an hourly sweeper
// removes expired records in the background.
func Open(cfg Config) (Recorder, error) {
	if !cfg.Enabled {
		return NoOp{}, nil
	}

	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RetentionH > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				if err := store.Cleanup(time.Duration(cfg.RetentionH) * time.Hour); err != nil {
					log.Printf("trace: cleanup failed: %v", err)
				}
			}
		}()
	}

	return store, nil
}

// NewStore opens the sqlite database at cfg.Path and prepares the schema.
func NewStore(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening trace database: %w", err)
	}

	store := &Store{
		db:       db,
		path:     path,
		runID:    newRunID(),
		maxBytes: int64(cfg.MaxFileMB) * 1024 * 1024,
	}

	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating trace tables: %w", err)
	}
	return store, nil
}

func newRunID() string {
	return fmt.Sprintf("run_%d_%s", time.Now().Unix(), uuid.New().String()[:8])
}

func (s *Store) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS api_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		method TEXT NOT NULL,
		resource TEXT NOT NULL,
		params TEXT,
		result TEXT,
		error TEXT,
		duration_ms INTEGER DEFAULT 0,
		size_bytes INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_api_calls_run ON api_calls(run_id);
	CREATE INDEX IF NOT EXISTS idx_api_calls_timestamp ON api_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_api_calls_resource ON api_calls(resource);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT UNIQUE NOT NULL,
		start_time DATETIME NOT NULL,
		last_call DATETIME,
		total_calls INTEGER DEFAULT 0
	);`

	_, err := s.db.Exec(query)
	return err
}

// Record stores one API call. Params and result are marshalled to JSON;
// values that fail to marshal are recorded empty rather than failing the
// write.
func (s *Store) Record(method, resource string, params, result any, callErr error, d time.Duration) error {
	paramsJSON := marshalField(params)
	resultJSON := marshalField(result)

	errText := ""
	if callErr != nil {
		errText = callErr.Error()
	}

	sizeBytes := len(paramsJSON) + len(resultJSON) + len(errText) + len(method) + len(resource)

	if err := s.enforceSizeLimit(); err != nil {
		log.Printf("trace: size limit enforcement failed: %v", err)
	}

	query := `
	INSERT INTO api_calls (run_id, timestamp, method, resource, params, result, error, duration_ms, size_bytes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, s.runID, time.Now(), method, resource, paramsJSON, resultJSON, errText, d.Milliseconds(), sizeBytes)
	if err != nil {
		return fmt.Errorf("recording call: %w", err)
	}

	s.touchRun()
	return nil
}

func marshalField(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *Store) touchRun() {
	query := `
	INSERT INTO runs (run_id, start_time, last_call, total_calls)
	VALUES (?, ?, CURRENT_TIMESTAMP, 1)
	ON CONFLICT(run_id) DO UPDATE SET
		total_calls = total_calls + 1,
		last_call = CURRENT_TIMESTAMP`

	if _, err := s.db.Exec(query, s.runID, time.Now()); err != nil {
		log.Printf("trace: failed to update run: %v", err)
	}
}

func (s *Store) enforceSizeLimit() error {
	if s.maxBytes <= 0 {
		return nil
	}

	var totalSize int64
	if err := s.db.QueryRow("SELECT COALESCE(SUM(size_bytes), 0) FROM api_calls").Scan(&totalSize); err != nil {
		return err
	}

	if totalSize > s.maxBytes {
		// Drop the oldest fifth to make room.
		_, err := s.db.Exec(`
			DELETE FROM api_calls
			WHERE id IN (
				SELECT id FROM api_calls
				ORDER BY timestamp ASC
				LIMIT (SELECT COUNT(*) / 5 FROM api_calls)
			)`)
		return err
	}
	return nil
}

// Calls returns the most recent records, newest first.
func (s *Store) Calls(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryRecords(`
	SELECT id, run_id, timestamp, method, resource, params, result, error, duration_ms
	FROM api_calls ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// CallsByResource returns the most recent records for one API resource.
func (s *Store) CallsByResource(resource string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryRecords(`
	SELECT id, run_id, timestamp, method, resource, params, result, error, duration_ms
	FROM api_calls WHERE resource = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, resource, limit)
}

func (s *Store) queryRecords(query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("trace: failed to close rows: %v", err)
		}
	}()

	var records []Record
	for rows.Next() {
		var r Record
		err := rows.Scan(&r.ID, &r.RunID, &r.Timestamp, &r.Method, &r.Resource,
			&r.Params, &r.Result, &r.Error, &r.DurationMS)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats reports aggregate counters for the store.
func (s *Store) Stats() (map[string]any, error) {
	stats := map[string]any{
		"trace_enabled": true,
		"database_path": s.path,
		"run_id":        s.runID,
	}

	var totalCalls, totalRuns, totalSize int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM api_calls").Scan(&totalCalls); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&totalRuns); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COALESCE(SUM(size_bytes), 0) FROM api_calls").Scan(&totalSize); err != nil {
		return nil, err
	}

	stats["total_calls"] = totalCalls
	stats["total_runs"] = totalRuns
	stats["storage_bytes"] = totalSize
	return stats, nil
}

// Cleanup removes records older than maxAge.
func (s *Store) Cleanup(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	result, err := s.db.Exec("DELETE FROM api_calls WHERE timestamp < ?", cutoff)
	if err != nil {
		return err
	}
	if removed, _ := result.RowsAffected(); removed > 0 {
		log.Printf("trace: removed %d expired records", removed)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enabled reports that the store accepts records.
func (s *Store) Enabled() bool {
	return true
}
