package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// memoSize bounds the in-process lookup memo. Runs rarely exceed a few
// thousand instances, so hits stay in memory for the whole run.
const memoSize = 4096

// OutputRecord is one published artifact: its durable address and content
// hash. The hash lets a cache-resumed run fingerprint downstream instances
// without re-reading (or even being able to read) the artifact bytes.
type OutputRecord struct {
	Address string `json:"address"`
	SHA256  string `json:"sha256"`
}

// Record is the stored outcome of one task instance.
type Record struct {
	InstanceID  string
	Template    string
	Sample      string
	Fingerprint string
	Status      string // "completed" | "failed"
	Published   bool
	// Outputs maps artifact name to its published record, written at
	// publish time so a cache hit can replay artifacts onto downstream
	// channels without re-globbing scratch space.
	Outputs map[string]OutputRecord
}

// Store is the durable resume store, SQLite-backed with an LRU memo in
// front so repeated lookups within one run skip the database.
type Store struct {
	db   *sql.DB
	memo *lru.Cache[string, Record]
}

// Open creates or opens the resume store at path.
//
// SQLite is configured the same way for every open: WAL journaling for
// concurrent readers, NORMAL synchronous, a busy timeout for lock
// contention, and a single writer connection. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open resume store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect resume store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply resume store schema: %w", err)
	}

	memo, err := lru.New[string, Record](memoSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, memo: memo}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the stored record for an instance, if any.
func (s *Store) Lookup(ctx context.Context, instanceID string) (Record, bool, error) {
	if rec, ok := s.memo.Get(instanceID); ok {
		return rec, true, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT instance_id, template, sample, fingerprint, status, published, outputs_json
		FROM task_runs WHERE instance_id = ?`, instanceID)

	var rec Record
	var published int
	var outputsJSON string
	err := row.Scan(&rec.InstanceID, &rec.Template, &rec.Sample, &rec.Fingerprint, &rec.Status, &published, &outputsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup %s: %w", instanceID, err)
	}
	rec.Published = published != 0
	if err := json.Unmarshal([]byte(outputsJSON), &rec.Outputs); err != nil {
		return Record{}, false, fmt.Errorf("lookup %s: bad outputs json: %w", instanceID, err)
	}

	s.memo.Add(instanceID, rec)
	return rec, true, nil
}

// Hit reports whether the instance can be skipped: a completed, published
// record whose fingerprint matches the current one.
func (s *Store) Hit(ctx context.Context, instanceID, fingerprint string) (Record, bool, error) {
	rec, ok, err := s.Lookup(ctx, instanceID)
	if err != nil || !ok {
		return Record{}, false, err
	}
	if rec.Status != "completed" || !rec.Published || rec.Fingerprint != fingerprint {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Record upserts the outcome of an instance. Called on completion (with
// published outputs) and on failure (so a resumed run retries it: a failed
// record never satisfies Hit).
func (s *Store) Record(ctx context.Context, rec Record) error {
	outputsJSON, err := json.Marshal(rec.Outputs)
	if err != nil {
		return fmt.Errorf("record %s: %w", rec.InstanceID, err)
	}
	published := 0
	if rec.Published {
		published = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_runs (instance_id, template, sample, fingerprint, status, published, outputs_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(instance_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			published = excluded.published,
			outputs_json = excluded.outputs_json,
			updated_at = excluded.updated_at`,
		rec.InstanceID, rec.Template, rec.Sample, rec.Fingerprint, rec.Status, published, string(outputsJSON))
	if err != nil {
		return fmt.Errorf("record %s: %w", rec.InstanceID, err)
	}
	s.memo.Add(rec.InstanceID, rec)
	return nil
}

// MarkLoaded records a warehouse load for (instance, resultsType).
// Returns true if this call inserted the row, false if it was already
// loaded; the caller invokes the loader only on true, which is what makes
// the load exactly-once across resumes.
func (s *Store) MarkLoaded(ctx context.Context, instanceID, resultsType, tableID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO warehouse_loads (instance_id, results_type, table_id)
		VALUES (?, ?, ?)`, instanceID, resultsType, tableID)
	if err != nil {
		return false, fmt.Errorf("mark loaded %s/%s: %w", instanceID, resultsType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UnmarkLoaded removes a warehouse load record, compensating for a loader
// invocation that failed after MarkLoaded claimed it.
func (s *Store) UnmarkLoaded(ctx context.Context, instanceID, resultsType string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM warehouse_loads WHERE instance_id = ? AND results_type = ?`,
		instanceID, resultsType)
	if err != nil {
		return fmt.Errorf("unmark loaded %s/%s: %w", instanceID, resultsType, err)
	}
	return nil
}
