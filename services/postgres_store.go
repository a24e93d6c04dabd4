package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// RunStore persists completed protocol runs.
type RunStore interface {
	SaveRun(ctx context.Context, record *RunRecord) error
	ListRuns(ctx context.Context) ([]*RunRecord, error)
	Close() error
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresStore implements RunStore with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database, verifies connectivity, and applies
// the schema.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id BIGSERIAL PRIMARY KEY,
		seed BIGINT NOT NULL,
		world_size INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS run_verdicts (
		run_id BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		rank INTEGER NOT NULL,
		identifier VARCHAR(512) NOT NULL,
		value BIGINT NOT NULL,
		verdict VARCHAR(8) NOT NULL,
		PRIMARY KEY (run_id, rank)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun persists a run and its per-rank verdicts in one transaction.
func (s *PostgresStore) SaveRun(ctx context.Context, record *RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var runID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO runs (seed, world_size, success, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, int64(record.Seed), record.WorldSize, record.Success, record.StartedAt).Scan(&runID)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, v := range record.Verdicts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_verdicts (run_id, rank, identifier, value, verdict)
			VALUES ($1, $2, $3, $4, $5)
		`, runID, v.Rank, v.Identifier, int64(v.Value), v.Verdict)
		if err != nil {
			return fmt.Errorf("inserting verdict for rank %d: %w", v.Rank, err)
		}
	}

	record.ID = runID
	return tx.Commit()
}

// ListRuns retrieves all persisted runs, newest first, with their verdicts.
func (s *PostgresStore) ListRuns(ctx context.Context) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seed, world_size, success, started_at
		FROM runs
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	byID := make(map[int64]*RunRecord)
	for rows.Next() {
		var record RunRecord
		var seed int64
		if err := rows.Scan(&record.ID, &seed, &record.WorldSize, &record.Success, &record.StartedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		record.Seed = uint64(seed)
		runs = append(runs, &record)
		byID[record.ID] = &record
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	verdictRows, err := s.db.QueryContext(ctx, `
		SELECT run_id, rank, identifier, value, verdict
		FROM run_verdicts
		ORDER BY run_id, rank
	`)
	if err != nil {
		return nil, err
	}
	defer verdictRows.Close()

	for verdictRows.Next() {
		var runID int64
		var v RankVerdict
		var value int64
		if err := verdictRows.Scan(&runID, &v.Rank, &v.Identifier, &value, &v.Verdict); err != nil {
			return nil, fmt.Errorf("scanning verdict: %w", err)
		}
		v.Value = uint64(value)
		if record, ok := byID[runID]; ok {
			record.Verdicts = append(record.Verdicts, &v)
		}
	}
	return runs, verdictRows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InMemoryStore implements RunStore for testing without a database.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	runs   map[int64]*RunRecord
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1, runs: make(map[int64]*RunRecord)}
}

// SaveRun stores a run in memory.
func (s *InMemoryStore) SaveRun(ctx context.Context, record *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = s.nextID
	s.nextID++
	s.runs[record.ID] = record
	return nil
}

// ListRuns returns all stored runs, newest first.
func (s *InMemoryStore) ListRuns(ctx context.Context) ([]*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]*RunRecord, 0, len(s.runs))
	for _, record := range s.runs {
		runs = append(runs, record)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
