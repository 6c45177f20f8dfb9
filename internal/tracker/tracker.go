// Package tracker records model usage in a local sqlite database so an
// analyst can audit how many classification calls a session issued and how
// they performed.
package tracker

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/apple/ml-policy-projector/pkg/llm"
)

const schema = `
CREATE TABLE IF NOT EXISTS model_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model_name TEXT NOT NULL,
	operation TEXT NOT NULL,
	prompt_chars INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	success INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_model_usage_created_at ON model_usage (created_at);
`

// Stats summarizes recorded usage over a time window.
type Stats struct {
	TotalRequests      int            `json:"total_requests"`
	SuccessfulRequests int            `json:"successful_requests"`
	SuccessRate        float64        `json:"success_rate"`
	TotalPromptChars   int64          `json:"total_prompt_chars"`
	ByOperation        map[string]int `json:"by_operation"`
}

// Tracker persists llm.Usage records. It implements llm.Observer.
type Tracker struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the sqlite database at path and ensures the schema
// exists.
func Open(path string, logger *slog.Logger) (*Tracker, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create usage database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize usage schema: %w", err)
	}

	return &Tracker{
		db:     db,
		logger: logger.With("system", "tracker"),
	}, nil
}

// Close releases the underlying database handle.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// Observe records one model request. Failures to write are logged, never
// surfaced: usage tracking must not interfere with classification.
func (t *Tracker) Observe(u llm.Usage) {
	query := `
		INSERT INTO model_usage (model_name, operation, prompt_chars, duration_ms, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`

	var errMsg any
	if u.Error != "" {
		errMsg = u.Error
	}

	_, err := t.db.Exec(query,
		u.Model, u.Operation, u.PromptChars,
		u.Duration.Milliseconds(), u.Success, errMsg,
	)
	if err != nil {
		t.logger.Warn("failed to record model usage", "error", err)
	}
}

// UsageStats returns aggregate usage since the given time.
func (t *Tracker) UsageStats(since time.Time) (*Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN success = 1 THEN 1 END),
			COALESCE(SUM(prompt_chars), 0)
		FROM model_usage
		WHERE created_at >= ?`

	var stats Stats
	err := t.db.QueryRow(query, since.UTC()).Scan(
		&stats.TotalRequests, &stats.SuccessfulRequests, &stats.TotalPromptChars,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage stats: %w", err)
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}

	stats.ByOperation = make(map[string]int)
	rows, err := t.db.Query(`
		SELECT operation, COUNT(*)
		FROM model_usage
		WHERE created_at >= ?
		GROUP BY operation`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query usage breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var op string
		var count int
		if err := rows.Scan(&op, &count); err != nil {
			return nil, fmt.Errorf("failed to scan usage breakdown: %w", err)
		}
		stats.ByOperation[op] = count
	}
	return &stats, rows.Err()
}
