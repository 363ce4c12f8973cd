package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/internal/storage/models"
	"github.com/cnbv-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// InitSchema creates the query-log table. The analytical table monthly_kpis is
// owned by the external ETL process and is never created or written here.
func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_log (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		generated_sql TEXT,
		metric TEXT,
		bank TEXT,
		latency_ms INTEGER,
		success INTEGER NOT NULL DEFAULT 0,
		seeded_to_rag INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_log_created ON query_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_query_log_seeded ON query_log(seeded_to_rag, success, created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// QueryAnalytics runs an already-validated read-only SELECT against the
// analytical table and returns column names plus normalized row values.
func (c *Client) QueryAnalytics(ctx context.Context, query string) ([]string, [][]interface{}, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute analytical query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var result [][]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result = append(result, values)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("row iteration failed: %w", err)
	}

	return columns, result, nil
}

func (c *Client) InsertQueryLog(record *models.QueryLogRecord) error {
	query := `
		INSERT INTO query_log (id, query_text, generated_sql, metric, bank, latency_ms, success, seeded_to_rag, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`

	success := 0
	if record.Success {
		success = 1
	}

	_, err := c.db.Exec(
		query,
		record.ID,
		record.QueryText,
		record.SQL,
		record.Metric,
		record.Bank,
		record.LatencyMS,
		success,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query log record: %w", err)
	}

	logger.Debug("Query outcome logged",
		zap.String("query_id", record.ID),
		zap.Bool("success", record.Success),
	)

	return nil
}

// PromotionCandidates returns unseeded successful records created before the
// cutoff, oldest first, bounded by limit.
func (c *Client) PromotionCandidates(cutoff time.Time, limit int) ([]models.QueryLogRecord, error) {
	query := `
		SELECT id, query_text, generated_sql, metric, bank, latency_ms, success, seeded_to_rag, created_at
		FROM query_log
		WHERE seeded_to_rag = 0 AND success = 1 AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := c.db.Query(query, cutoff.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select promotion candidates: %w", err)
	}
	defer rows.Close()

	var records []models.QueryLogRecord
	for rows.Next() {
		var r models.QueryLogRecord
		var success, seeded int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.QueryText, &r.SQL, &r.Metric, &r.Bank, &r.LatencyMS, &success, &seeded, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Success = success == 1
		r.SeededToRAG = seeded == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

// MarkSeeded flips seeded_to_rag false->true. The conditional WHERE makes the
// transition a no-op when another run already seeded the record.
func (c *Client) MarkSeeded(queryID string) (bool, error) {
	res, err := c.db.Exec(
		`UPDATE query_log SET seeded_to_rag = 1 WHERE id = ? AND seeded_to_rag = 0`,
		queryID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark record seeded: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

// PurgeOldRecords deletes records older than the cutoff regardless of seeding
// state and returns how many were removed.
func (c *Client) PurgeOldRecords(cutoff time.Time) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM query_log WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge old records: %w", err)
	}

	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if purged > 0 {
		logger.Info("Purged expired query log records", zap.Int64("count", purged))
	}

	return purged, nil
}
