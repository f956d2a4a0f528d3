package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/storage/config"
	"github.com/xtxerr/metricstore/internal/storage/export"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// Service provides query capabilities over exported days.
// It uses DuckDB to query the Parquet files written by the export package.
type Service struct {
	mu sync.Mutex

	config *config.Config
	db     *sql.DB

	// Statistics
	stats ServiceStats
}

// RangeQuery selects the records of a bucket in [Start, End).
type RangeQuery struct {
	Bucket string
	Start  time.Time
	End    time.Time
	Limit  int
}

// MinuteCount is the number of records in one live slot.
type MinuteCount struct {
	Minute string `json:"minute"`
	Count  int64  `json:"count"`
}

// New creates a new query service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// Configure DuckDB
	if cfg.Query.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Query.MemoryLimit))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		config: cfg,
		db:     db,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// files returns the glob over a bucket's exports, or "" when there are none.
func (s *Service) files(bucket string) (string, error) {
	if _, ok := s.config.Bucket(bucket); !ok {
		return "", errors.NewBucketNotFound(bucket)
	}
	pattern := filepath.Join(s.config.ExportDir(bucket), "*.parquet")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", err
	}
	return pattern, nil
}

// limit clamps a requested limit to the configured maximum.
func (s *Service) limit(n int) int {
	maxRows := s.config.Query.MaxRows
	if maxRows <= 0 {
		return n
	}
	if n <= 0 || n > maxRows {
		return maxRows
	}
	return n
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Query.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Query.Timeout)
	}
	return context.WithCancel(ctx)
}

// Range returns the exported records of a bucket ordered by timestamp.
func (s *Service) Range(ctx context.Context, q RangeQuery) ([]types.StoredMetric, error) {
	pattern, err := s.files(q.Bucket)
	if err != nil || pattern == "" {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT timestamp_ms, minute, payload
		FROM read_parquet($1)
		WHERE timestamp_ms >= $2
		  AND timestamp_ms < $3
		ORDER BY timestamp_ms
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query,
		pattern,
		q.Start.UnixMilli(),
		q.End.UnixMilli(),
		s.limit(q.Limit),
	)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("query parquet: %w", err)
	}
	defer rows.Close()

	var results []types.StoredMetric
	for rows.Next() {
		var row export.Row
		if err := rows.Scan(&row.TimestampMs, &row.Minute, &row.Payload); err != nil {
			s.recordError()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		m, err := export.RowToMetric(row)
		if err != nil {
			s.recordError()
			return nil, err
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		s.recordError()
		return nil, err
	}

	s.record(len(results))
	return results, nil
}

// CountByMinute returns the number of exported records per live slot in
// the range, ordered by slot.
func (s *Service) CountByMinute(ctx context.Context, q RangeQuery) ([]MinuteCount, error) {
	pattern, err := s.files(q.Bucket)
	if err != nil || pattern == "" {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT minute, count(*) AS n
		FROM read_parquet($1)
		WHERE timestamp_ms >= $2
		  AND timestamp_ms < $3
		GROUP BY minute
		ORDER BY minute
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query,
		pattern,
		q.Start.UnixMilli(),
		q.End.UnixMilli(),
		s.limit(q.Limit),
	)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("query parquet: %w", err)
	}
	defer rows.Close()

	var results []MinuteCount
	for rows.Next() {
		var c MinuteCount
		if err := rows.Scan(&c.Minute, &c.Count); err != nil {
			s.recordError()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		s.recordError()
		return nil, err
	}

	s.record(len(results))
	return results, nil
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// This is useful for ad-hoc queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.recordError()
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.record(len(results))
	return results, rows.Err()
}

func (s *Service) record(rows int) {
	s.mu.Lock()
	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(rows)
	s.mu.Unlock()
}

func (s *Service) recordError() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}
