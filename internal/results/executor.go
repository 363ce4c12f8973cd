package results

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/pkg/logger"
)

type Store interface {
	QueryAnalytics(ctx context.Context, sql string) ([]string, [][]interface{}, error)
}

// Executor runs already-validated SQL against the analytical store with a
// bounded per-query timeout. It never receives unvalidated text.
type Executor struct {
	store   Store
	timeout time.Duration
}

func NewExecutor(store Store, timeoutSec int) *Executor {
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &Executor{store: store, timeout: time.Duration(timeoutSec) * time.Second}
}

func (e *Executor) Execute(ctx context.Context, sqlText string) ([]string, [][]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	columns, rows, err := e.store.QueryAnalytics(ctx, sqlText)
	if err != nil {
		return nil, nil, fmt.Errorf("analytical query failed: %w", err)
	}

	logger.Debug("Analytical query executed",
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return columns, rows, nil
}
