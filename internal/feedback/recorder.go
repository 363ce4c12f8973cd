package feedback

import (
	"time"

	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/internal/storage/models"
	"github.com/cnbv-agent/backend/pkg/logger"
)

type LogStore interface {
	InsertQueryLog(record *models.QueryLogRecord) error
	PromotionCandidates(cutoff time.Time, limit int) ([]models.QueryLogRecord, error)
	MarkSeeded(queryID string) (bool, error)
	PurgeOldRecords(cutoff time.Time) (int64, error)
}

// Recorder persists one QueryLogRecord per execution attempt, success or
// failure. Logging failures never surface to the user-facing path.
type Recorder struct {
	store LogStore
}

func NewRecorder(store LogStore) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) LogOutcome(queryID, queryText, sqlText, metric, bank string, latencyMS int, success bool) {
	record := &models.QueryLogRecord{
		ID:        queryID,
		QueryText: queryText,
		SQL:       sqlText,
		Metric:    metric,
		Bank:      bank,
		LatencyMS: latencyMS,
		Success:   success,
		CreatedAt: time.Now(),
	}

	if err := r.store.InsertQueryLog(record); err != nil {
		logger.Error("Failed to log query outcome",
			zap.String("query_id", queryID),
			zap.Error(err),
		)
	}
}
