package feedback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/internal/metrics"
	"github.com/cnbv-agent/backend/internal/vector/milvus"
	"github.com/cnbv-agent/backend/pkg/logger"
)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type ExampleIndex interface {
	UpsertExample(ctx context.Context, ex milvus.Example) error
}

type JobConfig struct {
	Interval            time.Duration
	BatchSize           int
	MinAge              time.Duration
	Retention           time.Duration
	ConfidenceThreshold float64
	Confidence          ConfidenceConfig
}

// Job is the scheduled promotion loop: it moves high-confidence successful
// queries into the learned-examples collection and purges expired records.
// It owns its own timer and never runs two cycles at once.
type Job struct {
	store    LogStore
	embedder Embedder
	index    ExampleIndex
	cfg      JobConfig

	running sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

func NewJob(store LogStore, embedder Embedder, index ExampleIndex, cfg JobConfig) *Job {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.MinAge == 0 {
		cfg.MinAge = 24 * time.Hour
	}
	if cfg.Retention == 0 {
		cfg.Retention = 180 * 24 * time.Hour
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.75
	}

	return &Job{
		store:    store,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (j *Job) Start() {
	go func() {
		defer close(j.done)

		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()

		logger.Info("Feedback promotion job started",
			zap.Duration("interval", j.cfg.Interval),
			zap.Int("batch_size", j.cfg.BatchSize),
		)

		for {
			select {
			case <-j.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), j.cfg.Interval/2)
				j.RunOnce(ctx)
				cancel()
			}
		}
	}()
}

func (j *Job) Stop() {
	close(j.stop)
	<-j.done
}

// RunOnce executes one promotion cycle. The mutex makes cycles single-flight:
// a slow index cannot cause overlapping runs and duplicate embedding calls.
func (j *Job) RunOnce(ctx context.Context) {
	if !j.running.TryLock() {
		logger.Warn("Promotion cycle still running, skipping this tick")
		return
	}
	defer j.running.Unlock()

	cutoff := time.Now().Add(-j.cfg.MinAge)
	candidates, err := j.store.PromotionCandidates(cutoff, j.cfg.BatchSize)
	if err != nil {
		logger.Error("Failed to load promotion candidates", zap.Error(err))
		return
	}

	promoted := 0
	for _, record := range candidates {
		select {
		case <-ctx.Done():
			logger.Warn("Promotion cycle cancelled", zap.Int("promoted", promoted))
			return
		default:
		}

		confidence := Confidence(record.LatencyMS, time.Since(record.CreatedAt), j.cfg.Confidence)
		if confidence < j.cfg.ConfidenceThreshold {
			continue
		}

		if err := j.promote(ctx, record.ID, record.QueryText, record.SQL, record.Metric, record.Bank); err != nil {
			// Leave the record unseeded; the next cycle retries it.
			logger.Warn("Promotion failed, will retry next cycle",
				zap.String("query_id", record.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.PromotionsTotal.Inc()
		promoted++
	}

	purged, err := j.store.PurgeOldRecords(time.Now().Add(-j.cfg.Retention))
	if err != nil {
		logger.Error("Retention purge failed", zap.Error(err))
	}

	if promoted > 0 || purged > 0 {
		logger.Info("Promotion cycle finished",
			zap.Int("candidates", len(candidates)),
			zap.Int("promoted", promoted),
			zap.Int64("purged", purged),
		)
	}
}

func (j *Job) promote(ctx context.Context, queryID, text, sqlText, metric, bank string) error {
	embedding, err := j.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return err
	}

	// Keyed by query id, so re-promoting after a partial failure replaces
	// the same entry instead of duplicating it.
	err = j.index.UpsertExample(ctx, milvus.Example{
		ID:        "learned:" + queryID,
		Embedding: embedding,
		Question:  text,
		SQL:       sqlText,
		Metric:    metric,
		Bank:      bank,
		Learned:   true,
	})
	if err != nil {
		return err
	}

	flipped, err := j.store.MarkSeeded(queryID)
	if err != nil {
		return err
	}
	if !flipped {
		// Another run already seeded it; the upsert above was a no-op
		// replacement, which is exactly the idempotence we rely on.
		logger.Debug("Record already seeded", zap.String("query_id", queryID))
	}

	return nil
}
