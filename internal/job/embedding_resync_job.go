package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/admitrag/internal/ai"
	"github.com/xxxsen/admitrag/internal/repo"
)

// EmbeddingResyncJob backfills qa pairs whose embedding is missing, one
// batch per tick. Rows that keep failing are retried on the next tick.
type EmbeddingResyncJob struct {
	qa       *repo.QaPairRepo
	embedder ai.IEmbedder
	batch    int
}

func NewEmbeddingResyncJob(qa *repo.QaPairRepo, embedder ai.IEmbedder, batch int) *EmbeddingResyncJob {
	if batch <= 0 {
		batch = 32
	}
	return &EmbeddingResyncJob{qa: qa, embedder: embedder, batch: batch}
}

func (j *EmbeddingResyncJob) Name() string {
	return "embedding_resync"
}

func (j *EmbeddingResyncJob) Run(ctx context.Context) error {
	pairs, err := j.qa.ListMissingEmbedding(ctx, j.batch)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}
	logger := logutil.GetLogger(ctx)
	synced := 0
	for _, pair := range pairs {
		vec, err := j.embedder.Embed(ctx, pair.Question)
		if err != nil {
			logger.Warn("embed qa pair failed", zap.Int64("id", pair.ID), zap.Error(err))
			continue
		}
		if err := j.qa.UpdateEmbedding(ctx, pair.ID, vec); err != nil {
			return err
		}
		synced++
	}
	logger.Info("embedding resync batch done", zap.Int("found", len(pairs)), zap.Int("synced", synced))
	return nil
}
