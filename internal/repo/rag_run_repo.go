package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/admitrag/internal/model"
)

type RagRunRepo struct {
	db *sql.DB
}

func NewRagRunRepo(db *sql.DB) *RagRunRepo {
	return &RagRunRepo{db: db}
}

// Create writes the run row and its hit audit rows in one transaction, so a
// run record either exists completely or not at all.
func (r *RagRunRepo) Create(ctx context.Context, run *model.RagRun, hits []model.RagRunHit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	run.Ctime = time.Now().UnixMilli()
	const runQuery = `
		INSERT INTO rag_runs (
			id, ctime, question_text, retriever_top_k, similarity_threshold,
			distance_metric, context_text, final_prompt_text, model_name,
			temperature, answer_text, usage_prompt_tokens,
			usage_completion_tokens, usage_total_tokens, cost_usd,
			latency_ms_total, latency_ms_embedding, latency_ms_retrieval,
			latency_ms_llm
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	if _, err := tx.ExecContext(ctx, runQuery,
		run.ID, run.Ctime, run.QuestionText, run.RetrieverTopK, run.SimilarityThreshold,
		run.DistanceMetric, run.ContextText, run.FinalPromptText, run.ModelName,
		run.Temperature, run.AnswerText, run.UsagePromptTokens,
		run.UsageCompletionTokens, run.UsageTotalTokens, run.CostUSD,
		run.LatencyMSTotal, run.LatencyMSEmbedding, run.LatencyMSRetrieval,
		run.LatencyMSLLM,
	); err != nil {
		return fmt.Errorf("insert rag run: %w", err)
	}

	const hitQuery = `
		INSERT INTO rag_run_hits (rag_run_id, rank, qa_pair_id, distance, similarity, used_in_context)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, hit := range hits {
		if _, err := tx.ExecContext(ctx, hitQuery,
			run.ID, hit.Rank, hit.QaPairID, hit.Distance, hit.Similarity, hit.UsedInContext,
		); err != nil {
			return fmt.Errorf("insert rag run hit: %w", err)
		}
	}
	return tx.Commit()
}
