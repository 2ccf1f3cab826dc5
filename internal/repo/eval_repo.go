package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xxxsen/admitrag/internal/model"
	"github.com/xxxsen/admitrag/internal/pkg/dbutil"
	appErr "github.com/xxxsen/admitrag/internal/pkg/errors"
)

type EvalRepo struct {
	db *sql.DB
}

func NewEvalRepo(db *sql.DB) *EvalRepo {
	return &EvalRepo{db: db}
}

func (r *EvalRepo) GetDatasetByName(ctx context.Context, name string) (*model.EvalDataset, error) {
	const query = `SELECT id, name, description, ctime FROM eval_datasets WHERE name = $1`
	var ds model.EvalDataset
	err := r.db.QueryRowContext(ctx, query, name).Scan(&ds.ID, &ds.Name, &ds.Description, &ds.Ctime)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func (r *EvalRepo) GetOrCreateDataset(ctx context.Context, name, description string) (*model.EvalDataset, error) {
	ds, err := r.GetDatasetByName(ctx, name)
	if err == nil {
		return ds, nil
	}
	if !appErr.IsNotFound(err) {
		return nil, err
	}
	const query = `
		INSERT INTO eval_datasets (name, description, ctime)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	created := &model.EvalDataset{Name: name, Description: description, Ctime: time.Now().UnixMilli()}
	err = r.db.QueryRowContext(ctx, query, name, description, created.Ctime).Scan(&created.ID)
	if dbutil.IsConflict(err) {
		// Lost the create race, the row exists now.
		return r.GetDatasetByName(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ReplaceCases swaps the full case set of a dataset in one transaction:
// delete then insert, never a merge.
func (r *EvalRepo) ReplaceCases(ctx context.Context, datasetID int64, cases []model.EvalCase) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM eval_cases WHERE dataset_id = $1`, datasetID); err != nil {
		return fmt.Errorf("delete old cases: %w", err)
	}
	if err := insertCases(ctx, tx, datasetID, cases); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *EvalRepo) AppendCases(ctx context.Context, datasetID int64, cases []model.EvalCase) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertCases(ctx, tx, datasetID, cases); err != nil {
		return err
	}
	return tx.Commit()
}

func insertCases(ctx context.Context, tx *sql.Tx, datasetID int64, cases []model.EvalCase) error {
	const query = `
		INSERT INTO eval_cases (dataset_id, case_id, question_text, ideal_answer_text, meta)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, c := range cases {
		if _, err := tx.ExecContext(ctx, query, datasetID, c.CaseID, c.QuestionText, c.IdealAnswerText, c.Meta); err != nil {
			return fmt.Errorf("insert case %d: %w", c.CaseID, err)
		}
	}
	return nil
}

func (r *EvalRepo) ListCases(ctx context.Context, datasetID int64) ([]model.EvalCase, error) {
	const query = `
		SELECT dataset_id, case_id, question_text, ideal_answer_text, meta
		FROM eval_cases
		WHERE dataset_id = $1
		ORDER BY case_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cases []model.EvalCase
	for rows.Next() {
		var c model.EvalCase
		if err := rows.Scan(&c.DatasetID, &c.CaseID, &c.QuestionText, &c.IdealAnswerText, &c.Meta); err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func (r *EvalRepo) CreateRun(ctx context.Context, run *model.EvalRun) error {
	const query = `
		INSERT INTO eval_runs (id, dataset_id, ctime, system_version, retriever_config, llm_config)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	run.Ctime = time.Now().UnixMilli()
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.DatasetID, run.Ctime, run.SystemVersion, run.RetrieverConfig, run.LLMConfig)
	return err
}

func (r *EvalRepo) GetRun(ctx context.Context, runID uuid.UUID) (*model.EvalRun, error) {
	const query = `
		SELECT id, dataset_id, ctime, system_version, retriever_config, llm_config
		FROM eval_runs WHERE id = $1
	`
	var run model.EvalRun
	err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.DatasetID, &run.Ctime, &run.SystemVersion, &run.RetrieverConfig, &run.LLMConfig)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *EvalRepo) LatestRunID(ctx context.Context, datasetID int64) (uuid.UUID, error) {
	const query = `
		SELECT id FROM eval_runs
		WHERE dataset_id = $1
		ORDER BY ctime DESC
		LIMIT 1
	`
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, query, datasetID).Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.Nil, appErr.ErrNotFound
	}
	return id, err
}

// UpsertResult keeps exactly one row per (run, case); reprocessing a case
// overwrites its previous row.
func (r *EvalRepo) UpsertResult(ctx context.Context, result *model.EvalResult) error {
	const query = `
		INSERT INTO eval_results (
			eval_run_id, case_id, model_answer_text, similarity, "precision",
			recall, f1, rouge_1, rouge_l, judge_score, judge_reason,
			latency_ms, cost_usd, tokens_total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (eval_run_id, case_id) DO UPDATE SET
			model_answer_text = EXCLUDED.model_answer_text,
			similarity = EXCLUDED.similarity,
			"precision" = EXCLUDED."precision",
			recall = EXCLUDED.recall,
			f1 = EXCLUDED.f1,
			rouge_1 = EXCLUDED.rouge_1,
			rouge_l = EXCLUDED.rouge_l,
			judge_score = EXCLUDED.judge_score,
			judge_reason = EXCLUDED.judge_reason,
			latency_ms = EXCLUDED.latency_ms,
			cost_usd = EXCLUDED.cost_usd,
			tokens_total = EXCLUDED.tokens_total
	`
	_, err := r.db.ExecContext(ctx, query,
		result.EvalRunID, result.CaseID, result.ModelAnswerText, result.Similarity, result.Precision,
		result.Recall, result.F1, result.Rouge1, result.RougeL, result.JudgeScore, result.JudgeReason,
		result.LatencyMS, result.CostUSD, result.TokensTotal,
	)
	return err
}

func (r *EvalRepo) ListResults(ctx context.Context, runID uuid.UUID) ([]model.EvalResult, error) {
	const query = `
		SELECT eval_run_id, case_id, model_answer_text, similarity, "precision",
		       recall, f1, rouge_1, rouge_l, judge_score, judge_reason,
		       latency_ms, cost_usd, tokens_total
		FROM eval_results
		WHERE eval_run_id = $1
		ORDER BY case_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.EvalResult
	for rows.Next() {
		var res model.EvalResult
		if err := rows.Scan(
			&res.EvalRunID, &res.CaseID, &res.ModelAnswerText, &res.Similarity, &res.Precision,
			&res.Recall, &res.F1, &res.Rouge1, &res.RougeL, &res.JudgeScore, &res.JudgeReason,
			&res.LatencyMS, &res.CostUSD, &res.TokensTotal,
		); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
