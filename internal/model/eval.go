package model

import "github.com/google/uuid"

type EvalDataset struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Ctime       int64  `json:"ctime"`
}

type EvalCase struct {
	DatasetID       int64  `json:"dataset_id"`
	CaseID          int64  `json:"case_id"`
	QuestionText    string `json:"question_text"`
	IdealAnswerText string `json:"ideal_answer_text"`
	Meta            string `json:"meta"`
}

// EvalRun snapshots the full configuration of one pipeline execution at
// creation time. The row is never mutated afterwards.
type EvalRun struct {
	ID              uuid.UUID `json:"id"`
	DatasetID       int64     `json:"dataset_id"`
	Ctime           int64     `json:"ctime"`
	SystemVersion   string    `json:"system_version"`
	RetrieverConfig string    `json:"retriever_config"`
	LLMConfig       string    `json:"llm_config"`
}

// EvalResult is the single row kept per (run, case). All metric fields are
// nullable: a failed case keeps its error text in ModelAnswerText and every
// metric absent, which keeps it distinguishable from a low-scoring answer.
type EvalResult struct {
	EvalRunID       uuid.UUID `json:"eval_run_id"`
	CaseID          int64     `json:"case_id"`
	ModelAnswerText string    `json:"model_answer_text"`
	Similarity      *float64  `json:"similarity"`
	Precision       *float64  `json:"precision"`
	Recall          *float64  `json:"recall"`
	F1              *float64  `json:"f1"`
	Rouge1          *float64  `json:"rouge_1"`
	RougeL          *float64  `json:"rouge_l"`
	JudgeScore      *int64    `json:"judge_score"`
	JudgeReason     *string   `json:"judge_reason"`
	LatencyMS       *int64    `json:"latency_ms"`
	CostUSD         *float64  `json:"cost_usd"`
	TokensTotal     *int64    `json:"tokens_total"`
}
