package model

import "github.com/google/uuid"

type RagRun struct {
	ID                    uuid.UUID `json:"id"`
	Ctime                 int64     `json:"ctime"`
	QuestionText          string    `json:"question_text"`
	RetrieverTopK         int       `json:"retriever_top_k"`
	SimilarityThreshold   float64   `json:"similarity_threshold"`
	DistanceMetric        string    `json:"distance_metric"`
	ContextText           string    `json:"context_text"`
	FinalPromptText       string    `json:"final_prompt_text"`
	ModelName             string    `json:"model_name"`
	Temperature           float64   `json:"temperature"`
	AnswerText            string    `json:"answer_text"`
	UsagePromptTokens     *int64    `json:"usage_prompt_tokens"`
	UsageCompletionTokens *int64    `json:"usage_completion_tokens"`
	UsageTotalTokens      *int64    `json:"usage_total_tokens"`
	CostUSD               *float64  `json:"cost_usd"`
	LatencyMSTotal        int64     `json:"latency_ms_total"`
	LatencyMSEmbedding    int64     `json:"latency_ms_embedding"`
	LatencyMSRetrieval    int64     `json:"latency_ms_retrieval"`
	LatencyMSLLM          int64     `json:"latency_ms_llm"`
}

// RagRunHit is the audit row for one retrieved candidate, kept whether or
// not the candidate cleared the similarity floor.
type RagRunHit struct {
	RagRunID      uuid.UUID `json:"rag_run_id"`
	Rank          int       `json:"rank"`
	QaPairID      int64     `json:"qa_pair_id"`
	Distance      float64   `json:"distance"`
	Similarity    float64   `json:"similarity"`
	UsedInContext bool      `json:"used_in_context"`
}
