package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/admitrag/internal/ai"
	"github.com/xxxsen/admitrag/internal/model"
	"github.com/xxxsen/admitrag/internal/pricing"
	"github.com/xxxsen/admitrag/internal/prompts"
)

// QaStore is the retrieval contract the answering flow needs from the
// backing vector store.
type QaStore interface {
	FindTopK(ctx context.Context, queryVec []float32, k int) ([]model.QaPairHit, error)
}

// RunRecorder persists one full answer run for audit. Optional.
type RunRecorder interface {
	Create(ctx context.Context, run *model.RagRun, hits []model.RagRunHit) error
}

type RagOptions struct {
	TopK          int
	MinSimilarity float64
	Temperature   float64
	QAPromptName  string
	CacheSize     int
	CacheTTL      time.Duration
}

type AnswerDetails struct {
	AnswerText         string
	ContextText        string
	PromptText         string
	Hits               []model.QaPairHit
	UsedHits           int
	Generation         *model.Generation
	CostUSD            *float64
	LatencyMSTotal     int64
	LatencyMSEmbedding int64
	LatencyMSRetrieval int64
	LatencyMSLLM       int64
}

type RagService struct {
	qa        QaStore
	runs      RunRecorder
	embedder  ai.IEmbedder
	generator ai.IGenerator
	opts      RagOptions
	cache     *expirable.LRU[string, string]
}

// NewRagService builds an answering flow around shared clients. runs may be
// nil when answer runs should not be persisted (the eval pipeline does
// exactly that).
func NewRagService(qa QaStore, runs RunRecorder, embedder ai.IEmbedder, generator ai.IGenerator, opts RagOptions) *RagService {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.QAPromptName == "" {
		opts.QAPromptName = prompts.QAPrompt
	}
	var cache *expirable.LRU[string, string]
	if opts.CacheSize > 0 {
		cache = expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL)
	}
	return &RagService{
		qa:        qa,
		runs:      runs,
		embedder:  embedder,
		generator: generator,
		opts:      opts,
		cache:     cache,
	}
}

// Answer is the serve-path entry point: cached, text only.
func (s *RagService) Answer(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is empty")
	}
	cacheKey := s.cacheKey(question)
	if s.cache != nil {
		if cached, ok := s.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}
	details, err := s.AnswerDetailed(ctx, question)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		s.cache.Add(cacheKey, details.AnswerText)
	}
	return details.AnswerText, nil
}

// AnswerDetailed runs the staged flow: embed the question, retrieve top-k,
// filter by the similarity floor, render the prompt, generate, estimate
// cost, then (only after generation succeeded) persist the run record.
func (s *RagService) AnswerDetailed(ctx context.Context, question string) (*AnswerDetails, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("question", question))
	start := time.Now()

	embedStart := time.Now()
	queryVec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		logger.Error("embed question failed", zap.Error(err))
		return nil, fmt.Errorf("embed question: %w", err)
	}
	embedMS := time.Since(embedStart).Milliseconds()

	retrievalStart := time.Now()
	hits, err := s.qa.FindTopK(ctx, queryVec, s.opts.TopK)
	if err != nil {
		logger.Error("retrieval failed", zap.Error(err))
		return nil, fmt.Errorf("find top k: %w", err)
	}
	retrievalMS := time.Since(retrievalStart).Milliseconds()

	block := s.buildContext(hits)
	logger.Info("retrieval done",
		zap.Int("retrieved", len(hits)),
		zap.Int("used", block.used),
		zap.Float64("min_similarity", s.opts.MinSimilarity))

	promptText, err := prompts.Render(s.opts.QAPromptName, map[string]string{
		"context":  block.text,
		"question": question,
	})
	if err != nil {
		return nil, err
	}

	llmStart := time.Now()
	gen, err := s.generator.Generate(ctx, promptText)
	if err != nil {
		logger.Error("generation failed", zap.Error(err))
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	llmMS := time.Since(llmStart).Milliseconds()

	details := &AnswerDetails{
		AnswerText:         gen.Text,
		ContextText:        block.text,
		PromptText:         promptText,
		Hits:               hits,
		UsedHits:           block.used,
		Generation:         gen,
		CostUSD:            pricing.Estimate(gen.Model, gen.Usage),
		LatencyMSTotal:     time.Since(start).Milliseconds(),
		LatencyMSEmbedding: embedMS,
		LatencyMSRetrieval: retrievalMS,
		LatencyMSLLM:       llmMS,
	}

	if s.runs != nil {
		if err := s.recordRun(ctx, question, details); err != nil {
			logger.Error("persist rag run failed", zap.Error(err))
			return nil, fmt.Errorf("persist rag run: %w", err)
		}
	}
	return details, nil
}

type contextBlock struct {
	text string
	used int
}

func (s *RagService) buildContext(hits []model.QaPairHit) contextBlock {
	var parts []string
	used := 0
	for _, hit := range hits {
		if hit.Similarity < s.opts.MinSimilarity {
			continue
		}
		used++
		parts = append(parts, fmt.Sprintf("[Q%d] %s\n[A%d] %s\n", used, hit.QaPair.Question, used, hit.QaPair.Answer))
	}
	return contextBlock{text: strings.Join(parts, "\n"), used: used}
}

func (s *RagService) recordRun(ctx context.Context, question string, details *AnswerDetails) error {
	run := &model.RagRun{
		ID:                  uuid.New(),
		QuestionText:        question,
		RetrieverTopK:       s.opts.TopK,
		SimilarityThreshold: s.opts.MinSimilarity,
		DistanceMetric:      "cosine",
		ContextText:         details.ContextText,
		FinalPromptText:     details.PromptText,
		ModelName:           details.Generation.Model,
		Temperature:         s.opts.Temperature,
		AnswerText:          details.AnswerText,
		CostUSD:             details.CostUSD,
		LatencyMSTotal:      details.LatencyMSTotal,
		LatencyMSEmbedding:  details.LatencyMSEmbedding,
		LatencyMSRetrieval:  details.LatencyMSRetrieval,
		LatencyMSLLM:        details.LatencyMSLLM,
	}
	if usage := details.Generation.Usage; usage != nil {
		run.UsagePromptTokens = usage.PromptTokens
		run.UsageCompletionTokens = usage.CompletionTokens
		run.UsageTotalTokens = usage.TotalTokens
	}
	runHits := make([]model.RagRunHit, 0, len(details.Hits))
	for _, hit := range details.Hits {
		runHits = append(runHits, model.RagRunHit{
			RagRunID:      run.ID,
			Rank:          hit.Rank,
			QaPairID:      hit.QaPair.ID,
			Distance:      hit.Distance,
			Similarity:    hit.Similarity,
			UsedInContext: hit.Similarity >= s.opts.MinSimilarity,
		})
	}
	return s.runs.Create(ctx, run, runHits)
}

func (s *RagService) cacheKey(question string) string {
	hash := sha256.Sum256([]byte(question))
	return hex.EncodeToString(hash[:])
}
