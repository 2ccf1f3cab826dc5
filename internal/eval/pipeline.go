package eval

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/admitrag/internal/ai"
	"github.com/xxxsen/admitrag/internal/model"
	appErr "github.com/xxxsen/admitrag/internal/pkg/errors"
	"github.com/xxxsen/admitrag/internal/prompts"
	"github.com/xxxsen/admitrag/internal/service"
)

const defaultConcurrency = 3

// Store is the persistence contract the pipeline needs.
type Store interface {
	GetDatasetByName(ctx context.Context, name string) (*model.EvalDataset, error)
	GetOrCreateDataset(ctx context.Context, name, description string) (*model.EvalDataset, error)
	ReplaceCases(ctx context.Context, datasetID int64, cases []model.EvalCase) error
	AppendCases(ctx context.Context, datasetID int64, cases []model.EvalCase) error
	ListCases(ctx context.Context, datasetID int64) ([]model.EvalCase, error)
	CreateRun(ctx context.Context, run *model.EvalRun) error
	UpsertResult(ctx context.Context, result *model.EvalResult) error
	ListResults(ctx context.Context, runID uuid.UUID) ([]model.EvalResult, error)
	LatestRunID(ctx context.Context, datasetID int64) (uuid.UUID, error)
}

type RunConfig struct {
	DatasetName           string  `json:"dataset_name"`
	SystemVersion         string  `json:"system_version"`
	TopK                  int     `json:"top_k"`
	MinSimilarity         float64 `json:"min_similarity"`
	QAPromptName          string  `json:"qa_prompt_name"`
	EmbeddingModel        string  `json:"embedding_model"`
	AnswerModel           string  `json:"answer_model"`
	AnswerTemperature     float64 `json:"answer_temperature"`
	JudgeModel            string  `json:"judge_model"`
	JudgeTemperature      float64 `json:"judge_temperature"`
	MetricsEmbeddingModel string  `json:"metrics_embedding_model"`
	Concurrency           int     `json:"concurrency"`
	LimitCases            int     `json:"limit_cases"`
	TimeoutSeconds        int     `json:"timeout_seconds"`
}

// Pipeline runs offline evaluations: load a dataset, answer every case
// through the same flow the serving path uses, score the answers and
// persist one result row per case.
type Pipeline struct {
	store    Store
	qa       service.QaStore
	provider ai.IProvider
}

func NewPipeline(store Store, qa service.QaStore, provider ai.IProvider) *Pipeline {
	return &Pipeline{store: store, qa: qa, provider: provider}
}

// LoadDatasetCSV reads a header-mapped CSV of question/answer pairs into a
// dataset. Rows blank after trimming are skipped; case ids follow the
// 1-based position among kept rows. replace swaps the full case set in one
// transaction, otherwise rows are appended after the existing ids.
func (p *Pipeline) LoadDatasetCSV(ctx context.Context, name, description, path string, replace bool) (*model.EvalDataset, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open dataset csv: %w", err)
	}
	defer f.Close()

	cases, err := parseCasesCSV(f)
	if err != nil {
		return nil, 0, err
	}
	dataset, err := p.store.GetOrCreateDataset(ctx, name, description)
	if err != nil {
		return nil, 0, fmt.Errorf("get or create dataset: %w", err)
	}
	if replace {
		err = p.store.ReplaceCases(ctx, dataset.ID, cases)
	} else {
		err = p.store.AppendCases(ctx, dataset.ID, cases)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("store cases: %w", err)
	}
	return dataset, len(cases), nil
}

func parseCasesCSV(r io.Reader) ([]model.EvalCase, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	questionIdx, answerIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "question":
			questionIdx = i
		case "answer":
			answerIdx = i
		}
	}
	if questionIdx < 0 || answerIdx < 0 {
		return nil, fmt.Errorf("%w: csv must have question and answer columns", appErr.ErrInvalid)
	}

	var cases []model.EvalCase
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if questionIdx >= len(record) || answerIdx >= len(record) {
			continue
		}
		question := strings.TrimSpace(record[questionIdx])
		answer := strings.TrimSpace(record[answerIdx])
		if question == "" || answer == "" {
			continue
		}
		cases = append(cases, model.EvalCase{
			CaseID:          int64(len(cases) + 1),
			QuestionText:    question,
			IdealAnswerText: answer,
		})
	}
	return cases, nil
}

// Run executes one full evaluation and returns the run id. Case failures
// never abort the run; they are persisted as ERROR rows with every metric
// absent. Only persistence failures propagate and stop the fan-out.
func (p *Pipeline) Run(ctx context.Context, cfg RunConfig) (uuid.UUID, error) {
	if err := validateRunConfig(cfg); err != nil {
		return uuid.Nil, err
	}
	dataset, err := p.store.GetDatasetByName(ctx, cfg.DatasetName)
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup dataset %q: %w", cfg.DatasetName, err)
	}
	cases, err := p.store.ListCases(ctx, dataset.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("list cases: %w", err)
	}
	if cfg.LimitCases > 0 && cfg.LimitCases < len(cases) {
		cases = cases[:cfg.LimitCases]
	}
	if len(cases) == 0 {
		return uuid.Nil, appErr.ErrEmptyDataset
	}

	run, err := p.createRun(ctx, dataset.ID, cfg)
	if err != nil {
		return uuid.Nil, err
	}

	scorer, err := p.buildScorer(cfg)
	if err != nil {
		return uuid.Nil, err
	}

	logutil.GetLogger(ctx).Info("eval run started",
		zap.String("run_id", run.ID.String()),
		zap.String("dataset", cfg.DatasetName),
		zap.Int("cases", len(cases)),
		zap.Int("concurrency", concurrencyOf(cfg)),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrencyOf(cfg))
	for _, c := range cases {
		c := c
		group.Go(func() error {
			return p.evaluateCase(groupCtx, run.ID, c, scorer)
		})
	}
	if err := group.Wait(); err != nil {
		return run.ID, fmt.Errorf("eval run %s: %w", run.ID, err)
	}

	logutil.GetLogger(ctx).Info("eval run finished", zap.String("run_id", run.ID.String()))
	return run.ID, nil
}

func validateRunConfig(cfg RunConfig) error {
	if strings.TrimSpace(cfg.DatasetName) == "" {
		return fmt.Errorf("%w: dataset name required", appErr.ErrInvalid)
	}
	if strings.TrimSpace(cfg.SystemVersion) == "" {
		return fmt.Errorf("%w: system version required", appErr.ErrInvalid)
	}
	if strings.TrimSpace(cfg.EmbeddingModel) == "" {
		return fmt.Errorf("%w: embedding model required", appErr.ErrInvalid)
	}
	if strings.TrimSpace(cfg.AnswerModel) == "" {
		return fmt.Errorf("%w: answer model required", appErr.ErrInvalid)
	}
	if strings.TrimSpace(cfg.JudgeModel) == "" {
		return fmt.Errorf("%w: judge model required", appErr.ErrInvalid)
	}
	return nil
}

func concurrencyOf(cfg RunConfig) int {
	if cfg.Concurrency <= 0 {
		return defaultConcurrency
	}
	return cfg.Concurrency
}

// createRun snapshots the full configuration into the run row so a report
// read months later still says exactly what produced it.
func (p *Pipeline) createRun(ctx context.Context, datasetID int64, cfg RunConfig) (*model.EvalRun, error) {
	retrieverConfig, err := json.Marshal(map[string]interface{}{
		"top_k":           cfg.TopK,
		"min_similarity":  cfg.MinSimilarity,
		"qa_prompt_name":  cfg.QAPromptName,
		"embedding_model": cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}
	llmConfig, err := json.Marshal(map[string]interface{}{
		"answer_model":            cfg.AnswerModel,
		"answer_temperature":      cfg.AnswerTemperature,
		"judge_model":             cfg.JudgeModel,
		"judge_temperature":       cfg.JudgeTemperature,
		"metrics_embedding_model": cfg.MetricsEmbeddingModel,
	})
	if err != nil {
		return nil, err
	}
	run := &model.EvalRun{
		ID:              uuid.New(),
		DatasetID:       datasetID,
		SystemVersion:   cfg.SystemVersion,
		RetrieverConfig: string(retrieverConfig),
		LLMConfig:       string(llmConfig),
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create eval run: %w", err)
	}
	return run, nil
}

// caseScorer bundles the shared clients built once per run.
type caseScorer struct {
	rag      *service.RagService
	judge    *Judge
	embedder ai.IEmbedder
}

func (p *Pipeline) buildScorer(cfg RunConfig) (*caseScorer, error) {
	systemPrompt, err := prompts.Load(prompts.SystemPrompt)
	if err != nil {
		return nil, err
	}
	judgeSystemPrompt, err := prompts.Load(prompts.JudgeSystemPrompt)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	answerGen := ai.NewGenerator(p.provider, cfg.AnswerModel, ai.GeneratorOptions{
		SystemPrompt: systemPrompt,
		Temperature:  cfg.AnswerTemperature,
		Timeout:      timeout,
	})
	judgeGen := ai.NewGenerator(p.provider, cfg.JudgeModel, ai.GeneratorOptions{
		SystemPrompt: judgeSystemPrompt,
		Temperature:  cfg.JudgeTemperature,
		Timeout:      timeout,
	})
	judge, err := NewJudge(judgeGen)
	if err != nil {
		return nil, err
	}
	var questionEmbedder ai.IEmbedder
	if cfg.MetricsEmbeddingModel != "" {
		questionEmbedder = ai.NewEmbedder(p.provider, cfg.MetricsEmbeddingModel, timeout)
	}
	// Answer runs are not recorded during evals and the cache stays off so
	// every case hits the real flow.
	rag := service.NewRagService(p.qa, nil,
		ai.NewEmbedder(p.provider, cfg.EmbeddingModel, timeout),
		answerGen,
		service.RagOptions{
			TopK:          cfg.TopK,
			MinSimilarity: cfg.MinSimilarity,
			Temperature:   cfg.AnswerTemperature,
			QAPromptName:  cfg.QAPromptName,
		})
	return &caseScorer{rag: rag, judge: judge, embedder: questionEmbedder}, nil
}

// evaluateCase answers and scores a single case. An answering failure is
// persisted as a result row whose answer text carries the error and whose
// metrics are all absent; score- and similarity-side failures only null the
// affected metric. The returned error therefore only reports persistence
// problems.
func (p *Pipeline) evaluateCase(ctx context.Context, runID uuid.UUID, c model.EvalCase, scorer *caseScorer) error {
	result := &model.EvalResult{EvalRunID: runID, CaseID: c.CaseID}

	details, err := scorer.rag.AnswerDetailed(ctx, c.QuestionText)
	if err != nil {
		logutil.GetLogger(ctx).Error("eval case answering failed",
			zap.String("run_id", runID.String()),
			zap.Int64("case_id", c.CaseID),
			zap.Error(err),
		)
		result.ModelAnswerText = "ERROR: " + err.Error()
		if upsertErr := p.store.UpsertResult(ctx, result); upsertErr != nil {
			return fmt.Errorf("persist failed case %d: %w", c.CaseID, upsertErr)
		}
		return nil
	}

	result.ModelAnswerText = details.AnswerText
	result.LatencyMS = &details.LatencyMSTotal
	result.CostUSD = details.CostUSD
	if details.Generation != nil && details.Generation.Usage != nil {
		result.TokensTotal = details.Generation.Usage.TotalTokens
	}

	prf := TokenSetPRF1(c.IdealAnswerText, details.AnswerText)
	rouge1 := Rouge1F1(c.IdealAnswerText, details.AnswerText)
	rougeL := RougeLF1(c.IdealAnswerText, details.AnswerText)
	result.Precision = &prf.Precision
	result.Recall = &prf.Recall
	result.F1 = &prf.F1
	result.Rouge1 = &rouge1
	result.RougeL = &rougeL

	if scorer.embedder != nil {
		if sim, err := p.embeddingSimilarity(ctx, scorer.embedder, c.IdealAnswerText, details.AnswerText); err != nil {
			logutil.GetLogger(ctx).Warn("eval case similarity failed",
				zap.Int64("case_id", c.CaseID), zap.Error(err))
		} else {
			result.Similarity = &sim
		}
	}

	verdict, err := scorer.judge.Judge(ctx, c.QuestionText, c.IdealAnswerText, details.AnswerText)
	if err != nil {
		logutil.GetLogger(ctx).Warn("eval case judging failed",
			zap.Int64("case_id", c.CaseID), zap.Error(err))
	} else {
		result.JudgeScore = verdict.Score
		result.JudgeReason = verdict.Reason
	}

	if err := p.store.UpsertResult(ctx, result); err != nil {
		return fmt.Errorf("persist case %d: %w", c.CaseID, err)
	}
	return nil
}

func (p *Pipeline) embeddingSimilarity(ctx context.Context, embedder ai.IEmbedder, ideal, answer string) (float64, error) {
	vectors, err := embedder.EmbedMany(ctx, []string{ideal, answer})
	if err != nil {
		return 0, err
	}
	return DotSimilarity(vectors[0], vectors[1])
}

// Report loads a run's result rows and reduces them.
func (p *Pipeline) Report(ctx context.Context, runID uuid.UUID) (*Summary, error) {
	results, err := p.store.ListResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	summary := Summarize(runID, results)
	return &summary, nil
}

// LatestReport resolves the most recent run of a dataset and reduces it.
func (p *Pipeline) LatestReport(ctx context.Context, datasetName string) (*Summary, error) {
	dataset, err := p.store.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return nil, fmt.Errorf("lookup dataset %q: %w", datasetName, err)
	}
	runID, err := p.store.LatestRunID(ctx, dataset.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve latest run: %w", err)
	}
	return p.Report(ctx, runID)
}
