package eval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/admitrag/internal/ai"
	"github.com/xxxsen/admitrag/internal/model"
	appErr "github.com/xxxsen/admitrag/internal/pkg/errors"
)

type fakeStore struct {
	mu       sync.Mutex
	datasets map[string]*model.EvalDataset
	cases    map[int64][]model.EvalCase
	runs     map[uuid.UUID]*model.EvalRun
	results  map[uuid.UUID]map[int64]model.EvalResult

	failUpsertCase int64
	nextDatasetID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		datasets: make(map[string]*model.EvalDataset),
		cases:    make(map[int64][]model.EvalCase),
		runs:     make(map[uuid.UUID]*model.EvalRun),
		results:  make(map[uuid.UUID]map[int64]model.EvalResult),
	}
}

func (s *fakeStore) GetDatasetByName(ctx context.Context, name string) (*model.EvalDataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dataset, ok := s.datasets[name]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return dataset, nil
}

func (s *fakeStore) GetOrCreateDataset(ctx context.Context, name, description string) (*model.EvalDataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dataset, ok := s.datasets[name]; ok {
		return dataset, nil
	}
	s.nextDatasetID++
	dataset := &model.EvalDataset{ID: s.nextDatasetID, Name: name, Description: description}
	s.datasets[name] = dataset
	return dataset, nil
}

func (s *fakeStore) ReplaceCases(ctx context.Context, datasetID int64, cases []model.EvalCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[datasetID] = append([]model.EvalCase(nil), cases...)
	return nil
}

func (s *fakeStore) AppendCases(ctx context.Context, datasetID int64, cases []model.EvalCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[datasetID] = append(s.cases[datasetID], cases...)
	return nil
}

func (s *fakeStore) ListCases(ctx context.Context, datasetID int64) ([]model.EvalCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.EvalCase(nil), s.cases[datasetID]...), nil
}

func (s *fakeStore) CreateRun(ctx context.Context, run *model.EvalRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Ctime = time.Now().UnixMilli()
	s.runs[run.ID] = run
	return nil
}

func (s *fakeStore) UpsertResult(ctx context.Context, result *model.EvalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsertCase != 0 && result.CaseID == s.failUpsertCase {
		return fmt.Errorf("upsert rejected")
	}
	byCase, ok := s.results[result.EvalRunID]
	if !ok {
		byCase = make(map[int64]model.EvalResult)
		s.results[result.EvalRunID] = byCase
	}
	byCase[result.CaseID] = *result
	return nil
}

func (s *fakeStore) ListResults(ctx context.Context, runID uuid.UUID) ([]model.EvalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.EvalResult
	for _, result := range s.results[runID] {
		out = append(out, result)
	}
	return out, nil
}

func (s *fakeStore) LatestRunID(ctx context.Context, datasetID int64) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.EvalRun
	for _, run := range s.runs {
		if run.DatasetID != datasetID {
			continue
		}
		if latest == nil || run.Ctime > latest.Ctime {
			latest = run
		}
	}
	if latest == nil {
		return uuid.Nil, appErr.ErrNotFound
	}
	return latest.ID, nil
}

type fakeQaStore struct{}

func (f *fakeQaStore) FindTopK(ctx context.Context, queryVec []float32, k int) ([]model.QaPairHit, error) {
	return []model.QaPairHit{
		{QaPair: model.QaPair{ID: 1, Question: "q", Answer: "the deadline is january 15"}, Rank: 0, Distance: 0.1, Similarity: 0.9},
	}, nil
}

func newPipelineFixture(t *testing.T, store *fakeStore, provider *realFakeProvider, caseCount int) (*Pipeline, RunConfig) {
	t.Helper()
	ctx := context.Background()
	dataset, err := store.GetOrCreateDataset(ctx, "admissions", "")
	require.NoError(t, err)
	var cases []model.EvalCase
	for i := 1; i <= caseCount; i++ {
		cases = append(cases, model.EvalCase{
			DatasetID:       dataset.ID,
			CaseID:          int64(i),
			QuestionText:    fmt.Sprintf("question %d", i),
			IdealAnswerText: "the deadline is january 15",
		})
	}
	require.NoError(t, store.ReplaceCases(ctx, dataset.ID, cases))

	pipeline := NewPipeline(store, &fakeQaStore{}, provider)
	cfg := RunConfig{
		DatasetName:    "admissions",
		SystemVersion:  "v1",
		TopK:           3,
		MinSimilarity:  0.6,
		EmbeddingModel: "embed-1",
		AnswerModel:    "answer-1",
		JudgeModel:     "judge-1",
	}
	return pipeline, cfg
}

// realFakeProvider answers by model name, can fail embedding for chosen
// texts and tracks how many generations run at once.
type realFakeProvider struct {
	judgeText string
	failEmbed map[string]bool
	genDelay  time.Duration

	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func (f *realFakeProvider) Name() string { return "fake" }

func (f *realFakeProvider) Generate(ctx context.Context, modelName string, req ai.GenerateRequest) (*model.Generation, error) {
	current := f.inflight.Add(1)
	for {
		seen := f.maxInflight.Load()
		if current <= seen || f.maxInflight.CompareAndSwap(seen, current) {
			break
		}
	}
	defer f.inflight.Add(-1)
	if f.genDelay > 0 {
		time.Sleep(f.genDelay)
	}

	if strings.HasPrefix(modelName, "judge") {
		text := f.judgeText
		if text == "" {
			text = `{"score": 4, "reason": "ok"}`
		}
		return &model.Generation{Text: text, Model: modelName}, nil
	}
	tokens := int64(10)
	return &model.Generation{
		Text:  "the deadline is january 15",
		Model: modelName,
		Usage: &model.Usage{PromptTokens: &tokens, CompletionTokens: &tokens, TotalTokens: &tokens},
	}, nil
}

func (f *realFakeProvider) Embed(ctx context.Context, modelName string, text string) ([]float32, error) {
	if f.failEmbed[text] {
		return nil, fmt.Errorf("embedding backend down")
	}
	return []float32{1, 0, 0}, nil
}

func TestPipelineRun_IsolatesCaseFailures(t *testing.T) {
	store := newFakeStore()
	provider := &realFakeProvider{failEmbed: map[string]bool{"question 3": true}}
	pipeline, cfg := newPipelineFixture(t, store, provider, 5)

	runID, err := pipeline.Run(context.Background(), cfg)
	require.NoError(t, err)

	results, err := store.ListResults(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, results, 5)

	failed := 0
	for _, result := range results {
		if result.CaseID == 3 {
			failed++
			require.True(t, strings.HasPrefix(result.ModelAnswerText, "ERROR: "))
			require.Nil(t, result.F1)
			require.Nil(t, result.JudgeScore)
			require.Nil(t, result.LatencyMS)
			continue
		}
		require.NotNil(t, result.F1)
		require.NotNil(t, result.Rouge1)
		require.NotNil(t, result.RougeL)
		require.NotNil(t, result.JudgeScore)
		require.Equal(t, int64(4), *result.JudgeScore)
		require.NotNil(t, result.LatencyMS)
		require.NotNil(t, result.TokensTotal)
	}
	require.Equal(t, 1, failed)
}

func TestPipelineRun_RespectsConcurrencyLimit(t *testing.T) {
	store := newFakeStore()
	provider := &realFakeProvider{genDelay: 20 * time.Millisecond}
	pipeline, cfg := newPipelineFixture(t, store, provider, 10)
	cfg.Concurrency = 2

	_, err := pipeline.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.LessOrEqual(t, provider.maxInflight.Load(), int64(2))
}

func TestPipelineRun_PersistenceErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.failUpsertCase = 2
	provider := &realFakeProvider{}
	pipeline, cfg := newPipelineFixture(t, store, provider, 3)

	_, err := pipeline.Run(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "persist case 2")
}

func TestPipelineRun_RerunIsIdempotent(t *testing.T) {
	store := newFakeStore()
	provider := &realFakeProvider{}
	pipeline, cfg := newPipelineFixture(t, store, provider, 4)

	runID, err := pipeline.Run(context.Background(), cfg)
	require.NoError(t, err)

	// Re-score a case of the same run; it overwrites instead of duplicating.
	scorer, err := pipeline.buildScorer(cfg)
	require.NoError(t, err)
	require.NoError(t, pipeline.evaluateCase(context.Background(), runID, model.EvalCase{CaseID: 1, QuestionText: "question 1", IdealAnswerText: "x"}, scorer))

	results, err := store.ListResults(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, results, 4)
}

func TestPipelineRun_ValidationAndEmptyDataset(t *testing.T) {
	store := newFakeStore()
	provider := &realFakeProvider{}
	pipeline := NewPipeline(store, &fakeQaStore{}, provider)

	_, err := pipeline.Run(context.Background(), RunConfig{})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = store.GetOrCreateDataset(context.Background(), "empty", "")
	require.NoError(t, err)
	_, err = pipeline.Run(context.Background(), RunConfig{
		DatasetName:    "empty",
		SystemVersion:  "v1",
		EmbeddingModel: "e",
		AnswerModel:    "a",
		JudgeModel:     "j",
	})
	require.ErrorIs(t, err, appErr.ErrEmptyDataset)
}

func TestPipelineRun_LimitCases(t *testing.T) {
	store := newFakeStore()
	provider := &realFakeProvider{}
	pipeline, cfg := newPipelineFixture(t, store, provider, 8)
	cfg.LimitCases = 3

	runID, err := pipeline.Run(context.Background(), cfg)
	require.NoError(t, err)
	results, err := store.ListResults(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestPipelineRun_MetricsSimilarityFailureOnlyNullsSimilarity(t *testing.T) {
	store := newFakeStore()
	provider := &realFakeProvider{failEmbed: map[string]bool{"x": true}}
	pipeline, cfg := newPipelineFixture(t, store, provider, 1)
	cfg.MetricsEmbeddingModel = "metrics-embed"

	scorer, err := pipeline.buildScorer(cfg)
	require.NoError(t, err)
	runID := uuid.New()
	require.NoError(t, pipeline.evaluateCase(context.Background(), runID,
		model.EvalCase{CaseID: 1, QuestionText: "question 1", IdealAnswerText: "x"}, scorer))

	results, err := store.ListResults(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Nil(t, results[0].Similarity)
	require.NotNil(t, results[0].F1)
}

func TestLoadDatasetCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cases.csv")
	content := "question,answer\nwhat is the deadline?,january 15\n , \nhow much is tuition?,10000 usd\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store := newFakeStore()
	pipeline := NewPipeline(store, &fakeQaStore{}, &realFakeProvider{})

	dataset, count, err := pipeline.LoadDatasetCSV(context.Background(), "admissions", "demo", path, true)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	cases, err := store.ListCases(context.Background(), dataset.ID)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	require.Equal(t, int64(1), cases[0].CaseID)
	require.Equal(t, "what is the deadline?", cases[0].QuestionText)
	require.Equal(t, int64(2), cases[1].CaseID)

	// Replacing swaps the whole case set, appending keeps it growing.
	_, _, err = pipeline.LoadDatasetCSV(context.Background(), "admissions", "demo", path, true)
	require.NoError(t, err)
	cases, _ = store.ListCases(context.Background(), dataset.ID)
	require.Len(t, cases, 2)

	_, _, err = pipeline.LoadDatasetCSV(context.Background(), "admissions", "demo", path, false)
	require.NoError(t, err)
	cases, _ = store.ListCases(context.Background(), dataset.ID)
	require.Len(t, cases, 4)
}

func TestLoadDatasetCSV_MissingColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("prompt,expected\nx,y\n"), 0o644))

	store := newFakeStore()
	pipeline := NewPipeline(store, &fakeQaStore{}, &realFakeProvider{})
	_, _, err := pipeline.LoadDatasetCSV(context.Background(), "admissions", "", path, true)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}
