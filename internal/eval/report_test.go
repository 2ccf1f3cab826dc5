package eval

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/admitrag/internal/model"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int64) *int64       { return &v }

func TestPercentile_LinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	require.InDelta(t, 5.5, *percentile(sorted, 50), 1e-9)
	require.InDelta(t, 1.9, *percentile(sorted, 10), 1e-9)
	require.InDelta(t, 9.1, *percentile(sorted, 90), 1e-9)
}

func TestPercentile_SingleValue(t *testing.T) {
	sorted := []float64{42}
	require.Equal(t, 42.0, *percentile(sorted, 10))
	require.Equal(t, 42.0, *percentile(sorted, 50))
	require.Equal(t, 42.0, *percentile(sorted, 90))
}

func TestPercentile_Empty(t *testing.T) {
	require.Nil(t, percentile(nil, 50))
}

func TestSummarize_Empty(t *testing.T) {
	runID := uuid.New()
	summary := Summarize(runID, nil)
	require.Equal(t, 0, summary.CasesTotal)
	require.Equal(t, 0, summary.CasesScored)
	require.Nil(t, summary.SuccessRateGE4)
	require.Nil(t, summary.Judge.Mean)
	require.Nil(t, summary.F1Mean)
}

func TestSummarize_FailedCasesCountOnlyTowardsTotal(t *testing.T) {
	runID := uuid.New()
	results := []model.EvalResult{
		{EvalRunID: runID, CaseID: 1, F1: floatPtr(0.5), JudgeScore: intPtr(4)},
		{EvalRunID: runID, CaseID: 2, F1: floatPtr(0.7), JudgeScore: intPtr(5)},
		{EvalRunID: runID, CaseID: 3, ModelAnswerText: "ERROR: provider timeout"},
		{EvalRunID: runID, CaseID: 4, F1: floatPtr(0.3), JudgeScore: intPtr(2)},
	}
	summary := Summarize(runID, results)
	require.Equal(t, 4, summary.CasesTotal)
	require.Equal(t, 3, summary.CasesScored)
	require.NotNil(t, summary.SuccessRateGE4)
	require.InDelta(t, 200.0/3.0, *summary.SuccessRateGE4, 1e-9)
	require.InDelta(t, 0.5, *summary.F1Mean, 1e-9)
	require.Equal(t, 3, summary.Judge.Count)
	require.InDelta(t, 11.0/3.0, *summary.Judge.Mean, 1e-9)
}

func TestSummarize_MeansSkipAbsentValues(t *testing.T) {
	runID := uuid.New()
	results := []model.EvalResult{
		{EvalRunID: runID, CaseID: 1, Similarity: floatPtr(0.9), LatencyMS: intPtr(100)},
		{EvalRunID: runID, CaseID: 2, LatencyMS: intPtr(300)},
	}
	summary := Summarize(runID, results)
	require.InDelta(t, 0.9, *summary.SimilarityMean, 1e-9)
	require.InDelta(t, 200.0, *summary.LatencyMSMean, 1e-9)
	require.Nil(t, summary.CostUSDMean)
}

func TestFormat_ContainsKeyFields(t *testing.T) {
	runID := uuid.New()
	summary := Summarize(runID, []model.EvalResult{
		{EvalRunID: runID, CaseID: 1, F1: floatPtr(0.5), JudgeScore: intPtr(4)},
	})
	text := Format(summary)
	require.Contains(t, text, runID.String())
	require.Contains(t, text, "cases_total=1")
	require.Contains(t, text, "success_rate_ge_4=100.0%")
	require.Contains(t, text, "f1_mean=0.5000")
}
