package eval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/xxxsen/admitrag/internal/model"
)

type Distribution struct {
	Count int      `json:"count"`
	Mean  *float64 `json:"mean"`
	P10   *float64 `json:"p10"`
	P50   *float64 `json:"p50"`
	P90   *float64 `json:"p90"`
}

type Summary struct {
	EvalRunID       uuid.UUID    `json:"eval_run_id"`
	CasesTotal      int          `json:"cases_total"`
	CasesScored     int          `json:"cases_scored"`
	SuccessRateGE4  *float64     `json:"success_rate_ge_4"`
	Judge           Distribution `json:"judge"`
	SimilarityMean  *float64     `json:"similarity_mean"`
	PrecisionMean   *float64     `json:"precision_mean"`
	RecallMean      *float64     `json:"recall_mean"`
	F1Mean          *float64     `json:"f1_mean"`
	Rouge1Mean      *float64     `json:"rouge_1_mean"`
	RougeLMean      *float64     `json:"rouge_l_mean"`
	LatencyMSMean   *float64     `json:"latency_ms_mean"`
	CostUSDMean     *float64     `json:"cost_usd_mean"`
	TokensTotalMean *float64     `json:"tokens_total_mean"`
}

// Summarize reduces a run's result rows into summary statistics. Every mean
// is taken over the cases that actually reported that metric; failed cases
// count toward CasesTotal and nothing else.
func Summarize(runID uuid.UUID, results []model.EvalResult) Summary {
	var judgeScores []float64
	for _, res := range results {
		if res.JudgeScore != nil {
			judgeScores = append(judgeScores, float64(*res.JudgeScore))
		}
	}

	var successRate *float64
	if len(judgeScores) > 0 {
		passed := 0
		for _, score := range judgeScores {
			if score >= 4 {
				passed++
			}
		}
		rate := float64(passed) / float64(len(judgeScores)) * 100
		successRate = &rate
	}

	return Summary{
		EvalRunID:      runID,
		CasesTotal:     len(results),
		CasesScored:    len(judgeScores),
		SuccessRateGE4: successRate,
		Judge:          distribution(judgeScores),
		SimilarityMean: meanOf(results, func(r model.EvalResult) *float64 { return r.Similarity }),
		PrecisionMean:  meanOf(results, func(r model.EvalResult) *float64 { return r.Precision }),
		RecallMean:     meanOf(results, func(r model.EvalResult) *float64 { return r.Recall }),
		F1Mean:         meanOf(results, func(r model.EvalResult) *float64 { return r.F1 }),
		Rouge1Mean:     meanOf(results, func(r model.EvalResult) *float64 { return r.Rouge1 }),
		RougeLMean:     meanOf(results, func(r model.EvalResult) *float64 { return r.RougeL }),
		LatencyMSMean: meanOf(results, func(r model.EvalResult) *float64 {
			return intPtrToFloat(r.LatencyMS)
		}),
		CostUSDMean: meanOf(results, func(r model.EvalResult) *float64 { return r.CostUSD }),
		TokensTotalMean: meanOf(results, func(r model.EvalResult) *float64 {
			return intPtrToFloat(r.TokensTotal)
		}),
	}
}

func Format(s Summary) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("eval_run_id=%s", s.EvalRunID))
	lines = append(lines, fmt.Sprintf("cases_total=%d", s.CasesTotal))
	lines = append(lines, fmt.Sprintf("cases_scored=%d", s.CasesScored))
	if s.SuccessRateGE4 != nil {
		lines = append(lines, fmt.Sprintf("success_rate_ge_4=%.1f%%", *s.SuccessRateGE4))
	}
	if s.Judge.Count > 0 {
		lines = append(lines, fmt.Sprintf("judge_score: mean=%s p10=%s p50=%s p90=%s",
			fmtFloat(s.Judge.Mean), fmtFloat(s.Judge.P10), fmtFloat(s.Judge.P50), fmtFloat(s.Judge.P90)))
	}
	lines = append(lines, fmt.Sprintf("similarity_mean=%s", fmtFloat(s.SimilarityMean)))
	lines = append(lines, fmt.Sprintf("precision_mean=%s", fmtFloat(s.PrecisionMean)))
	lines = append(lines, fmt.Sprintf("recall_mean=%s", fmtFloat(s.RecallMean)))
	lines = append(lines, fmt.Sprintf("f1_mean=%s", fmtFloat(s.F1Mean)))
	lines = append(lines, fmt.Sprintf("rouge_1_mean=%s", fmtFloat(s.Rouge1Mean)))
	lines = append(lines, fmt.Sprintf("rouge_l_mean=%s", fmtFloat(s.RougeLMean)))
	lines = append(lines, fmt.Sprintf("latency_ms_mean=%s", fmtFloat(s.LatencyMSMean)))
	lines = append(lines, fmt.Sprintf("cost_usd_mean=%s", fmtFloat(s.CostUSDMean)))
	lines = append(lines, fmt.Sprintf("tokens_total_mean=%s", fmtFloat(s.TokensTotalMean)))
	return strings.Join(lines, "\n")
}

func distribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))
	return Distribution{
		Count: len(sorted),
		Mean:  &mean,
		P10:   percentile(sorted, 10),
		P50:   percentile(sorted, 50),
		P90:   percentile(sorted, 90),
	}
}

// percentile interpolates linearly between order statistics of an already
// sorted slice.
func percentile(sorted []float64, p float64) *float64 {
	if len(sorted) == 0 {
		return nil
	}
	if p <= 0 {
		return &sorted[0]
	}
	if p >= 100 {
		return &sorted[len(sorted)-1]
	}
	k := float64(len(sorted)-1) * p / 100
	f := int(k)
	c := f + 1
	if c >= len(sorted) {
		c = len(sorted) - 1
	}
	if f == c {
		return &sorted[f]
	}
	value := sorted[f]*(float64(c)-k) + sorted[c]*(k-float64(f))
	return &value
}

func meanOf(results []model.EvalResult, pick func(model.EvalResult) *float64) *float64 {
	sum := 0.0
	count := 0
	for _, res := range results {
		if v := pick(res); v != nil {
			sum += *v
			count++
		}
	}
	if count == 0 {
		return nil
	}
	mean := sum / float64(count)
	return &mean
}

func intPtrToFloat(v *int64) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

func fmtFloat(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.4f", *v)
}
