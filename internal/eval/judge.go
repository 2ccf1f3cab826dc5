package eval

import (
	"context"
	"encoding/json"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/admitrag/internal/ai"
	"github.com/xxxsen/admitrag/internal/model"
	"github.com/xxxsen/admitrag/internal/prompts"
)

// Verdict is the parsed judge output. Score and Reason are absent whenever
// the model's text does not contain a valid verdict; the raw text and the
// generation (with its usage) are always kept so failures stay inspectable.
type Verdict struct {
	Score      *int64
	Reason     *string
	Generation *model.Generation
	RawText    string
}

type Judge struct {
	generator ai.IGenerator
	template  string
}

func NewJudge(generator ai.IGenerator) (*Judge, error) {
	template, err := prompts.Load(prompts.JudgePrompt)
	if err != nil {
		return nil, err
	}
	return &Judge{generator: generator, template: template}, nil
}

func (j *Judge) Judge(ctx context.Context, question, idealAnswer, modelAnswer string) (*Verdict, error) {
	prompt := prompts.RenderText(j.template, map[string]string{
		"question":     question,
		"ideal_answer": idealAnswer,
		"model_answer": modelAnswer,
	})
	gen, err := j.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	score, reason := parseVerdict(gen.Text)
	if score == nil {
		logutil.GetLogger(ctx).Warn("judge returned unparsable verdict", zap.String("raw", gen.Text))
	}
	return &Verdict{
		Score:      score,
		Reason:     reason,
		Generation: gen,
		RawText:    gen.Text,
	}, nil
}

// parseVerdict extracts the first balanced JSON object from free-form text.
// Judges like to wrap their JSON in prose; anything before the first `{`
// and after its matching `}` is ignored. A score must be an integer in
// [1, 5], never rounded or clamped.
func parseVerdict(text string) (*int64, *string) {
	objText, ok := extractFirstJSONObject(text)
	if !ok {
		return nil, nil
	}

	var data struct {
		Score  json.Number `json:"score"`
		Reason *string     `json:"reason"`
	}
	if err := json.Unmarshal([]byte(objText), &data); err != nil {
		return nil, nil
	}

	score, err := data.Score.Int64()
	if err != nil || score < 1 || score > 5 {
		return nil, data.Reason
	}
	return &score, data.Reason
}

func extractFirstJSONObject(text string) (string, bool) {
	start := -1
	depth := 0
	for i, ch := range text {
		switch ch {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start == -1 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
