package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed templates/*.md
var templatesFS embed.FS

const (
	SystemPrompt      = "system_prompt.md"
	QAPrompt          = "qa_prompt.md"
	JudgeSystemPrompt = "judge_system_prompt.md"
	JudgePrompt       = "judge_prompt.md"
)

func Load(name string) (string, error) {
	data, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("load prompt %s: %w", name, err)
	}
	return string(data), nil
}

// Render substitutes {{key}} placeholders. No other processing of the
// variables happens here.
func Render(name string, vars map[string]string) (string, error) {
	text, err := Load(name)
	if err != nil {
		return "", err
	}
	return RenderText(text, vars), nil
}

func RenderText(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}
