package model

// Usage is the token accounting reported by a model backend. Every field is
// optional, backends are free to omit any of them.
type Usage struct {
	PromptTokens     *int64 `json:"prompt_tokens"`
	CompletionTokens *int64 `json:"completion_tokens"`
	TotalTokens      *int64 `json:"total_tokens"`
}

type Generation struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage *Usage `json:"usage"`
}
