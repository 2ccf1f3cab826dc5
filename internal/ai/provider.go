package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/admitrag/internal/model"
)

type GenerateRequest struct {
	System      string
	Prompt      string
	Temperature float64
}

type IProvider interface {
	Name() string
	Generate(ctx context.Context, modelName string, req GenerateRequest) (*model.Generation, error)
	Embed(ctx context.Context, modelName string, text string) ([]float32, error)
}

// IGenerator binds a provider to a model, temperature and system prompt so
// callers construct it once and share it across concurrent requests.
type IGenerator interface {
	Generate(ctx context.Context, prompt string) (*model.Generation, error)
	ModelName() string
}

type IEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

type GeneratorOptions struct {
	SystemPrompt string
	Temperature  float64
	Timeout      time.Duration
}

type generator struct {
	provider IProvider
	model    string
	opts     GeneratorOptions
}

func NewGenerator(p IProvider, modelName string, opts GeneratorOptions) IGenerator {
	return &generator{provider: p, model: modelName, opts: opts}
}

func (g *generator) Generate(ctx context.Context, prompt string) (*model.Generation, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}
	return g.provider.Generate(ctx, g.model, GenerateRequest{
		System:      g.opts.SystemPrompt,
		Prompt:      prompt,
		Temperature: g.opts.Temperature,
	})
}

func (g *generator) ModelName() string {
	return g.model
}

type embedder struct {
	provider IProvider
	model    string
	timeout  time.Duration
}

func NewEmbedder(p IProvider, modelName string, timeout time.Duration) IEmbedder {
	return &embedder{provider: p, model: modelName, timeout: timeout}
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.provider.Embed(ctx, e.model, text)
}

func (e *embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, vec)
	}
	return vecs, nil
}

func (e *embedder) ModelName() string {
	return e.model
}

type ProviderFactory func(args interface{}) (IProvider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (IProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai provider name is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}
