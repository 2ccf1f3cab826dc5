package ai

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/admitrag/internal/model"
)

// groupProvider tries each child in order and keeps the first success, so a
// secondary backend can cover for a rate-limited or misconfigured primary.
type groupProvider struct {
	items []IProvider
}

func NewGroupProvider(items []IProvider) (IProvider, error) {
	filtered := make([]IProvider, 0, len(items))
	for _, item := range items {
		if item != nil {
			filtered = append(filtered, item)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("provider group is empty")
	}
	if len(filtered) == 1 {
		return filtered[0], nil
	}
	return &groupProvider{items: filtered}, nil
}

func (g *groupProvider) Name() string {
	return "group"
}

func (g *groupProvider) Generate(ctx context.Context, modelName string, req GenerateRequest) (*model.Generation, error) {
	var lastErr error
	for i, item := range g.items {
		res, err := item.Generate(ctx, modelName, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("generate failed, trying next provider",
			zap.Int("index", i), zap.String("provider", item.Name()), zap.Error(err))
	}
	return nil, lastErr
}

func (g *groupProvider) Embed(ctx context.Context, modelName string, text string) ([]float32, error) {
	var lastErr error
	for i, item := range g.items {
		res, err := item.Embed(ctx, modelName, text)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embed failed, trying next provider",
			zap.Int("index", i), zap.String("provider", item.Name()), zap.Error(err))
	}
	return nil, lastErr
}
