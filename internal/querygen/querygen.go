// Package querygen asks a language model for search queries that cover a
// research objective.
package querygen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-scraper/internal/crawler"
)

const defaultCount = 10

// Model produces a JSON document for a prompt.
type Model interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Config tunes the prompt.
type Config struct {
	// Count is the number of queries requested from the model.
	Count int
}

// Generator turns objectives into ranked query variations.
type Generator struct {
	model    Model
	count    int
	validate *validator.Validate
	logger   *zap.Logger
}

type variationList struct {
	Output []crawler.QueryVariation `json:"output" validate:"required,min=1,dive"`
}

// New returns a Generator backed by model.
func New(model Model, cfg Config, logger *zap.Logger) (*Generator, error) {
	if model == nil {
		return nil, errors.New("querygen: model is required")
	}
	if cfg.Count <= 0 {
		cfg.Count = defaultCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		model:    model,
		count:    cfg.Count,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}, nil
}

// Generate returns query variations sorted by relevancy, highest first.
// Model failures and malformed output are returned as errors without retry.
func (g *Generator) Generate(ctx context.Context, objective string) ([]crawler.QueryVariation, error) {
	objective = strings.TrimSpace(objective)
	if objective == "" {
		return nil, errors.New("querygen: objective is empty")
	}
	g.logger.Info("generating search queries", zap.String("objective", objective), zap.Int("count", g.count))

	raw, err := g.model.GenerateJSON(ctx, BuildPrompt(objective, g.count))
	if err != nil {
		return nil, fmt.Errorf("generate queries: %w", err)
	}
	variations, err := g.parse(raw)
	if err != nil {
		g.logger.Error("model returned unusable output", zap.Error(err))
		return nil, err
	}
	g.logger.Info("generated search queries", zap.Int("queries", len(variations)))
	return variations, nil
}

func (g *Generator) parse(raw string) ([]crawler.QueryVariation, error) {
	var list variationList
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &list); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	if err := g.validate.Struct(list); err != nil {
		return nil, fmt.Errorf("validate model output: %w", err)
	}
	out := make([]crawler.QueryVariation, 0, len(list.Output))
	for _, v := range list.Output {
		v.Query = strings.TrimSpace(v.Query)
		if v.Query == "" {
			return nil, errors.New("validate model output: blank query")
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevancyScore > out[j].RelevancyScore
	})
	return out, nil
}

// StripCodeFence removes a surrounding markdown code block, if any.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
