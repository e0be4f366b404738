package rca

import (
	"context"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/evidence"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
)

// Generator produces a root cause analysis report. Implementations never
// return an error: every input maps to some report, degraded if necessary.
type Generator interface {
	Generate(ctx context.Context, ec *entity.Context, bundle *evidence.Bundle, repo string) *Report
}

// New selects the generation strategy once at construction. An API key
// selects the model backend (with the deterministic rules as per-call
// fallback); no key selects the deterministic rules outright.
func New(cfg config.AnthropicConfig, logger *logging.Logger) (Generator, error) {
	if !cfg.APIKey.IsSet() {
		logger.Info(context.Background(), "no model API key configured, using template report generation")
		return NewTemplateGenerator(WithTemplateLogger(logger)), nil
	}
	return NewLLMGenerator(cfg, WithLLMLogger(logger))
}
