package embeddings

import (
	"ckd-decision-support/backend/go/internal/config"
	"ckd-decision-support/backend/go/internal/embedding"
	"ckd-decision-support/backend/go/pkg/logger"
	"ckd-decision-support/backend/go/pkg/ratelimiter"
	"fmt"
)

// NewFromConfig builds the provider model named in cfg.Embedding and wraps it in a Client
// tuned by cfg.RAG. A positive Embedding.RatePerSecond enables a token-bucket pacer.
func NewFromConfig(cfg *config.AppConfig, log *logger.Logger) (*Client, error) {
	model, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding model: %w", err)
	}

	opts := []Option{
		WithRetry(cfg.RAG.EmbedMaxAttempts, config.Duration(cfg.RAG.EmbedBackoff, defaultBackoff)),
		WithCallTimeout(config.Duration(cfg.RAG.CallTimeout, defaultCallTimeout)),
	}
	if cfg.Embedding.RatePerSecond > 0 {
		burst := cfg.Embedding.Burst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, WithRateLimiter(ratelimiter.NewTokenBucket(cfg.Embedding.RatePerSecond, burst)))
	}
	return NewClient(model, log, opts...), nil
}
