package provider

import (
	"fmt"

	"github.com/storyloom/storyloom/config"
)

// New builds the completer and embedder selected by cfg, wrapped in the
// configured rate limiter.
func New(cfg config.ProviderConfig, dimension int) (*Limited, error) {
	switch cfg.Type {
	case "openai":
		p, err := NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.EmbeddingModel, dimension)
		if err != nil {
			return nil, err
		}
		return NewLimited(p, p, cfg.RateLimit, cfg.Burst), nil
	case "static", "":
		return NewLimited(NewStaticCompleter(), HashEmbedder{Dimension: dimension}, cfg.RateLimit, cfg.Burst), nil
	default:
		return nil, fmt.Errorf("provider: unknown type %q", cfg.Type)
	}
}
