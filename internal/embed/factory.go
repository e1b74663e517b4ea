package embed

import (
	"fmt"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// New builds the configured embedder wrapped in a CachedEmbedder.
func New(cfg config.EmbeddingsConfig) (*CachedEmbedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "static":
		inner = NewStaticEmbedder(cfg.Dimensions)
	case "ollama", "":
		o, err := NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		inner = o
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
