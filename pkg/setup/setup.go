// Package setup assembles engine components from persistent configuration.
// Each provider name in the config maps to exactly one concrete driver here,
// so commands and the API server share a single wiring path.
package setup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/engram/pkg/embeddings/utils"
	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/eventstream/kafka"
	"github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/extract"
	ollamaextract "github.com/papercomputeco/engram/pkg/extract/ollama"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
	"github.com/papercomputeco/engram/pkg/storage/postgres"
	"github.com/papercomputeco/engram/pkg/storage/sqlite"
)

// Storage creates the configured storage driver.
func Storage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Driver, error) {
	switch cfg.Storage.Provider {
	case "sqlite":
		return sqlite.NewDriver(sqlite.Config{
			DBPath:     cfg.Storage.SQLitePath,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
	case "postgres":
		return postgres.NewDriver(ctx, postgres.Config{
			ConnString: cfg.Storage.PostgresDSN,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
	case "memory":
		return inmemory.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %q", cfg.Storage.Provider)
	}
}

// Embedder creates the configured embedding provider.
func Embedder(cfg *config.Config) (embeddings.Embedder, error) {
	return embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		Dimensions:   int(cfg.Embedding.Dimensions),
	})
}

// Extractor creates the configured entity/relationship extractor.
func Extractor(cfg *config.Config, logger *zap.Logger) (extract.Extractor, error) {
	switch cfg.Extraction.Provider {
	case "ollama":
		return ollamaextract.NewExtractor(ollamaextract.Config{
			BaseURL: cfg.Extraction.Target,
			Model:   cfg.Extraction.Model,
		}, logger)
	case "static":
		return &extract.Static{}, nil
	default:
		return nil, fmt.Errorf("unknown extraction provider: %q", cfg.Extraction.Provider)
	}
}

// Events creates the configured event publisher.
func Events(cfg *config.Config, logger *zap.Logger) (eventstream.Publisher, error) {
	switch cfg.Events.Provider {
	case "", "nop":
		return nop.NewPublisher(), nil
	case "kafka":
		return kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown events provider: %q", cfg.Events.Provider)
	}
}

// Engine assembles a fully wired engine from configuration. The engine owns
// every component it is handed; callers release everything with a single
// engine.Close().
func Engine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine.Engine, error) {
	store, err := Storage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating storage driver: %w", err)
	}

	embedder, err := Embedder(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	extractor, err := Extractor(cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating extractor: %w", err)
	}

	events, err := Events(cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating event publisher: %w", err)
	}

	return engine.New(engine.Params{
		Store:     store,
		Embedder:  embedder,
		Extractor: extractor,
		Events:    events,
		Logger:    logger,
	}, engine.Config{
		Dimensions:       int(cfg.Embedding.Dimensions),
		AutoProcess:      cfg.Processing.AutoProcess,
		DebounceInterval: time.Duration(cfg.Processing.DebounceMs) * time.Millisecond,
		BatchSize:        int(cfg.Processing.BatchSize),
	})
}
