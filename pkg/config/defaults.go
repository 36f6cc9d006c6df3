package config

const (
	defaultStorageProvider = "sqlite"
	defaultSQLitePath      = "engram.db"

	defaultAPIListen = ":8091"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768

	defaultExtractionProvider = "ollama"
	defaultExtractionTarget   = "http://localhost:11434"
	defaultExtractionModel    = "llama3.2"

	defaultDebounceMs = 5000
	defaultBatchSize  = 20

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "engram.batches"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider:   defaultStorageProvider,
			SQLitePath: defaultSQLitePath,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Extraction: ExtractionConfig{
			Provider: defaultExtractionProvider,
			Target:   defaultExtractionTarget,
			Model:    defaultExtractionModel,
		},
		Processing: ProcessingConfig{
			AutoProcess: true,
			DebounceMs:  defaultDebounceMs,
			BatchSize:   defaultBatchSize,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
	}
}
