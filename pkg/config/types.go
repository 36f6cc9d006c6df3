package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent engram configuration stored as config.toml
// in the .engram/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version    int              `toml:"version"`
	Storage    StorageConfig    `toml:"storage"`
	API        APIConfig        `toml:"api"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Extraction ExtractionConfig `toml:"extraction"`
	Processing ProcessingConfig `toml:"processing"`
	Events     EventsConfig     `toml:"events"`
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	// Provider is one of "sqlite", "postgres", "memory".
	Provider    string `toml:"provider,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider is one of "ollama", "dummy".
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// ExtractionConfig holds entity/relationship extraction settings.
type ExtractionConfig struct {
	// Provider is one of "ollama", "static".
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// ProcessingConfig holds the orchestrator's batching settings.
type ProcessingConfig struct {
	AutoProcess bool `toml:"auto_process"`
	DebounceMs  uint `toml:"debounce_ms,omitempty"`
	BatchSize   uint `toml:"batch_size,omitempty"`
}

// EventsConfig holds event stream settings.
type EventsConfig struct {
	// Provider is one of "nop", "kafka".
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider": {
		get: func(c *Config) string { return c.Storage.Provider },
		set: func(c *Config, v string) error { c.Storage.Provider = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"extraction.provider": {
		get: func(c *Config) string { return c.Extraction.Provider },
		set: func(c *Config, v string) error { c.Extraction.Provider = v; return nil },
	},
	"extraction.target": {
		get: func(c *Config) string { return c.Extraction.Target },
		set: func(c *Config, v string) error { c.Extraction.Target = v; return nil },
	},
	"extraction.model": {
		get: func(c *Config) string { return c.Extraction.Model },
		set: func(c *Config, v string) error { c.Extraction.Model = v; return nil },
	},
	"processing.auto_process": {
		get: func(c *Config) string { return strconv.FormatBool(c.Processing.AutoProcess) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for processing.auto_process: %w", err)
			}
			c.Processing.AutoProcess = b
			return nil
		},
	},
	"processing.debounce_ms": {
		get: func(c *Config) string {
			if c.Processing.DebounceMs == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Processing.DebounceMs), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for processing.debounce_ms: %w", err)
			}
			c.Processing.DebounceMs = uint(n)
			return nil
		},
	},
	"processing.batch_size": {
		get: func(c *Config) string {
			if c.Processing.BatchSize == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Processing.BatchSize), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for processing.batch_size: %w", err)
			}
			c.Processing.BatchSize = uint(n)
			return nil
		},
	},
	"events.provider": {
		get: func(c *Config) string { return c.Events.Provider },
		set: func(c *Config, v string) error { c.Events.Provider = v; return nil },
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
}
