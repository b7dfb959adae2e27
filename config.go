package sylva

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v2"
)

// Store backend names accepted in Config.StoreBackend.
const (
	StoreBackendLocal  = "local"
	StoreBackendBadger = "badger"
)

// Blob backend names accepted in Config.BlobBackend.
const (
	BlobBackendFS      = "fs"
	BlobBackendStore   = "store"
	BlobBackendChunked = "chunked"
)

// JournalConfig configures the optional cluster journal. A repository with
// an empty DSN runs standalone, without replication.
type JournalConfig struct {
	// Driver is the database/sql driver name, e.g. "sqlite".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// SchemaObjectPrefix prefixes the journal table names.
	SchemaObjectPrefix string `yaml:"schemaObjectPrefix"`
	// JournalID identifies this cluster member. Must be unique per member.
	JournalID string `yaml:"journalId"`
}

// Config configures a repository instance.
type Config struct {
	// Path is the data directory root.
	Path string `yaml:"path"`
	// StoreBackend selects the item store: "local" or "badger".
	StoreBackend string `yaml:"storeBackend"`
	// BlobBackend selects where large values live: "fs", "store" or
	// "chunked". "chunked" requires the badger store backend.
	BlobBackend string `yaml:"blobBackend"`
	// MinBlobSize is the inline threshold in bytes. Values at or above it
	// are offloaded to the blob backend. Zero or omitted selects the
	// default of 4096; a negative value disables offloading entirely.
	MinBlobSize int `yaml:"minBlobSize"`
	// MinimumFreeGB is a free-space threshold for the badger backend.
	MinimumFreeGB uint `yaml:"minimumFreeGB"`
	// StrictTransitions makes commits fail on unexpected item statuses
	// instead of coercing them.
	StrictTransitions bool `yaml:"strictTransitions"`

	Journal JournalConfig `yaml:"journal"`

	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger `yaml:"-"`
}

// LoadConfig reads a YAML config file and applies defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StoreBackend == "" {
		c.StoreBackend = StoreBackendLocal
	}
	if c.BlobBackend == "" {
		c.BlobBackend = BlobBackendFS
	}
	if c.MinBlobSize == 0 {
		c.MinBlobSize = 4096
	}
	if c.Journal.SchemaObjectPrefix == "" {
		c.Journal.SchemaObjectPrefix = "SYLVA_"
	}
}

func (c *Config) validate() error {
	if c.Path == "" {
		return fmt.Errorf("config: path must be provided")
	}
	switch c.StoreBackend {
	case StoreBackendLocal, StoreBackendBadger:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	switch c.BlobBackend {
	case BlobBackendFS, BlobBackendStore:
	case BlobBackendChunked:
		if c.StoreBackend != StoreBackendBadger {
			return fmt.Errorf("config: chunked blob backend requires the badger store")
		}
	default:
		return fmt.Errorf("config: unknown blob backend %q", c.BlobBackend)
	}
	if c.Journal.DSN != "" && c.Journal.JournalID == "" {
		return fmt.Errorf("config: journal requires a journalId")
	}
	return nil
}
