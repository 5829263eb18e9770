// Package config loads, defaults, and validates NeuroForge configuration
// from YAML files with environment variable overrides.
package config

import (
	"path/filepath"
	"time"

	"github.com/734ai/neuroforge/internal/memory/embedder"
)

// Config is the root configuration.
type Config struct {
	Core     CoreConfig     `yaml:"core"`
	Database DatabaseConfig `yaml:"database"`
	Memory   MemoryConfig   `yaml:"memory"`
	Session  SessionConfig  `yaml:"session"`
	Task     TaskConfig     `yaml:"task"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CoreConfig holds top-level settings.
type CoreConfig struct {
	// DataDir is where all local state lives.
	DataDir string `yaml:"data_dir" validate:"required"`
	// WorkspaceRoot is the tracked workspace. Defaults to the working
	// directory at startup.
	WorkspaceRoot string `yaml:"workspace_root"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path to the database file. Defaults to <data_dir>/neuroforge.db.
	Path           string        `yaml:"path"`
	BusyTimeout    time.Duration `yaml:"busy_timeout" validate:"min=0"`
	MaxConnections int           `yaml:"max_connections" validate:"min=1,max=100"`
}

// MemoryConfig configures the hybrid memory engine.
type MemoryConfig struct {
	// MaxBufferBytes is the fast buffer byte budget.
	MaxBufferBytes int64 `yaml:"max_buffer_bytes" validate:"min=1024"`
	// SearchLimit is the default number of search results.
	SearchLimit        int           `yaml:"search_limit" validate:"min=1,max=1000"`
	WriteQueueSize     int           `yaml:"write_queue_size" validate:"min=1"`
	WriteRetryAttempts int           `yaml:"write_retry_attempts" validate:"min=1,max=10"`
	WriteRetryBackoff  time.Duration `yaml:"write_retry_backoff" validate:"min=1ms"`
	Vector             VectorConfig  `yaml:"vector"`
}

// VectorConfig configures the semantic index.
type VectorConfig struct {
	// Enabled toggles semantic search; lexical search always works.
	Enabled bool `yaml:"enabled"`
	// PersistPath stores the index on disk. Empty means memory-only,
	// rebuilt per run.
	PersistPath string          `yaml:"persist_path"`
	Collection  string          `yaml:"collection"`
	Embedder    embedder.Config `yaml:"embedder"`
}

// SessionConfig configures workspace context tracking.
type SessionConfig struct {
	AutoStoreContext bool          `yaml:"auto_store_context"`
	DebounceInterval time.Duration `yaml:"debounce_interval" validate:"min=1ms"`
}

// TaskConfig configures the scheduler and dispatcher.
type TaskConfig struct {
	WorkerPoolSize int           `yaml:"worker_pool_size" validate:"min=1,max=64"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=0,max=10"`
	PluginTimeout  time.Duration `yaml:"plugin_timeout" validate:"min=1ms"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// Format is text or json.
	Format string `yaml:"format" validate:"oneof=text json"`
}

// DatabasePath resolves the database file path against the data dir.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Core.DataDir, "neuroforge.db")
}

// VectorPersistPath resolves the vector index directory against the data
// dir. The index must survive restarts alongside the database, otherwise
// every new process starts with an empty index and only lexical search.
func (c *Config) VectorPersistPath() string {
	if c.Memory.Vector.PersistPath != "" {
		return c.Memory.Vector.PersistPath
	}
	return filepath.Join(c.Core.DataDir, "vector")
}
