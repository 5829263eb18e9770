package config

import (
	"time"

	"github.com/734ai/neuroforge/internal/memory/embedder"
)

// Default returns the full default configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		Core: CoreConfig{
			DataDir: dataDir,
		},
		Database: DatabaseConfig{
			BusyTimeout:    5 * time.Second,
			MaxConnections: 10,
		},
		Memory: MemoryConfig{
			MaxBufferBytes:     8 * 1024 * 1024,
			SearchLimit:        10,
			WriteQueueSize:     256,
			WriteRetryAttempts: 3,
			WriteRetryBackoff:  50 * time.Millisecond,
			Vector: VectorConfig{
				Enabled:    true,
				Collection: "records",
				Embedder:   embedder.DefaultConfig(),
			},
		},
		Session: SessionConfig{
			AutoStoreContext: true,
			DebounceInterval: 2 * time.Second,
		},
		Task: TaskConfig{
			WorkerPoolSize: 4,
			MaxRetries:     2,
			PluginTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
