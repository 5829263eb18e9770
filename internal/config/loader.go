package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/734ai/neuroforge/internal/types"
)

// Load reads configuration from a YAML file, layered over defaults and
// finished with environment overrides. A missing file is not an error;
// defaults plus environment apply.
func Load(path string, dataDir string) (*Config, error) {
	cfg := Default(dataDir)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, types.WrapError(types.CONFIG_LOAD_FAILED,
				fmt.Sprintf("failed to read config file %s", path), err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, types.WrapError(types.CONFIG_PARSE_FAILED,
					fmt.Sprintf("failed to parse config file %s", path), err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps NEUROFORGE_* environment variables onto the
// config. Unparseable values are ignored in favor of the file value.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setBool := func(key string, target *bool) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*target = parsed
			}
		}
	}
	setInt := func(key string, target *int) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				*target = parsed
			}
		}
	}
	setInt64 := func(key string, target *int64) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				*target = parsed
			}
		}
	}
	setDuration := func(key string, target *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				*target = parsed
			}
		}
	}

	setString("NEUROFORGE_DATA_DIR", &cfg.Core.DataDir)
	setString("NEUROFORGE_WORKSPACE_ROOT", &cfg.Core.WorkspaceRoot)
	setString("NEUROFORGE_DB_PATH", &cfg.Database.Path)
	setInt64("NEUROFORGE_MAX_BUFFER_BYTES", &cfg.Memory.MaxBufferBytes)
	setInt("NEUROFORGE_SEARCH_LIMIT", &cfg.Memory.SearchLimit)
	setBool("NEUROFORGE_VECTOR_ENABLED", &cfg.Memory.Vector.Enabled)
	setBool("NEUROFORGE_AUTO_STORE_CONTEXT", &cfg.Session.AutoStoreContext)
	setDuration("NEUROFORGE_DEBOUNCE_INTERVAL", &cfg.Session.DebounceInterval)
	setInt("NEUROFORGE_WORKER_POOL_SIZE", &cfg.Task.WorkerPoolSize)
	setInt("NEUROFORGE_MAX_RETRIES", &cfg.Task.MaxRetries)
	setDuration("NEUROFORGE_PLUGIN_TIMEOUT", &cfg.Task.PluginTimeout)
	setString("NEUROFORGE_LOG_LEVEL", &cfg.Logging.Level)
	setString("NEUROFORGE_LOG_FORMAT", &cfg.Logging.Format)
}
