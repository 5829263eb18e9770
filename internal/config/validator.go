package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/734ai/neuroforge/internal/types"
)

var validate = validator.New()

// Validate checks the configuration against struct tags plus cross-field
// rules the tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make([]string, 0, len(invalid))
			for _, fieldErr := range invalid {
				fields = append(fields, fmt.Sprintf("%s (%s)",
					fieldErr.Namespace(), fieldErr.Tag()))
			}
			return types.NewError(types.CONFIG_VALIDATION_FAILED,
				"invalid configuration: "+strings.Join(fields, ", "))
		}
		return types.WrapError(types.CONFIG_VALIDATION_FAILED, "config validation failed", err)
	}

	if cfg.Memory.WriteRetryBackoff >= cfg.Task.PluginTimeout {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"memory.write_retry_backoff must be shorter than task.plugin_timeout")
	}
	return nil
}
