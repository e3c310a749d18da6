package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for all environment variables read by Load,
// e.g. FABLECAST_SERVER_PORT, FABLECAST_DATABASE_URL.
const envPrefix = "FABLECAST"

// Load reads configuration from environment variables, applies defaults,
// and validates the result. Environment variables take precedence over
// defaults. Returns a populated Config or an error describing the first
// loading or validation failure.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface nested keys during Unmarshal,
	// so bind each known key explicitly.
	for _, key := range []string{
		"server.port",
		"server.log_level",
		"database.driver",
		"database.path",
		"database.url",
		"llm.gemini_api_key",
		"llm.model_name",
		"llm.temperature",
		"task.stage_retries",
		"task.retry_delay_seconds",
		"task.event_buffer_size",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment key %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every optional setting.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "fablecast.db")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("task.stage_retries", 3)
	v.SetDefault("task.retry_delay_seconds", 2)
	v.SetDefault("task.event_buffer_size", 256)
}
