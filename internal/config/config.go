package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig selects and configures the checkpoint store backend.
// Driver is "sqlite" (default, file-backed) or "postgres".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`

	// Path is the sqlite database file location. Used when Driver is "sqlite".
	Path string `mapstructure:"path" validate:"required_if=Driver sqlite"`

	// URL is the postgres connection string. Used when Driver is "postgres".
	URL string `mapstructure:"url" validate:"required_if=Driver postgres,omitempty,url"`
}

// LLMConfig contains all generation-backend settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string `mapstructure:"model_name" validate:"required"`

	// Temperature is passed through to the model for every stage call.
	Temperature float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// TaskConfig tunes the generation task engine.
type TaskConfig struct {
	// StageRetries is the number of times a stage is restarted after a
	// transient generator failure before the task is marked failed.
	StageRetries int `mapstructure:"stage_retries" validate:"gte=0,lte=10"`

	// RetryDelaySeconds is the pause between stage retry attempts.
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds" validate:"gte=0"`

	// EventBufferSize bounds each subscriber's delivery channel.
	EventBufferSize int `mapstructure:"event_buffer_size" validate:"gt=0"`
}
