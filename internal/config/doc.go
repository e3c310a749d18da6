// Package config defines the application configuration structures and
// loads them from the environment. All settings can be provided as
// FABLECAST_-prefixed environment variables; sensible defaults cover
// everything except the LLM API key.
package config
