// Package config loads the service configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/relaycall/relaycall/internal/summarizer"
	"github.com/relaycall/relaycall/internal/transfer"
)

// Config is the root service configuration
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	LiveKit    LiveKitConfig     `mapstructure:"livekit"`
	Summarizer summarizer.Config `mapstructure:"summarizer"`
	Transfer   TransferConfig    `mapstructure:"transfer"`
	LogLevel   string            `mapstructure:"log_level"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LiveKitConfig holds the room platform connection settings
type LiveKitConfig struct {
	URL           string        `mapstructure:"url"`
	APIKey        string        `mapstructure:"api_key"`
	APISecret     string        `mapstructure:"api_secret"`
	CredentialTTL time.Duration `mapstructure:"credential_ttl"`
}

// TransferConfig holds the orchestration policy plus store retention
type TransferConfig struct {
	transfer.Config `mapstructure:",squash"`

	Retention       time.Duration `mapstructure:"retention"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// Load reads configuration from the given file (optional) and from
// RELAYCALL_-prefixed environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("summarizer.provider", summarizer.ProviderOpenAI)
	v.SetDefault("summarizer.max_tokens", 500)
	v.SetDefault("transfer.summary_max_attempts", 3)
	v.SetDefault("transfer.summary_retry_interval", time.Second)
	v.SetDefault("transfer.agent_join_timeout", 2*time.Minute)
	v.SetDefault("transfer.caller_join_timeout", 30*time.Second)
	v.SetDefault("transfer.poll_interval", 2*time.Second)
	v.SetDefault("transfer.retention", time.Hour)
	v.SetDefault("transfer.janitor_interval", 5*time.Minute)
	v.SetDefault("livekit.credential_ttl", 2*time.Hour)

	v.SetEnvPrefix("RELAYCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets are usually injected via environment; Unmarshal only sees
	// env values for keys viper knows about, so bind them explicitly.
	for _, key := range []string{
		"livekit.url", "livekit.api_key", "livekit.api_secret",
		"summarizer.provider", "summarizer.api_key", "summarizer.model",
	} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that required settings are present
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.LiveKit.URL == "" {
		return fmt.Errorf("livekit.url is required")
	}
	if c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
		return fmt.Errorf("livekit.api_key and livekit.api_secret are required")
	}
	if c.Summarizer.APIKey == "" {
		return fmt.Errorf("summarizer.api_key is required")
	}
	switch c.Summarizer.Provider {
	case summarizer.ProviderOpenAI, summarizer.ProviderGroq, "":
	default:
		return fmt.Errorf("unsupported summarizer provider: %s", c.Summarizer.Provider)
	}
	return nil
}
