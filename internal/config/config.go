// Package config provides configuration management for the trading client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	API          APIConfig          `mapstructure:"api"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Credentials  Credentials        `mapstructure:"-"` // Loaded separately

	// Dir is the directory the configuration was loaded from. The session
	// database lives alongside the config files.
	Dir string `mapstructure:"-"`
}

// APIConfig holds API endpoint configuration.
type APIConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	DefaultAccountID  string        `mapstructure:"default_account_id"`
}

// AuthConfig holds token lifecycle configuration.
type AuthConfig struct {
	// TokenValidityMinutes is the requested API-key token lifetime,
	// enforced to 5..1440 by the auth provider.
	TokenValidityMinutes int `mapstructure:"token_validity_minutes"`
	// ExpiryBufferMinutes is the safety margin before true expiry at
	// which a token is treated as expired.
	ExpiryBufferMinutes int `mapstructure:"expiry_buffer_minutes"`
	// OAuth settings, used instead of the API key when set.
	OAuthClientID    string `mapstructure:"oauth_client_id"`
	OAuthRedirectURI string `mapstructure:"oauth_redirect_uri"`
}

// SubscriptionConfig holds default polling configuration.
type SubscriptionConfig struct {
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	RetryOnError    bool          `mapstructure:"retry_on_error"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// Credentials holds API credentials, loaded from credentials.toml.
type Credentials struct {
	APISecretKey string `mapstructure:"api_secret_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/public-trader"
	}
	return filepath.Join(home, ".config", "public-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("api.base_url", "https://api.public.com")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.requests_per_second", 10)
	v.SetDefault("auth.token_validity_minutes", 1440)
	v.SetDefault("auth.expiry_buffer_minutes", 5)
	v.SetDefault("subscription.polling_interval", time.Second)
	v.SetDefault("subscription.retry_on_error", true)
	v.SetDefault("subscription.max_retries", 3)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Missing config file falls back to defaults.
	}
	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PUBLIC_API_SECRET"); v != "" {
		cfg.Credentials.APISecretKey = v
	}
	if v := os.Getenv("PUBLIC_ACCOUNT_ID"); v != "" {
		cfg.API.DefaultAccountID = v
	}
	if v := os.Getenv("PUBLIC_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Auth.TokenValidityMinutes < 5 || c.Auth.TokenValidityMinutes > 1440 {
		return fmt.Errorf("token_validity_minutes must be between 5 and 1440")
	}
	if c.Auth.ExpiryBufferMinutes < 0 {
		return fmt.Errorf("expiry_buffer_minutes must be non-negative")
	}
	if c.Subscription.PollingInterval < 100*time.Millisecond || c.Subscription.PollingInterval > 60*time.Second {
		return fmt.Errorf("polling_interval must be between 100ms and 60s")
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be non-negative")
	}
	return nil
}
