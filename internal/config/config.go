// Package config loads repostream settings from a YAML file and
// REPOSTREAM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/fruitsalade/repostream/pkg/retry"
)

// Config is the full client configuration.
type Config struct {
	Host        string        `mapstructure:"host" validate:"required,url"`
	RepoURL     string        `mapstructure:"repo_url" validate:"omitempty,url"`
	Root        string        `mapstructure:"root"`
	Revision    string        `mapstructure:"revision"`
	Token       string        `mapstructure:"token"`
	TokenFile   string        `mapstructure:"token_file"`
	Exclude     []string      `mapstructure:"exclude"`
	Extensions  []string      `mapstructure:"extensions" validate:"dive,required"`
	MetricsAddr string        `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`

	Log      LogConfig      `mapstructure:"log"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	S3       S3Config       `mapstructure:"s3"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output"`
}

// RetryConfig controls remote request retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1,lte=20"`
	InitialWait time.Duration `mapstructure:"initial_wait" validate:"gt=0"`
	MaxWait     time.Duration `mapstructure:"max_wait" validate:"gtefield=InitialWait"`
}

// PrefetchConfig controls the prefetch command.
type PrefetchConfig struct {
	Workers int `mapstructure:"workers" validate:"gte=1,lte=64"`
}

// S3Config enables direct reads from S3 buckets instead of going through
// the repository API.
type S3Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Region    string `mapstructure:"region" validate:"required_if=Enabled true"`
	Endpoint  string `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKey string `mapstructure:"access_key" validate:"required_with=SecretKey"`
	SecretKey string `mapstructure:"secret_key" validate:"required_with=AccessKey"`
}

// RetryPolicy converts the settings to a retry.Config.
func (r RetryConfig) RetryPolicy() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = r.MaxAttempts
	cfg.InitialWait = r.InitialWait
	cfg.MaxWait = r.MaxWait
	return cfg
}

var validate = validator.New()

// Load reads configPath (or the default config file when empty), applies
// environment overrides and validates the result. A missing default
// config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REPOSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so environment variables can override
// keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "https://dagshub.com")
	v.SetDefault("repo_url", "")
	v.SetDefault("root", "")
	v.SetDefault("revision", "")
	v.SetDefault("token", "")
	v.SetDefault("token_file", "")
	v.SetDefault("exclude", []string{})
	v.SetDefault("extensions", []string{})
	v.SetDefault("metrics_addr", "")
	v.SetDefault("timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_wait", 200*time.Millisecond)
	v.SetDefault("retry.max_wait", 10*time.Second)

	v.SetDefault("prefetch.workers", 8)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
}

// Validate checks struct tags and reports the first failure.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}
	return nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "repostream")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "repostream")
}
