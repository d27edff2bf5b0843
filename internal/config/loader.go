package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "MEDRELAY_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
	envPrefix            = "MEDRELAY"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so AutomaticEnv can resolve nested values
// that are absent from the config file.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("session_buffer", cfg.SessionBuffer)
	v.SetDefault("session_rate_limit", cfg.SessionRateLimit)
	v.SetDefault("metrics_enabled", cfg.MetricsEnabled)
	v.SetDefault("default_language", cfg.DefaultLanguage)
	v.SetDefault("transcribe_timeout", cfg.TranscribeTimeout)

	v.SetDefault("language.base_url", cfg.Language.BaseURL)
	v.SetDefault("language.api_key", cfg.Language.APIKey)
	v.SetDefault("language.translation_model", cfg.Language.TranslationModel)
	v.SetDefault("language.summary_model", cfg.Language.SummaryModel)
	v.SetDefault("language.transcription_model", cfg.Language.TranscriptionModel)
	v.SetDefault("language.timeout", cfg.Language.Timeout)
	v.SetDefault("language.max_retries", cfg.Language.MaxRetries)

	v.SetDefault("speech.gemini_api_key", cfg.Speech.GeminiAPIKey)
	v.SetDefault("speech.gemini_model", cfg.Speech.GeminiModel)
	v.SetDefault("speech.simple_base_url", cfg.Speech.SimpleBaseURL)
	v.SetDefault("speech.fallback_language", cfg.Speech.FallbackLanguage)
	v.SetDefault("speech.timeout", cfg.Speech.Timeout)

	v.SetDefault("media.backend", cfg.Media.Backend)
	v.SetDefault("media.dir", cfg.Media.Dir)
	v.SetDefault("media.s3_bucket", cfg.Media.S3Bucket)
	v.SetDefault("media.s3_region", cfg.Media.S3Region)
	v.SetDefault("media.s3_endpoint", cfg.Media.S3Endpoint)
	v.SetDefault("media.s3_prefix", cfg.Media.S3Prefix)
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	switch c.Media.Backend {
	case MediaBackendLocal:
		if c.Media.Dir == "" {
			return errors.New("media.dir is required for local backend")
		}
	case MediaBackendS3:
		if c.Media.S3Bucket == "" {
			return errors.New("media.s3_bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("unknown media backend %q", c.Media.Backend)
	}
	if c.SessionBuffer <= 0 {
		return errors.New("session_buffer must be positive")
	}
	if c.SessionRateLimit < 0 {
		return errors.New("session_rate_limit must not be negative")
	}
	if c.DefaultLanguage == "" {
		return errors.New("default_language is required")
	}
	return nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
