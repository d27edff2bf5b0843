package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file"`

	DatabasePath    string `mapstructure:"database_path" yaml:"database_path"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SessionBuffer   int    `mapstructure:"session_buffer" yaml:"session_buffer"`
	MetricsEnabled  bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	// SessionRateLimit caps inbound utterances per session per minute; 0 disables it.
	SessionRateLimit int `mapstructure:"session_rate_limit" yaml:"session_rate_limit"`

	// DefaultLanguage is used when language detection fails or returns an
	// unsupported code.
	DefaultLanguage   string        `mapstructure:"default_language" yaml:"default_language"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout" yaml:"transcribe_timeout"`

	Language LanguageConfig `mapstructure:"language" yaml:"language"`
	Speech   SpeechConfig   `mapstructure:"speech" yaml:"speech"`
	Media    MediaConfig    `mapstructure:"media" yaml:"media"`
}

// LanguageConfig configures the OpenAI-compatible language service (Groq by default).
type LanguageConfig struct {
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey             string        `mapstructure:"api_key" yaml:"api_key"`
	TranslationModel   string        `mapstructure:"translation_model" yaml:"translation_model"`
	SummaryModel       string        `mapstructure:"summary_model" yaml:"summary_model"`
	TranscriptionModel string        `mapstructure:"transcription_model" yaml:"transcription_model"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries         uint64        `mapstructure:"max_retries" yaml:"max_retries"`
}

// SpeechConfig configures the synthesis degrade chain.
type SpeechConfig struct {
	GeminiAPIKey     string        `mapstructure:"gemini_api_key" yaml:"gemini_api_key"`
	GeminiModel      string        `mapstructure:"gemini_model" yaml:"gemini_model"`
	SimpleBaseURL    string        `mapstructure:"simple_base_url" yaml:"simple_base_url"`
	FallbackLanguage string        `mapstructure:"fallback_language" yaml:"fallback_language"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MediaConfig selects where original and synthesized audio is kept.
type MediaConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "local" or "s3"
	Dir        string `mapstructure:"dir" yaml:"dir"`
	S3Bucket   string `mapstructure:"s3_bucket" yaml:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region" yaml:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint" yaml:"s3_endpoint"`
	S3Prefix   string `mapstructure:"s3_prefix" yaml:"s3_prefix"`
}

const (
	MediaBackendLocal = "local"
	MediaBackendS3    = "s3"
)

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "medrelay.db",
		MaxMessageBytes:   8 << 20,
		SessionBuffer:     32,
		SessionRateLimit:  60,
		MetricsEnabled:    true,
		DefaultLanguage:   "en",
		TranscribeTimeout: 60 * time.Second,
		Language: LanguageConfig{
			BaseURL:            "https://api.groq.com/openai/v1",
			TranslationModel:   "llama-3.3-70b-versatile",
			SummaryModel:       "llama-3.3-70b-versatile",
			TranscriptionModel: "whisper-large-v3",
			Timeout:            30 * time.Second,
			MaxRetries:         2,
		},
		Speech: SpeechConfig{
			GeminiModel:      "gemini-2.5-flash-preview-tts",
			SimpleBaseURL:    "https://translate.google.com/translate_tts",
			FallbackLanguage: "en",
			Timeout:          20 * time.Second,
		},
		Media: MediaConfig{
			Backend: MediaBackendLocal,
			Dir:     "audio_files",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}
