package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// APIConfig selects the model endpoint credentials and registry.
type APIConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	ModelsFile   string
}

// TranslationConfig tunes the batch engine and the image retrier.
type TranslationConfig struct {
	BatchSize       int
	MaxWorkers      int
	SingleTimeout   time.Duration
	BatchTimeout    time.Duration
	VisionTimeout   time.Duration
	Temperature     float64
	FailureSentinel string
	ImageMaxRetries int
	DefaultTarget   string
}

// LimiterConfig throttles calls to the model endpoint.
type LimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	RedisURL          string
	PerMinute         int
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	Dir               string
	MaxBytes          int64
	AllowedExtensions []string
	MaxPDFPages       int
}

// ExportConfig controls optional S3 delivery of exported files.
type ExportConfig struct {
	S3Bucket string
	S3Prefix string
}

// ConverterConfig controls LibreOffice conversions of Word documents.
type ConverterConfig struct {
	MaxWorkers int
	Timeout    time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging     LoggingConfig
	Axiom       AxiomConfig
	API         APIConfig
	Translation TranslationConfig
	Limiter     LimiterConfig
	Upload      UploadConfig
	Export      ExportConfig
	Converter   ConverterConfig
	Server      ServerConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/doctranslate.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_doctranslate",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.API = APIConfig{
		BaseURL:      getEnv("API_BASE_URL", "https://api.ephone.ai"),
		APIKey:       getEnv("API_KEY", ""),
		DefaultModel: getEnv("DEFAULT_MODEL", "gpt-4o"),
		ModelsFile:   getEnv("MODELS_FILE", ""),
	}

	cfg.Translation = TranslationConfig{
		BatchSize:       parseInt(getEnv("BATCH_SIZE", "15"), 15),
		MaxWorkers:      parseInt(getEnv("MAX_WORKERS", "3"), 3),
		SingleTimeout:   parseDuration(getEnv("SINGLE_TIMEOUT", "30s"), 30*time.Second),
		BatchTimeout:    parseDuration(getEnv("BATCH_TIMEOUT", "60s"), 60*time.Second),
		VisionTimeout:   parseDuration(getEnv("VISION_TIMEOUT", "30s"), 30*time.Second),
		Temperature:     parseFloat(getEnv("TEMPERATURE", "0.3"), 0.3),
		FailureSentinel: getEnv("FAILURE_SENTINEL", "[翻译失败]"),
		ImageMaxRetries: parseInt(getEnv("IMAGE_MAX_RETRIES", "3"), 3),
		DefaultTarget:   getEnv("DEFAULT_TARGET_LANG", "zh-CN"),
	}
	// Batch payloads scale with BATCH_SIZE; the batch budget never drops below 60s.
	if cfg.Translation.BatchTimeout < 60*time.Second {
		cfg.Translation.BatchTimeout = 60 * time.Second
	}

	cfg.Limiter = LimiterConfig{
		RequestsPerSecond: parseFloat(getEnv("LIMIT_RPS", "0"), 0),
		Burst:             parseInt(getEnv("LIMIT_BURST", "3"), 3),
		RedisURL:          getEnv("REDIS_URL", ""),
		PerMinute:         parseInt(getEnv("LIMIT_PER_MINUTE", "0"), 0),
	}

	cfg.Upload = UploadConfig{
		Dir:               getEnv("UPLOAD_DIR", "uploads"),
		MaxBytes:          int64(parseInt(getEnv("MAX_FILE_SIZE", "16777216"), 16<<20)),
		AllowedExtensions: parseList(getEnv("ALLOWED_EXTENSIONS", "pdf,docx,doc,png,jpg,jpeg,gif,bmp,webp,txt")),
		MaxPDFPages:       parseInt(getEnv("MAX_PDF_PAGES", "0"), 0),
	}

	cfg.Export = ExportConfig{
		S3Bucket: getEnv("EXPORT_S3_BUCKET", ""),
		S3Prefix: getEnv("EXPORT_S3_PREFIX", "exports"),
	}

	cfg.Converter = ConverterConfig{
		MaxWorkers: parseInt(getEnv("CONVERTER_WORKERS", "2"), 2),
		Timeout:    parseDuration(getEnv("CONVERTER_TIMEOUT", "180s"), 180*time.Second),
	}

	cfg.Server = ServerConfig{
		Port:            getEnv("PORT", "5001"),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), ".")))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
