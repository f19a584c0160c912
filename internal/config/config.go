// Package config assembles the typed server configuration from flags,
// environment and config files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names.
const EnvPrefix = "CLASSQUIZ"

// Config holds every setting of the server and worker.
type Config struct {
	Addr string

	Store    string // sqlite or mongo
	DB       string
	MongoURI string
	MongoDB  string

	Blob    string // fs or minio
	BlobDir string
	Minio   MinioConfig

	Redis RedisConfig

	LLM LLMConfig

	Timezone       string
	StatusBuffer   time.Duration
	StartLeniency  time.Duration
	DocMaxScore    float64
	OCRConcurrency int

	JWTSecret         string
	ChatTTL           time.Duration
	WorkerConcurrency int

	LogLevel  string
	LogFormat string
	LogFile   string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	SSL       bool
}

// RedisConfig locates the task queue broker and conversation store. An
// empty Addr runs jobs in process and keeps conversations in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LLMConfig struct {
	Provider    string // openai or gemini
	URL         string
	Key         string
	Model       string
	VisionModel string
	Timeout     time.Duration
	RPS         float64
	Temperature float64
}

// RegisterFlags adds the server flags with their defaults.
func RegisterFlags(f *pflag.FlagSet) {
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("store", "sqlite", "Quiz store backend (sqlite, mongo)")
	f.String("db", "classquiz.db", "SQLite database path")
	f.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	f.String("mongo-db", "classquiz", "MongoDB database name")
	f.String("blob", "fs", "Document storage backend (fs, minio)")
	f.String("blob-dir", "data/documents", "Directory for the fs document backend")
	f.String("minio-endpoint", "localhost:9000", "MinIO endpoint")
	f.String("minio-access-key", "", "MinIO access key")
	f.String("minio-secret-key", "", "MinIO secret key")
	f.String("minio-bucket", "classquiz", "MinIO bucket")
	f.Bool("minio-ssl", false, "Use TLS for MinIO")
	f.String("redis-addr", "", "Redis address for the job queue and chat history (empty runs jobs in process)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.String("llm-provider", "openai", "LLM provider (openai, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("vision-model", "", "Model used for OCR (defaults to llm-model)")
	f.Duration("llm-timeout", 2*time.Minute, "Timeout for a single LLM call")
	f.Float64("llm-rps", 2, "Sustained LLM calls per second (0 = unlimited)")
	f.Float64("llm-temperature", 0.1, "Sampling temperature for extraction and grading")
	f.String("timezone", "UTC", "Authoritative timezone for quiz windows")
	f.Duration("status-buffer", 10*time.Minute, "Grace period around quiz windows")
	f.Duration("start-leniency", 5*time.Minute, "Extra time to start a quiz after its window")
	f.Float64("doc-max-score", 20, "Maximum score per question of a document quiz")
	f.Int("ocr-concurrency", 4, "Pages transcribed in parallel")
	f.String("jwt-secret", "", "HMAC secret for bearer tokens (or set CLASSQUIZ_JWT_SECRET)")
	f.Duration("chat-ttl", 30*time.Minute, "Chat conversation expiry after inactivity")
	f.Int("worker-concurrency", 4, "Background jobs processed in parallel")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated")
}

// NewViper binds flags, CLASSQUIZ_* environment variables and an optional
// classquiz.{yaml,toml,json} file to a fresh viper instance.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("classquiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/classquiz")
	v.AddConfigPath("/etc/classquiz")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// FromViper reads a Config. Call Validate before use.
func FromViper(v *viper.Viper) Config {
	return Config{
		Addr:     v.GetString("addr"),
		Store:    strings.ToLower(v.GetString("store")),
		DB:       v.GetString("db"),
		MongoURI: v.GetString("mongo-uri"),
		MongoDB:  v.GetString("mongo-db"),
		Blob:     strings.ToLower(v.GetString("blob")),
		BlobDir:  v.GetString("blob-dir"),
		Minio: MinioConfig{
			Endpoint:  v.GetString("minio-endpoint"),
			AccessKey: v.GetString("minio-access-key"),
			SecretKey: v.GetString("minio-secret-key"),
			Bucket:    v.GetString("minio-bucket"),
			SSL:       v.GetBool("minio-ssl"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(v.GetString("llm-provider")),
			URL:         v.GetString("llm-url"),
			Key:         v.GetString("llm-key"),
			Model:       v.GetString("llm-model"),
			VisionModel: v.GetString("vision-model"),
			Timeout:     v.GetDuration("llm-timeout"),
			RPS:         v.GetFloat64("llm-rps"),
			Temperature: v.GetFloat64("llm-temperature"),
		},
		Timezone:          v.GetString("timezone"),
		StatusBuffer:      v.GetDuration("status-buffer"),
		StartLeniency:     v.GetDuration("start-leniency"),
		DocMaxScore:       v.GetFloat64("doc-max-score"),
		OCRConcurrency:    v.GetInt("ocr-concurrency"),
		JWTSecret:         v.GetString("jwt-secret"),
		ChatTTL:           v.GetDuration("chat-ttl"),
		WorkerConcurrency: v.GetInt("worker-concurrency"),
		LogLevel:          v.GetString("log-level"),
		LogFormat:         v.GetString("log-format"),
		LogFile:           v.GetString("log-file"),
	}
}

// MaxTemperature bounds llm-temperature.
const MaxTemperature = 0.3

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Store {
	case "sqlite":
		if c.DB == "" {
			bad("db is required for the sqlite store")
		}
	case "mongo":
		if c.MongoURI == "" || c.MongoDB == "" {
			bad("mongo-uri and mongo-db are required for the mongo store")
		}
	default:
		bad("store must be sqlite or mongo, got %q", c.Store)
	}
	switch c.Blob {
	case "fs":
		if c.BlobDir == "" {
			bad("blob-dir is required for the fs blob backend")
		}
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			bad("minio-endpoint and minio-bucket are required for the minio blob backend")
		}
	default:
		bad("blob must be fs or minio, got %q", c.Blob)
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		bad("llm-provider must be openai or gemini, got %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		bad("llm-model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > MaxTemperature {
		bad("llm-temperature must be between 0 and %g", MaxTemperature)
	}
	if c.LLM.Timeout < 0 || c.LLM.RPS < 0 {
		bad("llm-timeout and llm-rps must not be negative")
	}
	if c.StatusBuffer < 0 {
		bad("status-buffer must not be negative")
	}
	if c.StartLeniency < 0 || c.StartLeniency > 15*time.Minute {
		bad("start-leniency must be between 0 and 15m")
	}
	if c.DocMaxScore <= 0 {
		bad("doc-max-score must be positive")
	}
	if c.OCRConcurrency < 1 || c.WorkerConcurrency < 1 {
		bad("ocr-concurrency and worker-concurrency must be at least 1")
	}
	if c.ChatTTL <= 0 {
		bad("chat-ttl must be positive")
	}
	return errors.Join(errs...)
}
