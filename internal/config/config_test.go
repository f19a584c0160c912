package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func defaults(t *testing.T, args ...string) Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	v, err := NewViper(fs)
	if err != nil {
		t.Fatal(err)
	}
	return FromViper(v)
}

func TestDefaultsAreValid(t *testing.T) {
	t.Chdir(t.TempDir())
	c := defaults(t)
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if c.StatusBuffer != 10*time.Minute || c.StartLeniency != 5*time.Minute || c.DocMaxScore != 20 {
		t.Errorf("defaults = %+v", c)
	}
}

func TestFlagsAndEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLASSQUIZ_REDIS_ADDR", "redis:6379")
	t.Setenv("CLASSQUIZ_LLM_PROVIDER", "Gemini")
	c := defaults(t, "--store", "mongo", "--start-leniency", "15m")

	if c.Redis.Addr != "redis:6379" || c.LLM.Provider != "gemini" {
		t.Errorf("environment not applied: %+v", c)
	}
	if c.Store != "mongo" || c.StartLeniency != 15*time.Minute {
		t.Errorf("flags not applied: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store = "postgres" }, "store must be"},
		{"missing blob dir", func(c *Config) { c.BlobDir = "" }, "blob-dir"},
		{"minio without bucket", func(c *Config) { c.Blob = "minio"; c.Minio.Bucket = "" }, "minio-bucket"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "claude" }, "llm-provider"},
		{"hot temperature", func(c *Config) { c.LLM.Temperature = 0.7 }, "llm-temperature"},
		{"leniency too long", func(c *Config) { c.StartLeniency = 20 * time.Minute }, "start-leniency"},
		{"zero max score", func(c *Config) { c.DocMaxScore = 0 }, "doc-max-score"},
		{"no workers", func(c *Config) { c.WorkerConcurrency = 0 }, "worker-concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaults(t)
			tt.modify(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
