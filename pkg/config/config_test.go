package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Consumer.Workers <= 0 {
		t.Errorf("expected positive default workers, got %d", cfg.Consumer.Workers)
	}
	if cfg.OCR.Mode != "skip" {
		t.Errorf("expected default ocr mode skip, got %q", cfg.OCR.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "consumer.yaml")
	yamlDoc := `
consumer:
  workers: 3
  taskTimeout: 90s
ocr:
  mode: redo
  outputType: pdfa-2
barcode:
  separatorString: SPLIT-HERE
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DA_CONSUMER_WORKERS", "5")
	t.Setenv("DA_OCR_LANGUAGE", "deu+eng")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Consumer.Workers != 5 {
		t.Errorf("env override not applied: workers=%d", cfg.Consumer.Workers)
	}
	if cfg.Consumer.TaskTimeout != 90*time.Second {
		t.Errorf("taskTimeout=%v", cfg.Consumer.TaskTimeout)
	}
	if cfg.OCR.Mode != "redo" || cfg.OCR.OutputType != "pdfa-2" {
		t.Errorf("ocr section not parsed: %+v", cfg.OCR)
	}
	if cfg.OCR.Language != "deu+eng" {
		t.Errorf("language=%q", cfg.OCR.Language)
	}
	if cfg.Barcode.SeparatorString != "SPLIT-HERE" {
		t.Errorf("separator=%q", cfg.Barcode.SeparatorString)
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("unset fields should keep defaults, got postgres port %d", cfg.Postgres.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero workers", func(c *Config) { c.Consumer.Workers = 0 }, "workers"},
		{"bad mode", func(c *Config) { c.OCR.Mode = "sometimes" }, "ocr.mode"},
		{"bad output", func(c *Config) { c.OCR.OutputType = "docx" }, "ocr.outputType"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }, "s3Bucket"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, "storage.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
