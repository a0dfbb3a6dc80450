package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "REDLINE_API_KEY", "ANALYZER", "ANTHROPIC_API_KEY", "CHUNK_SIZE", "TYPING_IDLE", "DATABASE_PATH"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Port != "8090" {
		t.Errorf("expected default port 8090, got %q", cfg.Port)
	}
	if cfg.ChunkSize != 1500 || cfg.ChunkOverlap != 200 {
		t.Errorf("unexpected chunk defaults %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.TypingIdle != time.Second || cfg.CompositionDelay != 10*time.Millisecond {
		t.Errorf("unexpected synchronizer defaults %v/%v", cfg.TypingIdle, cfg.CompositionDelay)
	}
	if cfg.DatabasePath != "data/redliner.db" {
		t.Errorf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.UseClaude() {
		t.Error("auto analyzer without a key should use rules")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WORKER_COUNT", "9")
	t.Setenv("TYPING_IDLE", "250ms")
	t.Setenv("PDF_FALLBACK_PDFTOTEXT", "false")
	t.Setenv("MAX_QUEUE_SIZE", "-1")
	t.Setenv("SESSION_TTL", "not-a-duration")

	cfg := Load()
	if cfg.WorkerCount != 9 {
		t.Errorf("expected 9 workers, got %d", cfg.WorkerCount)
	}
	if cfg.TypingIdle != 250*time.Millisecond {
		t.Errorf("expected 250ms typing idle, got %v", cfg.TypingIdle)
	}
	if cfg.PDFFallbackPdftotext {
		t.Error("expected pdftotext fallback disabled")
	}
	if cfg.MaxQueueSize != 100 {
		t.Errorf("expected invalid queue size to reset to 100, got %d", cfg.MaxQueueSize)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("expected unparseable TTL to use default, got %v", cfg.SessionTTL)
	}
}

func TestValidate(t *testing.T) {
	base := Config{RedlineAPIKey: "k", Analyzer: AnalyzerAuto, ChunkSize: 1500, ChunkOverlap: 200}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing api key", func(c *Config) { c.RedlineAPIKey = "" }, true},
		{"claude without key", func(c *Config) { c.Analyzer = AnalyzerClaude }, true},
		{"claude with key", func(c *Config) { c.Analyzer = AnalyzerClaude; c.AnthropicAPIKey = "x" }, false},
		{"unknown analyzer", func(c *Config) { c.Analyzer = "gpt" }, true},
		{"overlap too large", func(c *Config) { c.ChunkOverlap = 1500 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUseClaude(t *testing.T) {
	if !(Config{Analyzer: AnalyzerAuto, AnthropicAPIKey: "x"}).UseClaude() {
		t.Error("auto with key should use claude")
	}
	if (Config{Analyzer: AnalyzerRules, AnthropicAPIKey: "x"}).UseClaude() {
		t.Error("rules should never use claude")
	}
}
