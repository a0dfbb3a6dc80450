package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Analyzer modes.
const (
	AnalyzerAuto   = "auto"
	AnalyzerClaude = "claude"
	AnalyzerRules  = "rules"
)

type Config struct {
	Port string

	// Auth
	RedlineAPIKey string

	// Suggestion producer. "auto" uses Claude when a key is set and the
	// built-in rules otherwise.
	Analyzer        string
	AnthropicAPIKey string
	AnthropicModel  string

	// Worker pool
	WorkerCount          int
	MaxQueueSize         int
	MaxConcurrentAnalyze int

	// Upload limits
	MaxUploadBytes int64

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Job and session state
	JobTTL     time.Duration
	SessionTTL time.Duration

	// Extraction
	PDFFallbackPdftotext bool
	ExtractTimeout       time.Duration

	// Persistence
	DatabasePath string

	// Rendering
	PaletteFile      string
	TypingIdle       time.Duration
	CompositionDelay time.Duration
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		RedlineAPIKey: os.Getenv("REDLINE_API_KEY"),

		Analyzer:        envOr("ANALYZER", AnalyzerAuto),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		WorkerCount:          envInt("WORKER_COUNT", 4),
		MaxQueueSize:         envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentAnalyze: envInt("MAX_CONCURRENT_ANALYZE", 5),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		ChunkSize:    envInt("CHUNK_SIZE", 1500),
		ChunkOverlap: envInt("CHUNK_OVERLAP", 200),

		JobTTL:     envDuration("JOB_TTL", 1*time.Hour),
		SessionTTL: envDuration("SESSION_TTL", 30*time.Minute),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
		ExtractTimeout:       envDuration("EXTRACT_TIMEOUT", 2*time.Minute),

		DatabasePath: envOr("DATABASE_PATH", "data/redliner.db"),

		PaletteFile:      os.Getenv("PALETTE_FILE"),
		TypingIdle:       envDuration("TYPING_IDLE", time.Second),
		CompositionDelay: envDuration("COMPOSITION_DELAY", 10*time.Millisecond),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentAnalyze <= 0 {
		cfg.MaxConcurrentAnalyze = 5
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1500
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = time.Second
	}
	if cfg.CompositionDelay <= 0 {
		cfg.CompositionDelay = 10 * time.Millisecond
	}

	return cfg
}

// UseClaude reports whether suggestions come from the Claude analyzer.
func (c Config) UseClaude() bool {
	switch c.Analyzer {
	case AnalyzerClaude:
		return true
	case AnalyzerRules:
		return false
	default:
		return c.AnthropicAPIKey != ""
	}
}

func (c Config) Validate() error {
	if c.RedlineAPIKey == "" {
		return fmt.Errorf("REDLINE_API_KEY is required")
	}
	switch c.Analyzer {
	case AnalyzerAuto, AnalyzerRules:
	case AnalyzerClaude:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when ANALYZER=claude")
		}
	default:
		return fmt.Errorf("ANALYZER must be one of auto, claude, rules; got %q", c.Analyzer)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
