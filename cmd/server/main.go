package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/redliner/internal/analyze"
	"github.com/dgallion1/redliner/internal/api"
	"github.com/dgallion1/redliner/internal/config"
	"github.com/dgallion1/redliner/internal/export"
	"github.com/dgallion1/redliner/internal/markup"
	"github.com/dgallion1/redliner/internal/pipeline"
	"github.com/dgallion1/redliner/internal/session"
	"github.com/dgallion1/redliner/internal/storage"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	palette, err := markup.LoadPalette(cfg.PaletteFile)
	if err != nil {
		log.Error("load palette", "path", cfg.PaletteFile, "error", err)
		os.Exit(1)
	}
	proj := markup.NewProjector(palette, log)

	repo, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	sessions := session.NewManager(proj, repo, cfg.SessionTTL, log)
	go sessions.Run(ctx, time.Minute)

	// Initialize the suggestion producer.
	var claude *analyze.ClaudeClient
	var analyzer analyze.Analyzer = analyze.RuleAnalyzer{}
	if cfg.UseClaude() {
		claude = analyze.NewClaudeClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		analyzer = analyze.NewLLMAnalyzer(claude, log)
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, analyzer, sessions, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	exporter := export.Exporter{Projector: proj, Palette: palette, Log: log}
	srv := api.NewServer(orch, sessions, repo, exporter, claude, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		// Live review sockets outlive any write timeout; they set their own deadlines.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		cancel()
		sessions.Close()
		if claude != nil {
			claude.Close()
		}
		if err := repo.Close(); err != nil {
			log.Error("close database", "error", err)
		}
	}()

	log.Info("starting redliner", "port", cfg.Port, "analyzer", analyzerName(cfg), "database", cfg.DatabasePath)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func analyzerName(cfg config.Config) string {
	if cfg.UseClaude() {
		return config.AnalyzerClaude
	}
	return config.AnalyzerRules
}
