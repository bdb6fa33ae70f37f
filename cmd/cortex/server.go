package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/cortex/internal/aging"
	"github.com/kalambet/cortex/internal/api"
	"github.com/kalambet/cortex/internal/assembler"
	"github.com/kalambet/cortex/internal/autolearn"
	"github.com/kalambet/cortex/internal/config"
	"github.com/kalambet/cortex/internal/embed"
	"github.com/kalambet/cortex/internal/memory"
	"github.com/kalambet/cortex/internal/retrieval"
	"github.com/kalambet/cortex/internal/scanner"
	"github.com/kalambet/cortex/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	initLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage. A failed open is NOT fatal: the adapter stays up in
	// degraded mode so the hosting client keeps its connection and can see
	// the condition via health_check.
	var initErr error
	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		slog.Error("storage initialization failed, entering degraded mode", "error", err)
		initErr = err
		store = nil
	}

	deps := api.Deps{
		Workspace: cfg.Workspace,
		Version:   version,
		InitErr:   initErr,
	}

	var worker *embed.Worker
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				slog.Warn("closing storage", "error", err)
			}
		}()

		embedder, embErr := embed.New(cfg.EmbedModelPath, cfg.EmbedTokenizerPath)
		if embErr != nil {
			slog.Warn("embedding model unavailable, using hash fallback", "error", embErr)
		}

		// Persist the effective tunables so external tooling can read them.
		if err := store.SetAdaptive("max_active", fmt.Sprintf("%d", cfg.MaxActive)); err != nil {
			slog.Debug("recording adaptive config failed", "error", err)
		}
		if err := store.SetAdaptive("contradiction_jaccard", fmt.Sprintf("%g", cfg.ContradictionJaccard)); err != nil {
			slog.Debug("recording adaptive config failed", "error", err)
		}

		mem := memory.New(store, cfg.DedupJaccard, cfg.ContradictionJaccard)
		ret := retrieval.New(store, embedder)
		ag := aging.New(store, cfg.MaxActive)
		sc := scanner.NewFSScanner()
		asm := assembler.New(mem, ret, ag, sc, cfg.Workspace)

		deps.Store = store
		deps.Memory = mem
		deps.Retriever = ret
		deps.Assembler = asm
		deps.Aging = ag
		deps.Scanner = sc
		deps.Augmenter = autolearn.NewAugmenter(cfg.AnthropicAPIKey)

		worker = embed.NewWorker(store, embedder, 500*time.Millisecond)
		go worker.Run(ctx)
	}

	srv, err := api.NewServer(deps)
	if err != nil {
		return fmt.Errorf("building MCP server: %w", err)
	}
	defer srv.Close()

	// Optional HTTP health/stats listener.
	if cfg.Port > 0 {
		httpSrv := &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler: api.NewHTTPHandler(deps),
		}
		go func() {
			slog.Info("health endpoint listening", "addr", httpSrv.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("health endpoint failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
	}

	// The stdio transport owns stdout; everything else logs to stderr.
	stdioSrv := server.NewStdioServer(srv.MCP())
	slog.Info("cortex MCP server started", "version", version, "degraded", initErr != nil)

	err = stdioSrv.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stdio server: %w", err)
	}

	slog.Info("shutting down")
	return nil
}

// initLogging routes diagnostics to stderr, optionally teeing to
// ./cortex.log when CORTEX_DEBUG is set.
func initLogging(cfg config.Config) {
	level := slog.LevelInfo
	if cfg.Debug || cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if cfg.Debug {
		if f, err := os.OpenFile("cortex.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			out = io.MultiWriter(os.Stderr, f)
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}
