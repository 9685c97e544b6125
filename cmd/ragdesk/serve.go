package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"ragdesk/internal/api"
	"ragdesk/internal/backend"
	"ragdesk/internal/chat"
	"ragdesk/internal/citation"
	"ragdesk/internal/config"
	"ragdesk/internal/ollama"
	"ragdesk/internal/session"
	"ragdesk/internal/storage"
	"ragdesk/internal/viewer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ragdesk server (HTTP API + MCP stdio, foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	fmt.Fprintf(os.Stderr, "ragdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check Ollama readiness. Generation is optional: retrieval-only queries
	// still work when no local model is available.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.Model, os.Stderr); err != nil {
		printWarning("Ollama not ready, generation disabled: %v", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	backendClient := backend.New(cfg.Backend.DocServerURL)
	if !backendClient.Configured() {
		printWarning("no document server configured; set backend.doc_server_url")
	}

	sess := session.New(backendClient)
	if backendClient.Configured() {
		if err := sess.Refresh(ctx); err != nil {
			slog.Warn("initial session refresh failed", "error", err)
		}
	}

	view := viewer.New(filepath.Join(cfg.Storage.DataDir, "cache"))
	resolver := citation.NewResolver(backendClient, view)
	history := chat.NewHistory(store)
	orchestrator := chat.NewOrchestrator(backendClient, ollamaClient, sess, history, cfg.Ollama.Model)
	layoutMgr := session.NewLayoutManager(session.NewFileLayoutStore(cfg.Storage.DataDir))

	handler := api.NewHandler(api.Deps{
		Orchestrator: orchestrator,
		Session:      sess,
		Viewer:       view,
		Resolver:     resolver,
		Library:      backendClient,
		Transcript:   store,
		Layout:       layoutMgr,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Orchestrator: orchestrator,
		Searcher:     backendClient,
		Selection:    sess,
		Transcript:   store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start HTTP server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "ragdesk listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupLogging(cfg config.Config) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
