package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/api"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/config"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/ingest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, MCP endpoint and background worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and model status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stdio := server.NewStdioServer(api.NewMCPServer(a.mcpDeps(), version))
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func (a *app) mcpDeps() api.MCPDeps {
	return api.MCPDeps{
		Store:        a.store,
		Orchestrator: a.orchestrator,
		Context:      a.context,
		Thinker:      a.thinker,
	}
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "assistant.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "assistant version %s\n", version)

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured; HTTP API is unauthenticated", "env", "ASSISTANT_API_TOKEN")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	existing := newServerClient(cfg, 2*time.Second)
	if _, _, err := existing.Healthy(context.Background()); err == nil {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("assistant is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("assistant is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewAppHandler(api.AppDeps{
		Store:        a.store,
		Orchestrator: a.orchestrator,
		Context:      a.context,
		Thinker:      a.thinker,
		Metrics:      a.metrics,
		Token:        cfg.Server.APIToken,
		MCP:          api.NewMCPServer(a.mcpDeps(), version),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Background job processing for queued notes and thinking runs.
	worker := ingest.NewWorker(a.store, a.orchestrator, a.thinker, a.metrics, 500*time.Millisecond)
	go worker.Run(ctx)

	interval, _ := cfg.ThinkingInterval()
	if interval > 0 {
		go ingest.ScheduleThinking(ctx, a.store, interval)
		slog.Info("thinking scheduled", "interval", interval)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "assistant listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("assistant is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop assistant (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to assistant (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	ok, code, err := newServerClient(cfg, 2*time.Second).Healthy(context.Background())
	switch {
	case err != nil:
		printField("Server", "stopped")
	case ok:
		printField("Server", "running on port %d", cfg.Server.Port)
	default:
		printField("Server", "error (HTTP %d)", code)
	}

	llmState := "not configured (rule-based fallback)"
	if cfg.LLM.APIKey != "" || cfg.LLM.Provider == "ollama" {
		llmState = cfg.LLM.Provider + ":" + cfg.LLM.Model
	}
	printField("LLM", "%s", llmState)
	printField("Embeddings", "%s (%s)", cfg.Embedding.Provider, cfg.Embedding.Model)
	printField("Threshold", "%.2f", cfg.Routing.Threshold)
	printField("Timezone", "%s", cfg.Timezone)
	printField("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
