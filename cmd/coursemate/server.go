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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"coursemate/internal/api"
	"coursemate/internal/assistant"
	"coursemate/internal/backend"
	"coursemate/internal/config"
	"coursemate/internal/embed"
	"coursemate/internal/history"
	"coursemate/internal/index"
	"coursemate/internal/metrics"
	"coursemate/internal/ollama"
	"coursemate/internal/router"
	"coursemate/internal/searcher"
	"coursemate/internal/splitter"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the coursemate server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running coursemate server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coursemate system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "coursemate version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint before claiming
	// the PID file.
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(cfg.PIDFile()); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(cfg.PIDFile()); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(cfg.PIDFile())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oc := ollama.New(cfg.Ollama.BaseURL)
	if err := checkOllama(ctx, oc, cfg); err != nil {
		return err
	}

	hist, err := history.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer func() {
		if err := hist.Close(); err != nil {
			slog.Warn("closing history store", "error", err)
		}
	}()

	// Wire the answering stack.
	ledger := metrics.NewLedger()
	embedder := embed.New(oc, cfg.Ollama.EmbedModel)
	store := index.NewStore(cfg.IndexRoot(), embedder, cfg.Ollama.EmbedDim)
	search := searcher.New(store, embedder, ledger)

	local := backend.NewLocal(oc, cfg.Ollama.Model)
	var hosted backend.Backend
	if cfg.Hosted.APIKey != "" {
		hosted = backend.NewHosted(cfg.Hosted.APIKey, cfg.Hosted.BaseURL, cfg.Hosted.Model)
		slog.Info("hosted backend enabled", "model", cfg.Hosted.Model)
	} else {
		slog.Info("hosted backend disabled, no API key configured")
	}

	svc := assistant.New(assistant.Deps{
		ScopeRoot: cfg.IndexRoot(),
		Splitter:  splitter.New(cfg.Splitter.ChunkSize, cfg.Splitter.Overlap),
		Store:     store,
		Searcher:  search,
		Router:    router.New(local, hosted, ledger),
		History:   hist,
		Ledger:    ledger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(svc, cfg.Server.AuthToken),
	}

	// MCP over SSE on its own port so agent clients can attach while the
	// REST API serves the CLI.
	mcpSrv := server.NewSSEServer(api.NewMCPServer(svc))
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := mcpSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("MCP server error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
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
	if err := mcpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

// checkOllama verifies the model server is reachable and warns about
// missing models instead of failing; they may be pulled later.
func checkOllama(ctx context.Context, oc *ollama.Client, cfg config.Config) error {
	if !oc.IsRunning(ctx) {
		return fmt.Errorf("ollama is not reachable at %s, start it first", cfg.Ollama.BaseURL)
	}
	for _, model := range []string{cfg.Ollama.Model, cfg.Ollama.EmbedModel} {
		if !oc.HasModel(ctx, model) {
			printWarning("model %q is not installed; run: ollama pull %s", model, model)
		}
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	pid, err := readPIDFile(cfg.PIDFile())
	if err != nil {
		printError("coursemate is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop coursemate (PID %d): %v", pid, err)
		os.Remove(cfg.PIDFile())
		return err
	}

	printSuccess("Sent stop signal to coursemate (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version"); err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Model", "%s", cfg.Ollama.Model)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	if cfg.Hosted.APIKey != "" {
		printStatus("Hosted model", "%s", cfg.Hosted.Model)
	} else {
		printStatus("Hosted model", "disabled")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
