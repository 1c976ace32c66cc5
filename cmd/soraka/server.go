package main

import (
	"context"
	"errors"
	"fmt"
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
	"go.uber.org/zap"

	"github.com/sorakabot/soraka/internal/api"
	"github.com/sorakabot/soraka/internal/config"
	"github.com/sorakabot/soraka/internal/engine"
	"github.com/sorakabot/soraka/internal/ingest"
	"github.com/sorakabot/soraka/internal/retrieval"
	"github.com/sorakabot/soraka/internal/tracing"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the soraka server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(stdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running soraka server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show soraka system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", false, "also serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "soraka.pid")
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

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "soraka version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("soraka is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("soraka is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Enabled:  cfg.Tracing.Enabled,
		Endpoint: cfg.Tracing.Endpoint,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", zap.Error(err))
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing resources", zap.Error(err))
		}
	}()

	gen, local := a.newGenerator()
	readyTarget := engine.Local(a.embedder)
	chatModel := ""
	if local != nil {
		readyTarget = local
		chatModel = cfg.Generator.Model
	}
	if err := engine.EnsureReady(ctx, readyTarget, chatModel, cfg.Embedding.Model, os.Stderr); err != nil {
		return err
	}

	sessions, err := a.newSessions(ctx)
	if err != nil {
		return err
	}
	orch := a.newOrchestrator(sessions, gen)

	// Ingest worker drains knowledge-base jobs queued over HTTP or MCP.
	loader := ingest.NewLoader(retrieval.NewEmbedder(a.embedder), a.vectors, 0, logger.Named("ingest"))
	worker := ingest.NewWorker(a.store, loader, 500*time.Millisecond, logger.Named("ingest"))
	go worker.Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Pipeline: orch,
		KB:       a.kb,
		Sessions: sessions,
		Store:    a.store,
	}, version)
	if mcpStdio {
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", zap.Error(err))
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	handler := api.NewHandler(api.Deps{
		Pipeline:    orch,
		KB:          a.kb,
		Sessions:    sessions,
		Store:       a.store,
		MCP:         server.NewStreamableHTTPServer(mcpSrv),
		CORSOrigins: splitOrigins(cfg.Server.CORSOrigins),
		Logger:      logger.Named("http"),
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("soraka listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
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
		printError("soraka is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop soraka (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to soraka (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still report something useful when config is broken.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{baseURL: serverURL(cfg), httpClient: &http.Client{Timeout: 2 * time.Second}}
	running := false
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	embedEngine := engine.NewOllamaEngine(cfg.Embedding.BaseURL, "", cfg.Embedding.Model)
	if embedEngine.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Embedding.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Generator", "%s (%s)", cfg.Generator.Model, cfg.Generator.Provider)
	printStatus("Embed model", "%s", cfg.Embedding.Model)
	printStatus("Knowledge base", "%s", cfg.KnowledgeBase.Backend)
	printStatus("Sessions", "%s", cfg.Conversation.Backend)

	if running {
		if resp, err := client.get(ctx, "/knowledge-base/stats"); err == nil {
			var stats struct {
				Documents int `json:"documents"`
			}
			if decodeJSON(resp, &stats) == nil {
				printStatus("Documents", "%d", stats.Documents)
			}
		}
		if resp, err := client.get(ctx, "/interactions?limit=100"); err == nil {
			var interactions []map[string]any
			if decodeJSON(resp, &interactions) == nil {
				printStatus("Interactions", "%s", countLabel(len(interactions), 100))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
