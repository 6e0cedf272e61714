package main

import (
	"context"
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

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/siteproof/siteproof/internal/api"
	"github.com/siteproof/siteproof/internal/config"
	"github.com/siteproof/siteproof/internal/pipeline"
	"github.com/siteproof/siteproof/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the siteproof server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		return runServer(debug)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running siteproof server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show siteproof system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("debug", false, "enable debug logging")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "siteproof.pid")
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

func runServer(debug bool) error {
	fmt.Fprintf(os.Stderr, "siteproof version %s\n", version)

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	token := cfg.Server.Token
	if token == "" {
		token = uuid.New().String()
		printWarning("no API token configured, generated one for this session: %s", token)
		printWarning("set server.token in the config file or SITEPROOF_TOKEN to keep it stable")
	}

	// Refuse to double-start: probe the health endpoint before claiming the
	// PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	p, err := pipeline.New(store, cfg, logger)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:    store,
		Runner:   p,
		Token:    token,
		Registry: p.Metrics().Registry,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP server over SSE on its own port, so assistants can drive the
	// pipeline without the REST token dance.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Runner:    p,
		Retriever: p.Retriever(),
	})
	sseSrv := server.NewSSEServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := sseSrv.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP server error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "siteproof listening on %s\n", addr)
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
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP server shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("siteproof is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop siteproof (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to siteproof (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d (MCP on %d)", cfg.Server.Port, cfg.Server.MCPPort)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	embedResp, err := client.Get(cfg.Index.EmbedBaseURL + "/api/tags")
	if err != nil {
		printStatus("Embeddings", "backend not reachable (lexical-only degradation)")
	} else {
		embedResp.Body.Close()
		printStatus("Embeddings", "%s at %s", cfg.Index.EmbedModel, cfg.Index.EmbedBaseURL)
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
