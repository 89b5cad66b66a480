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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/wellnessd/internal/agents"
	"github.com/kalambet/wellnessd/internal/api"
	"github.com/kalambet/wellnessd/internal/config"
	"github.com/kalambet/wellnessd/internal/engine"
	"github.com/kalambet/wellnessd/internal/ingest"
	"github.com/kalambet/wellnessd/internal/intent"
	"github.com/kalambet/wellnessd/internal/orchestrator"
	"github.com/kalambet/wellnessd/internal/profile"
	"github.com/kalambet/wellnessd/internal/retrieval"
	"github.com/kalambet/wellnessd/internal/session"
	"github.com/kalambet/wellnessd/internal/storage"
)

const sweepInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wellnessd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running wellnessd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show wellnessd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "wellnessd.pid")
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

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "wellnessd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured, HTTP endpoints are unauthenticated")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(engine.DetectConfig{
		Backend:       cfg.Engine.Backend,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr, cfg.Engine.FastModel, cfg.Engine.DeepModel, cfg.Engine.EmbedModel); err != nil {
		return err
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

	profiles := profile.NewManager(store)
	memory := session.NewStore(store, config.Duration("session.ttl", cfg.Session.TTL, 30*time.Minute), cfg.Session.MaxTurns)

	embedder := retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel)
	vectors := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectors)

	registry, err := agents.NewCatalogRegistry(eng, agents.SpecialistOptions{
		Model:   cfg.Engine.DeepModel,
		Reports: retriever,
		TopK:    cfg.Retrieval.TopK,
	})
	if err != nil {
		return fmt.Errorf("building specialists: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orch := orchestrator.New(orchestrator.Config{
		MaxSteps:         cfg.Orchestrator.MaxSteps,
		ClassifyTimeout:  config.Duration("orchestrator.classify_timeout", cfg.Orchestrator.ClassifyTimeout, 10*time.Second),
		StepTimeout:      config.Duration("orchestrator.step_timeout", cfg.Orchestrator.StepTimeout, 30*time.Second),
		SynthesisTimeout: config.Duration("orchestrator.synthesis_timeout", cfg.Orchestrator.SynthesisTimeout, 60*time.Second),
	}, orchestrator.Deps{
		Classifier:   intent.NewClassifier(eng, cfg.Engine.FastModel),
		Oracle:       agents.NewSupervisor(eng, cfg.Engine.FastModel, registry.Names()...),
		Registry:     registry,
		Synthesizer:  agents.NewSynthesizer(eng, cfg.Engine.DeepModel),
		Profiles:     profiles,
		Conversation: memory,
		Turns:        store,
		Metrics:      orchestrator.NewMetrics(reg),
	})

	handler := api.NewHandler(api.Deps{
		Orchestrator: orch,
		Turns:        store,
		Profiles:     profiles,
		Reports:      ingest.NewUploader(profiles, store),
		Memory:       memory,
		Limiter:      api.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Token:        cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	worker := ingest.NewWorker(store, profiles, embedder, vectors, 500*time.Millisecond)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "wellnessd listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return memory.Run(gctx, sweepInterval) })

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Orchestrator: orch,
			Turns:        store,
			Profiles:     profiles,
			Version:      version,
		})
		stdio := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("wellnessd is not running (no PID file): %w", err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("could not stop wellnessd (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to wellnessd (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	eng, err := engine.Detect(engine.DetectConfig{
		Backend:       cfg.Engine.Backend,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
	})
	if err != nil {
		printStatus("Engine", "misconfigured: %v", err)
	} else {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if eng.IsRunning(checkCtx) {
			printStatus("Engine", "%s reachable", engine.Name(eng))
		} else {
			printStatus("Engine", "%s not reachable", engine.Name(eng))
		}
	}

	printStatus("Fast model", "%s", cfg.Engine.FastModel)
	printStatus("Deep model", "%s", cfg.Engine.DeepModel)
	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
