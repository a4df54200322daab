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
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kalambet/genius/internal/advisor"
	"github.com/kalambet/genius/internal/api"
	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/compress"
	"github.com/kalambet/genius/internal/config"
	"github.com/kalambet/genius/internal/events"
	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/llm"
	"github.com/kalambet/genius/internal/logging"
	"github.com/kalambet/genius/internal/pipeline"
	"github.com/kalambet/genius/internal/proxy"
	"github.com/kalambet/genius/internal/redisstore"
	"github.com/kalambet/genius/internal/runner"
	"github.com/kalambet/genius/internal/service"
	"github.com/kalambet/genius/internal/storage"
	"github.com/kalambet/genius/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the genius server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

// app is the wired application shared by the server, the MCP server and
// local CLI runs.
type app struct {
	cfg         config.Config
	svc         *service.Service
	queue       jobs.Queue
	watcher     jobs.Watcher
	chunkWorker runner.Worker
	localWorker runner.Worker
	worker      *worker.Worker
	closers     []io.Closer
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	set, err := archetype.LoadFile(cfg.Pipeline.ArchetypesFile)
	if err != nil {
		return nil, err
	}

	completer, err := newCompleter(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	// Direct runs degrade to templates; chunk workers fail so the runner can
	// substitute fallback layers.
	direct := pipeline.New(pipeline.Options{
		Completer:    completer,
		LayerRetries: cfg.Pipeline.LayerRetries,
		Archetypes:   set,
	})
	strict := pipeline.New(pipeline.Options{
		Completer:    completer,
		Strict:       true,
		LayerRetries: cfg.Pipeline.LayerRetries,
		Archetypes:   set,
	})

	formatter, err := compress.New(completer, cfg.Compression.CacheSize)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, store)

	switch cfg.Jobs.Backend {
	case "redis":
		rs := redisstore.New(&redis.Options{Addr: cfg.Jobs.RedisAddr})
		a.closers = append(a.closers, rs)
		if err := rs.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Jobs.RedisAddr, err)
		}
		a.queue = jobs.WithEvents(rs, rs)
		a.watcher = rs
	default:
		hub := events.NewHub()
		a.queue = jobs.WithEvents(store, hub)
		a.watcher = hub
	}

	a.localWorker = runner.NewOrchestratorWorker(strict)
	a.chunkWorker = a.localWorker
	if cfg.Pipeline.WorkerURL != "" {
		a.chunkWorker = runner.NewHTTPWorker(cfg.Pipeline.WorkerURL, 0).WithToken(cfg.Pipeline.WorkerToken)
		slog.Info("sending chunks to remote worker", "url", cfg.Pipeline.WorkerURL)
	}

	a.svc = service.New(service.Options{
		Orchestrator:   direct,
		Queue:          a.queue,
		Formatter:      formatter,
		Advisor:        advisor.New(store),
		DirectMaxDepth: cfg.Pipeline.DirectMaxDepth,
		DirectTimeout:  cfg.Pipeline.DirectTimeout,
		Seed:           uint64(cfg.Pipeline.Seed),
	})

	run := runner.New(a.queue, a.chunkWorker, runner.Options{
		ChunkSize:     cfg.Pipeline.ChunkSize,
		ChunkDelay:    cfg.Pipeline.ChunkDelay,
		ContextWindow: cfg.Pipeline.ContextWindow,
		Finalize:      a.svc.Finalize,
	})
	a.worker = worker.New(a.queue, run, set, cfg.Jobs.PollInterval)

	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newCompleter(ctx context.Context, cfg config.LLMConfig) (llm.Completer, error) {
	var c llm.Completer
	switch cfg.Provider {
	case config.ProviderTemplate:
		slog.Info("no completion provider, rendering templates")
		return nil, nil
	case config.ProviderGemini:
		g, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		c = g
	default:
		c = llm.NewOpenRouter(proxy.NewClient(cfg.OpenRouterAPIKey), cfg.Model)
	}
	return llm.Retry(c, cfg.MaxRetries, 500*time.Millisecond), nil
}

func loadAndLog() (config.Config, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	closer, err := logging.Setup(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return cfg, nil, fmt.Errorf("setting up logging: %w", err)
	}
	return cfg, closer, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "genius version %s\n", version)

	cfg, logCloser, err := loadAndLog()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("genius is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	workersDone := make(chan struct{})
	go func() {
		a.worker.RunPool(ctx, cfg.Jobs.Workers)
		close(workersDone)
	}()
	slog.Info("job workers started", "workers", cfg.Jobs.Workers, "backend", cfg.Jobs.Backend)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Service:     a.svc,
			Watcher:     a.watcher,
			ChunkWorker: a.localWorker,
			WorkerToken: cfg.Pipeline.WorkerToken,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "genius listening on %s\n", addr)
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
			stop()
			<-workersDone
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-workersDone
	return err
}

func runMCP() error {
	cfg, logCloser, err := loadAndLog()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	workersDone := make(chan struct{})
	go func() {
		a.worker.RunPool(ctx, cfg.Jobs.Workers)
		close(workersDone)
	}()

	stdioSrv := server.NewStdioServer(api.NewMCPServer(a.svc, version))
	slog.Info("MCP server started (stdio transport)")
	err = stdioSrv.Listen(ctx, os.Stdin, os.Stdout)

	// Stdin closing ends the session; stop the workers before the stores close.
	stop()
	<-workersDone
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
