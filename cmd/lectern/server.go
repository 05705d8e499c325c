package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/lectern/lectern/internal/api"
	"github.com/lectern/lectern/internal/chat"
	"github.com/lectern/lectern/internal/config"
	"github.com/lectern/lectern/internal/ingest"
	"github.com/lectern/lectern/internal/llm"
	"github.com/lectern/lectern/internal/ollama"
	"github.com/lectern/lectern/internal/rag"
	"github.com/lectern/lectern/internal/retrieval"
	"github.com/lectern/lectern/internal/storage"
)

// maxConcurrentConns caps accepted HTTP connections; every query holds
// a model round trip, so an unbounded accept loop can pile up slow
// requests.
const maxConcurrentConns = 256

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lectern server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve course search over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lectern system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch {
	case strings.EqualFold(level, "debug"):
		logLevel = slog.LevelDebug
	case strings.EqualFold(level, "warn"):
		logLevel = slog.LevelWarn
	case strings.EqualFold(level, "error"):
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// buildEngine wires the embedder, the configured vector backend, and
// the retrieval engine, and ensures the vector collections exist.
func buildEngine(ctx context.Context, cfg config.Config, ollamaClient *ollama.Client, store *storage.Store) (*retrieval.Engine, error) {
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel, cfg.Retrieval.EmbedCache, cfg.Retrieval.EmbedRPS)

	var vectors retrieval.VectorStore
	switch cfg.Storage.VectorBackend {
	case "", "sqlite":
		vectors = retrieval.NewSQLiteStore(store.DB())
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, fmt.Errorf("storage.vector_backend is postgres but LECTERN_STORAGE_POSTGRES_DSN is not set")
		}
		// The collection schema needs the embedding dimensionality up
		// front; probe the model for it.
		probe, err := embedder.Embed(ctx, "dimension probe")
		if err != nil {
			return nil, fmt.Errorf("probing embedding dimensionality: %w", err)
		}
		pg, err := retrieval.NewPostgresStore(ctx, cfg.Storage.PostgresDSN, len(probe))
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		vectors = pg
	default:
		return nil, fmt.Errorf("unknown vector backend %q (want sqlite or postgres)", cfg.Storage.VectorBackend)
	}

	engine := retrieval.NewEngine(embedder, vectors, store, cfg.Retrieval.MaxResults, float32(cfg.Retrieval.MinSimilarity))
	if err := engine.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("creating vector collections: %w", err)
	}
	return engine, nil
}

func runServe() error {
	fmt.Fprintf(os.Stderr, "lectern version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Make sure the embedding model is pulled and warm before anything
	// touches the vector store.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	engine, err := buildEngine(ctx, cfg, ollamaClient, store)
	if err != nil {
		return err
	}

	llmClient := llm.NewClientWithBaseURL(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL)
	generator := chat.NewGenerator(llmClient, cfg.Anthropic.Model, cfg.Chat.MaxToolRounds)

	chunker := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	loader := ingest.NewLoader(engine, chunker)

	ragSys := rag.NewSystem(engine, generator, store, loader, cfg.Chat.MaxHistory)

	// Load the docs folder before accepting queries; already-ingested
	// courses are skipped.
	courses, chunks, err := loader.AddCourseFolder(ctx, cfg.Ingest.DocsDir, false)
	if err != nil {
		slog.Warn("initial document load failed", "error", err)
	} else {
		slog.Info("documents loaded", "courses", courses, "chunks", chunks)
	}

	// Background ingestion: the worker drains the job queue, the
	// watcher feeds it on docs-folder changes.
	worker := ingest.NewWorker(store, loader, 500*time.Millisecond)
	go worker.Run(ctx)

	if cfg.Ingest.Watch {
		watcher := ingest.NewWatcher(cfg.Ingest.DocsDir, 0, func(path string) {
			if err := store.EnqueueJob(ingest.NewFileJob(path)); err != nil {
				slog.Warn("enqueueing document", "path", path, "error", err)
			}
		})
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("starting docs watcher", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	handler := api.NewHandler(api.Deps{
		RAG:   ragSys,
		Jobs:  store,
		Token: cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, maxConcurrentConns)

	srv := &http.Server{Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "lectern listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
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

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout carries the MCP protocol; logs go to stderr.
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	engine, err := buildEngine(ctx, cfg, ollamaClient, store)
	if err != nil {
		return err
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{Retriever: engine})
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/healthz")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Chat model", "%s", cfg.Anthropic.Model)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if running {
		coursesResp, err := client.Get(serverURL + "/api/courses")
		if err == nil {
			var stats struct {
				TotalCourses int `json:"total_courses"`
			}
			if json.NewDecoder(coursesResp.Body).Decode(&stats) == nil {
				printStatus("Courses", "%d", stats.TotalCourses)
			}
			coursesResp.Body.Close()
		}
	}

	printStatus("Docs dir", "%s", cfg.Ingest.DocsDir)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
