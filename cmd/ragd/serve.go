package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/blobstore"
	"github.com/manavgup/rag-modulo-sub005/internal/collection"
	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/contextmgr"
	"github.com/manavgup/rag-modulo-sub005/internal/conversation"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/httpapi"
	"github.com/manavgup/rag-modulo-sub005/internal/ingestion"
	"github.com/manavgup/rag-modulo-sub005/internal/llm"
	"github.com/manavgup/rag-modulo-sub005/internal/logging"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/parser"
	"github.com/manavgup/rag-modulo-sub005/internal/ratelimit"
	"github.com/manavgup/rag-modulo-sub005/internal/scheduler"
	"github.com/manavgup/rag-modulo-sub005/internal/search"
	"github.com/manavgup/rag-modulo-sub005/internal/suggestion"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

// janitorTimeout bounds each cron cleanup pass.
const janitorTimeout = 5 * time.Minute

// run wires the full service stack and blocks until a signal arrives.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure at exit

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	meta, err := metastore.Open(cfg.Metastore.Path, logger)
	if err != nil {
		return fmt.Errorf("opening metastore: %w", err)
	}
	defer meta.Close()

	blobs, err := blobstore.NewFSStore(cfg.Blobstore.Path)
	if err != nil {
		return fmt.Errorf("opening blobstore: %w", err)
	}

	vectors, err := openVectorStore(cfg.VectorStore, logger)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer vectors.Close()

	// Providers.
	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		APIKey:  cfg.Embeddings.APIKey,
	}, ratelimit.New(cfg.Embeddings.RequestsPerSecond), logger)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	generator, err := llm.NewService(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.Timeout,
	}, ratelimit.New(cfg.LLM.RequestsPerSecond), logger)
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}

	// Background work.
	var publisher scheduler.Publisher
	if cfg.Events.Enabled {
		nats, err := scheduler.NewNATSPublisher(cfg.Events.URL, cfg.Events.Subject, logger)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer nats.Close()
		publisher = nats
	}
	sched := scheduler.New(scheduler.Config{
		Workers:        cfg.Scheduler.Workers,
		QueueSize:      cfg.Scheduler.QueueSize,
		BackoffBase:    cfg.Scheduler.BackoffBase,
		BackoffMax:     cfg.Scheduler.BackoffMax,
		IdempotencyTTL: cfg.Scheduler.IdempotencyTTL,
	}, publisher, logger)
	sched.Start(ctx)
	defer sched.Stop()

	// Services.
	cols := collection.NewService(meta, vectors, sched, logger, collection.Defaults{
		ChunkSize:      cfg.Ingestion.ChunkSize,
		Overlap:        cfg.Ingestion.Overlap,
		EmbeddingModel: cfg.Embeddings.Model,
	})
	ingest := ingestion.NewService(meta, blobs, vectors, embedder, parser.NewRegistry(),
		sched, logger, ingestion.Config{
			BatchSize:      cfg.Ingestion.BatchSize,
			MaxRetries:     cfg.Ingestion.MaxRetries,
			MaxModelTokens: cfg.Embeddings.MaxModelTokens,
			SafetyMargin:   cfg.Ingestion.SafetyMargin,
		})
	searcher, err := search.NewService(meta, vectors, embedder, generator, cfg.Search, logger)
	if err != nil {
		return fmt.Errorf("creating search service: %w", err)
	}
	ctxmgr, err := contextmgr.NewManager(meta, embedder, generator, cfg.Conversation, logger)
	if err != nil {
		return fmt.Errorf("creating context manager: %w", err)
	}
	conv, err := conversation.NewService(meta, ctxmgr, searcher, generator, sched, cfg.Conversation, logger)
	if err != nil {
		return fmt.Errorf("creating conversation service: %w", err)
	}
	suggest := suggestion.NewService(meta, vectors, embedder, generator, cfg.Suggestion, logger)

	// Janitors.
	janitors := scheduler.NewJanitors(logger)
	schedule := cfg.Scheduler.JanitorSchedule
	if err := janitors.Register("orphan_vectors", schedule, janitorTimeout, ingest.SweepOrphanVectors); err != nil {
		return fmt.Errorf("registering orphan vector janitor: %w", err)
	}
	if err := janitors.Register("session_expiry", schedule, janitorTimeout, func(jctx context.Context) error {
		_, err := conv.ExpireIdle(jctx)
		return err
	}); err != nil {
		return fmt.Errorf("registering session expiry janitor: %w", err)
	}
	if err := janitors.Register("collection_purge", schedule, janitorTimeout, cols.SweepTombstones); err != nil {
		return fmt.Errorf("registering collection purge janitor: %w", err)
	}
	janitors.Start()
	defer janitors.Stop()

	// HTTP.
	server := httpapi.NewServer(httpapi.Services{
		Collections:  cols,
		Ingestion:    ingest,
		Search:       searcher,
		Conversation: conv,
		Suggestions:  suggest,
	}, cfg.Server, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("ragd started",
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("metastore", cfg.Metastore.Path),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openVectorStore selects the backend and wraps it with metrics.
func openVectorStore(cfg config.VectorStoreConfig, logger *zap.Logger) (vectorstore.Store, error) {
	var (
		store vectorstore.Store
		err   error
	)
	switch cfg.Provider {
	case "qdrant":
		store, err = vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:       cfg.Host,
			Port:       cfg.Port,
			APIKey:     cfg.APIKey,
			UseTLS:     cfg.UseTLS,
			VectorSize: cfg.VectorSize,
		}, logger)
	default:
		store, err = vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:       cfg.Path,
			VectorSize: cfg.VectorSize,
		}, logger)
	}
	if err != nil {
		return nil, err
	}
	return vectorstore.NewInstrumentedStore(store), nil
}
