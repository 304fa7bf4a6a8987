package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"

	"github.com/markdave123-py/knowledgehub/internal/api/handlers"
	"github.com/markdave123-py/knowledgehub/internal/config"
	"github.com/markdave123-py/knowledgehub/internal/core"
	db "github.com/markdave123-py/knowledgehub/internal/core/database"
	"github.com/markdave123-py/knowledgehub/internal/core/ingestion_engine"
	"github.com/markdave123-py/knowledgehub/internal/core/llm"
	objectclient "github.com/markdave123-py/knowledgehub/internal/core/object-client"
	"github.com/markdave123-py/knowledgehub/internal/core/queue"
	"github.com/markdave123-py/knowledgehub/internal/core/vectorstore"
	"github.com/markdave123-py/knowledgehub/internal/services"
)

// App holds every long-lived client. They are built once here and injected
// into the components that need them.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DBClient     *db.DatabaseClient
	ObjectClient core.ObjectClient
	Broker       queue.Broker
	FileQueue    queue.Queue
	Processor    *ingestion_engine.FileProcessor
	Files        *services.FileService
	Chat         *services.ChatService

	genai   *genai.Client
	closers []func() error
}

// NewApp migrates the schema and connects every dependency. Anything opened
// before a failure is closed again.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.DBClient, err = db.NewDatabaseClient(ctx, cfg, logger.With("component", "database"))
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.closers = append(a.closers, a.DBClient.Close)

	a.ObjectClient, err = objectclient.New(ctx, cfg, logger.With("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}

	a.genai, err = llm.NewClient(ctx, cfg.AIAPIKey)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.genai.Close)

	embedder := llm.NewGeminiEmbedder(a.genai, cfg.EmbedModel, cfg.EmbedBatchSize)
	store := vectorstore.NewPgVectorStore(a.DBClient, embedder, vectorstore.Options{
		Dimensions: cfg.EmbedDim,
		CacheSize:  cfg.QueryCacheSize,
		CacheTTL:   cfg.QueryCacheTTL,
	}, logger)

	a.Broker, err = newBroker(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Broker.Close)

	a.FileQueue, err = a.Broker.CreateQueue(ingestion_engine.FileReadyQueue)
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}

	a.Processor = ingestion_engine.NewFileProcessor(
		a.DBClient,
		a.ObjectClient,
		ingestion_engine.NewDocconvExtractor(logger.With("component", "extractor")),
		store,
		&ingestion_engine.IngestConfig{
			TargetTokens:  cfg.ChunkTargetTokens,
			OverlapTokens: cfg.ChunkOverlapTokens,
		},
		logger,
	)

	a.Files = services.NewFileService(a.DBClient, a.ObjectClient, a.FileQueue, cfg.MaxUploadSize, logger)

	var fallback core.LLMProvider
	if cfg.FallbackModel != "" {
		fallback = llm.NewGeminiLLM(a.genai, cfg.FallbackModel)
	}
	a.Chat = services.NewChatService(store, llm.NewGeminiLLM(a.genai, cfg.GenModel), fallback, logger)

	logger.Info("application initialised",
		slog.String("queue_driver", cfg.QueueDriver),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("chat_model", cfg.GenModel),
		slog.String("fallback_model", cfg.FallbackModel),
	)
	return a, nil
}

func newBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (queue.Broker, error) {
	opts := queue.Options{
		Concurrency: cfg.WorkerConcurrency,
		JobTimeout:  cfg.JobTimeout,
		Logger:      logger.With("component", "queue"),
	}
	switch cfg.QueueDriver {
	case "memory":
		return queue.NewMemoryBroker(opts), nil
	case "redis", "":
		b, err := queue.NewRedisBroker(ctx, queue.RedisOptions{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
		}, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
	}
}

// RunWorker drains the file-ready queue until ctx is cancelled.
func (a *App) RunWorker(ctx context.Context) error {
	w, err := a.Broker.CreateWorker(ingestion_engine.FileReadyQueue, a.Processor.Handler())
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	err = w.Run(ctx)
	if errors.Is(err, queue.ErrClosed) {
		return nil
	}
	return err
}

// HealthChecks lists the dependencies /health probes.
func (a *App) HealthChecks() map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{"database": a.DBClient}
	if p, ok := a.Broker.(handlers.Pinger); ok {
		checks["queue"] = p
	}
	return checks
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", slog.Any("error", err))
		}
	}
	a.closers = nil
}
