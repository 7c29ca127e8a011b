package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vertexgrove/ragd/internal/config"
	"github.com/vertexgrove/ragd/internal/database"
	"github.com/vertexgrove/ragd/internal/document"
	"github.com/vertexgrove/ragd/internal/embedding"
	"github.com/vertexgrove/ragd/internal/ingest"
	"github.com/vertexgrove/ragd/internal/llm"
	"github.com/vertexgrove/ragd/internal/queue"
	"github.com/vertexgrove/ragd/internal/queue/workers"
	"github.com/vertexgrove/ragd/internal/vectorstore"
	"github.com/vertexgrove/ragd/pkg/chunker"
	"github.com/vertexgrove/ragd/pkg/tokenizer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pipeline, err := buildPipeline(cfg, db)
	if err != nil {
		slog.Error("pipeline setup failed", "error", err)
		os.Exit(1)
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()
	ingestWorker := workers.NewIngestWorker(pipeline)
	registry.Register(queue.TypeDocumentIngest, asynq.HandlerFunc(ingestWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

func buildPipeline(cfg *config.Config, db *pgxpool.Pool) (*ingest.Pipeline, error) {
	metric, err := vectorstore.ParseMetric(cfg.RAG.SimilarityMetric)
	if err != nil {
		return nil, fmt.Errorf("similarity metric: %w", err)
	}
	policy, err := ingest.ParsePolicy(cfg.RAG.IngestPolicy)
	if err != nil {
		return nil, fmt.Errorf("ingest policy: %w", err)
	}

	codec, err := tokenizer.NewForModel(cfg.RAG.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	splitter, err := chunker.New(codec, chunker.Config{
		MaxTokens:     cfg.RAG.MaxChunkTokens,
		OverlapTokens: cfg.RAG.ChunkOverlapTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}

	gw := llm.NewGateway(llm.GatewayConfig{
		OpenAIKey:        cfg.LLM.OpenAIKey,
		AnthropicKey:     cfg.LLM.AnthropicKey,
		OllamaURL:        cfg.LLM.OllamaURL,
		DefaultProvider:  cfg.LLM.DefaultProvider,
		FallbackProvider: cfg.LLM.FallbackProvider,
	})

	var embedOpts []embedding.Option
	if cfg.RAG.EmbeddingCacheTTL > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := time.Duration(cfg.RAG.EmbeddingCacheTTL) * time.Hour
		embedOpts = append(embedOpts, embedding.WithCache(embedding.NewCache(rdb, ttl)))
	}
	embedSvc := embedding.NewService(gw, embedding.Config{
		Model:     cfg.RAG.EmbeddingModel,
		BatchSize: cfg.RAG.EmbeddingBatchSize,
	}, embedOpts...)

	docRepo := document.NewRepo(db)
	store := vectorstore.NewPgStore(db, cfg.RAG.EmbeddingDimensions, metric)

	return ingest.NewPipeline(docRepo, store, embedSvc, splitter, ingest.NewFileExtractor(), policy), nil
}
