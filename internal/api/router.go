package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vertexgrove/ragd/internal/api/handlers"
	"github.com/vertexgrove/ragd/internal/api/middleware"
	"github.com/vertexgrove/ragd/internal/auth"
	"github.com/vertexgrove/ragd/internal/config"
	"github.com/vertexgrove/ragd/internal/document"
	"github.com/vertexgrove/ragd/internal/embedding"
	"github.com/vertexgrove/ragd/internal/llm"
	"github.com/vertexgrove/ragd/internal/queue"
	"github.com/vertexgrove/ragd/internal/rag"
	"github.com/vertexgrove/ragd/internal/vectorstore"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	jwt   *auth.JWTMiddleware
	llmGW llm.Gateway
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		jwt:   auth.NewJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Disabled),
		llmGW: llm.NewGateway(llm.GatewayConfig{
			OpenAIKey:        cfg.LLM.OpenAIKey,
			AnthropicKey:     cfg.LLM.AnthropicKey,
			OllamaURL:        cfg.LLM.OllamaURL,
			DefaultProvider:  cfg.LLM.DefaultProvider,
			FallbackProvider: cfg.LLM.FallbackProvider,
		}),
	}
}

func (rt *Router) Setup() (http.Handler, error) {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	metric, err := vectorstore.ParseMetric(rt.cfg.RAG.SimilarityMetric)
	if err != nil {
		return nil, fmt.Errorf("similarity metric: %w", err)
	}

	docRepo := document.NewRepo(rt.db)
	store := vectorstore.NewPgStore(rt.db, rt.cfg.RAG.EmbeddingDimensions, metric)
	queueClient := queue.NewClient(rt.cfg.Redis)

	var embedOpts []embedding.Option
	if rt.redis != nil && rt.cfg.RAG.EmbeddingCacheTTL > 0 {
		ttl := time.Duration(rt.cfg.RAG.EmbeddingCacheTTL) * time.Hour
		embedOpts = append(embedOpts, embedding.WithCache(embedding.NewCache(rt.redis, ttl)))
	}
	embedSvc := embedding.NewService(rt.llmGW, embedding.Config{
		Model:     rt.cfg.RAG.EmbeddingModel,
		BatchSize: rt.cfg.RAG.EmbeddingBatchSize,
	}, embedOpts...)

	ragSvc := rag.NewService(store, embedSvc, rt.llmGW, rag.Config{
		TopK:            rt.cfg.RAG.RetrievalK,
		MinScore:        rt.cfg.RAG.SimilarityThreshold,
		OverfetchFactor: rt.cfg.RAG.OverfetchFactor,
		TokenBudget:     rt.cfg.RAG.ContextTokenBudget,
		AdjacencyWindow: rt.cfg.RAG.AdjacencyWindow,
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		docH := handlers.NewDocumentHandler(docRepo, store, queueClient)
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upload)
			r.Get("/", docH.List)
			r.Get("/{id}", docH.Get)
			r.Delete("/{id}", docH.Delete)
			r.Get("/{id}/status", docH.Status)
			r.Post("/{id}/reingest", docH.Reingest)
		})

		ragH := handlers.NewRAGHandler(ragSvc)
		r.Route("/rag", func(r chi.Router) {
			r.Post("/query", ragH.Query)
			r.Post("/search", ragH.Search)
			r.Post("/context", ragH.Context)
		})
	})

	return r, nil
}
