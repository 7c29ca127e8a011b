package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	LLM      LLMConfig
	RAG      RAGConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
	// Disabled turns off bearer-token checks, for local development.
	Disabled bool
}

type LLMConfig struct {
	OpenAIKey        string
	AnthropicKey     string
	OllamaURL        string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
}

// RAGConfig carries every knob of the ingestion and retrieval paths.
type RAGConfig struct {
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingBatchSize  int
	EmbeddingCacheTTL   int // hours; 0 disables the cache
	SimilarityMetric    string
	MaxChunkTokens      int
	ChunkOverlapTokens  int
	RetrievalK          int
	OverfetchFactor     int
	ContextTokenBudget  int
	SimilarityThreshold float64
	AdjacencyWindow     int
	IngestPolicy        string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}
	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}
	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rag, err := loadRAG()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Disabled:  getEnv("AUTH_DISABLED", "") == "true",
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			OllamaURL:        getEnv("OLLAMA_URL", "http://localhost:11434"),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "gpt-4o-mini"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
		},
		RAG: rag,
	}

	return cfg, nil
}

func loadRAG() (RAGConfig, error) {
	var rag RAGConfig
	var err error

	if rag.EmbeddingDimensions, err = getEnvInt("EMBEDDING_DIMENSIONS", 1536); err != nil {
		return rag, fmt.Errorf("invalid EMBEDDING_DIMENSIONS: %w", err)
	}
	if rag.EmbeddingBatchSize, err = getEnvInt("EMBEDDING_BATCH_SIZE", 100); err != nil {
		return rag, fmt.Errorf("invalid EMBEDDING_BATCH_SIZE: %w", err)
	}
	if rag.EmbeddingCacheTTL, err = getEnvInt("EMBEDDING_CACHE_TTL_HOURS", 24); err != nil {
		return rag, fmt.Errorf("invalid EMBEDDING_CACHE_TTL_HOURS: %w", err)
	}
	if rag.MaxChunkTokens, err = getEnvInt("MAX_CHUNK_TOKENS", 512); err != nil {
		return rag, fmt.Errorf("invalid MAX_CHUNK_TOKENS: %w", err)
	}
	if rag.ChunkOverlapTokens, err = getEnvInt("CHUNK_OVERLAP_TOKENS", 64); err != nil {
		return rag, fmt.Errorf("invalid CHUNK_OVERLAP_TOKENS: %w", err)
	}
	if rag.RetrievalK, err = getEnvInt("RETRIEVAL_K", 5); err != nil {
		return rag, fmt.Errorf("invalid RETRIEVAL_K: %w", err)
	}
	if rag.OverfetchFactor, err = getEnvInt("OVERFETCH_FACTOR", 3); err != nil {
		return rag, fmt.Errorf("invalid OVERFETCH_FACTOR: %w", err)
	}
	if rag.ContextTokenBudget, err = getEnvInt("CONTEXT_TOKEN_BUDGET", 3000); err != nil {
		return rag, fmt.Errorf("invalid CONTEXT_TOKEN_BUDGET: %w", err)
	}
	if rag.AdjacencyWindow, err = getEnvInt("ADJACENCY_WINDOW", 1); err != nil {
		return rag, fmt.Errorf("invalid ADJACENCY_WINDOW: %w", err)
	}
	if rag.SimilarityThreshold, err = getEnvFloat("SIMILARITY_THRESHOLD", 0); err != nil {
		return rag, fmt.Errorf("invalid SIMILARITY_THRESHOLD: %w", err)
	}
	rag.EmbeddingModel = getEnv("EMBEDDING_MODEL", "text-embedding-3-small")
	rag.SimilarityMetric = getEnv("SIMILARITY_METRIC", "cosine")
	rag.IngestPolicy = getEnv("INGEST_POLICY", "queue")

	return rag, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return c.RAG.Validate()
}

func (r RAGConfig) Validate() error {
	if r.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive, got %d", r.EmbeddingDimensions)
	}
	switch r.SimilarityMetric {
	case "cosine", "dot":
	default:
		return fmt.Errorf("SIMILARITY_METRIC must be cosine or dot, got %q", r.SimilarityMetric)
	}
	if r.MaxChunkTokens <= 0 {
		return fmt.Errorf("MAX_CHUNK_TOKENS must be positive, got %d", r.MaxChunkTokens)
	}
	if r.ChunkOverlapTokens < 0 || r.ChunkOverlapTokens >= r.MaxChunkTokens {
		return fmt.Errorf("CHUNK_OVERLAP_TOKENS must be in [0, MAX_CHUNK_TOKENS), got %d", r.ChunkOverlapTokens)
	}
	if r.RetrievalK <= 0 {
		return fmt.Errorf("RETRIEVAL_K must be positive, got %d", r.RetrievalK)
	}
	if r.ContextTokenBudget <= 0 {
		return fmt.Errorf("CONTEXT_TOKEN_BUDGET must be positive, got %d", r.ContextTokenBudget)
	}
	// Dot-product scores are unbounded; only cosine has a fixed range.
	if r.SimilarityMetric == "cosine" && (r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1) {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in [0, 1] for cosine, got %g", r.SimilarityThreshold)
	}
	switch r.IngestPolicy {
	case "queue", "reject":
	default:
		return fmt.Errorf("INGEST_POLICY must be queue or reject, got %q", r.IngestPolicy)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}
