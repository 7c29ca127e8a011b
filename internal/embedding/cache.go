package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores embedding vectors in Redis keyed by model and content
// hash, so re-ingesting unchanged text and repeated queries skip
// provider calls. Cache failures degrade to misses.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	val, err := c.client.Get(ctx, cacheKey(model, text)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("embedding cache get failed", "error", err)
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal([]byte(val), &vec); err != nil {
		slog.Debug("embedding cache entry corrupt", "error", err)
		return nil, false
	}
	return vec, true
}

func (c *Cache) Put(ctx context.Context, model, text string, embedding []float32) {
	data, err := json.Marshal(embedding)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(model, text), data, c.ttl).Err(); err != nil {
		slog.Debug("embedding cache put failed", "error", err)
	}
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(h[:])
}
