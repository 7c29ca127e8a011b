package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgStore backs the Store contract with Postgres + pgvector. Ranked
// search runs over the HNSW index created by the schema migration.
type PgStore struct {
	db     *pgxpool.Pool
	dim    int
	metric Metric
}

func NewPgStore(db *pgxpool.Pool, dim int, metric Metric) *PgStore {
	return &PgStore{db: db, dim: dim, metric: metric}
}

func (s *PgStore) Upsert(ctx context.Context, chunks []Chunk) error {
	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, store expects %d",
				ErrDimensionMismatch, c.ID, len(c.Embedding), s.dim)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", ErrWriteFailed, err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO document_chunks (id, document_id, ordinal, content, embedding, token_count, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET content = $4, embedding = $5, token_count = $6, metadata = $7`,
			id, c.DocumentID, c.Ordinal, c.Text, pgvector.NewVector(c.Embedding), c.TokenCount, c.Metadata,
		)
		if err != nil {
			return fmt.Errorf("%w: upsert chunk %d: %w", ErrWriteFailed, c.Ordinal, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrWriteFailed, err)
	}
	return nil
}

func (s *PgStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store expects %d",
			ErrDimensionMismatch, len(query), s.dim)
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	// <=> is cosine distance, <#> is negated inner product; both rank
	// ascending, so the same ORDER BY yields highest similarity first.
	op, score := "<=>", "1 - (embedding <=> $1)"
	if s.metric == MetricDot {
		op, score = "<#>", "-(embedding <#> $1)"
	}

	args := []any{pgvector.NewVector(query)}
	where := ""
	if len(opts.Filter) > 0 {
		filterJSON, err := json.Marshal(opts.Filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filter: %w", err)
		}
		where = "WHERE metadata @> $2::jsonb"
		args = append(args, string(filterJSON))
	}
	args = append(args, opts.TopK)

	sql := fmt.Sprintf(
		`SELECT id, document_id, ordinal, content, token_count, metadata, %s AS score
		 FROM document_chunks
		 %s
		 ORDER BY embedding %s $1, id
		 LIMIT $%d`,
		score, where, op, len(args),
	)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Ordinal, &r.Text, &r.TokenCount, &r.Metadata, &r.Score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if opts.MinScore > 0 && r.Score < opts.MinScore {
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PgStore) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := s.db.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", documentID)
	if err != nil {
		return fmt.Errorf("delete chunks for document %s: %w", documentID, err)
	}
	return nil
}
