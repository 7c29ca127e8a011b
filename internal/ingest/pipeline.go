// Package ingest drives the per-document ingestion pipeline:
// extraction, chunking, embedding, and indexing, with all-or-nothing
// visibility at document granularity.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vertexgrove/ragd/internal/models"
	"github.com/vertexgrove/ragd/internal/vectorstore"
	"github.com/vertexgrove/ragd/pkg/chunker"
)

var (
	// ErrInProgress rejects a concurrent run for the same document when
	// the reject policy is configured.
	ErrInProgress = errors.New("ingestion already in progress")

	ErrExtractionFailed = errors.New("extraction failed")
)

// Policy decides what happens to an ingestion request while another run
// for the same document is in flight.
type Policy string

const (
	PolicyQueue  Policy = "queue"  // wait for the in-flight run, then proceed
	PolicyReject Policy = "reject" // fail fast with ErrInProgress
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyQueue, PolicyReject:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown ingestion policy %q", s)
	}
}

// DocumentStore is the slice of the document repository the pipeline
// needs. Satisfied by *document.Repo.
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	MarkFailed(ctx context.Context, id uuid.UUID, detail string) error
	MarkIndexed(ctx context.Context, id uuid.UUID, contentHash string, chunkCount int) error
}

// Embedder is satisfied by *embedding.Service.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Pipeline struct {
	docs      DocumentStore
	store     vectorstore.Store
	embedder  Embedder
	splitter  *chunker.Splitter
	extractor Extractor
	locks     *keyedMutex
	policy    Policy
}

func NewPipeline(docs DocumentStore, store vectorstore.Store, embedder Embedder,
	splitter *chunker.Splitter, extractor Extractor, policy Policy) *Pipeline {
	if policy == "" {
		policy = PolicyQueue
	}
	return &Pipeline{
		docs:      docs,
		store:     store,
		embedder:  embedder,
		splitter:  splitter,
		extractor: extractor,
		locks:     newKeyedMutex(),
		policy:    policy,
	}
}

// Run ingests one document end to end and returns its final status.
// At most one run per document ID is in flight at a time; a second
// request either waits or is rejected according to the configured
// policy. Ingesting a document whose content hash is unchanged since
// the last successful run is a no-op.
func (p *Pipeline) Run(ctx context.Context, docID uuid.UUID) (string, error) {
	var release func()
	switch p.policy {
	case PolicyReject:
		r, ok := p.locks.TryAcquire(docID)
		if !ok {
			return "", fmt.Errorf("%w: document %s", ErrInProgress, docID)
		}
		release = r
	default:
		r, err := p.locks.Acquire(ctx, docID)
		if err != nil {
			return "", fmt.Errorf("acquire ingestion lock: %w", err)
		}
		release = r
	}
	defer release()

	doc, err := p.docs.Get(ctx, docID)
	if err != nil {
		return "", fmt.Errorf("load document: %w", err)
	}

	sum := sha256.Sum256(doc.RawData)
	hash := hex.EncodeToString(sum[:])

	if doc.Status == models.DocStatusIndexed && doc.ContentHash == hash {
		slog.Info("content unchanged, skipping ingestion", "document_id", docID)
		return doc.Status, nil
	}

	// Re-runs restart the state machine; the prior chunk set (if any)
	// is removed before new chunks are written.
	if doc.Terminal() {
		if err := p.docs.SetStatus(ctx, docID, models.DocStatusPending); err != nil {
			return "", err
		}
	}
	if err := p.store.DeleteDocument(ctx, docID); err != nil {
		return p.fail(ctx, docID, "clear prior chunks", err)
	}

	if err := p.docs.SetStatus(ctx, docID, models.DocStatusExtracting); err != nil {
		return "", err
	}
	extracted, err := p.extractor.Extract(ctx, doc)
	if err != nil {
		return p.fail(ctx, docID, "extract", err)
	}

	if err := p.docs.SetStatus(ctx, docID, models.DocStatusChunking); err != nil {
		return "", err
	}
	segments := p.splitter.SplitAll(extracted.Content)
	if len(segments) == 0 {
		// An empty document indexes successfully with zero chunks.
		if err := p.finish(ctx, docID, hash, 0); err != nil {
			return "", err
		}
		return models.DocStatusIndexed, nil
	}

	if err := p.docs.SetStatus(ctx, docID, models.DocStatusEmbedding); err != nil {
		return "", err
	}
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return p.fail(ctx, docID, "embed", err)
	}

	chunks := make([]vectorstore.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = vectorstore.Chunk{
			ID:         uuid.New(),
			DocumentID: docID,
			Ordinal:    seg.Index,
			Text:       seg.Text,
			Embedding:  vectors[i],
			TokenCount: seg.TokenCount,
			Metadata:   chunkMetadata(doc, extracted.Metadata),
		}
	}
	if err := p.store.Upsert(ctx, chunks); err != nil {
		return p.fail(ctx, docID, "index", err)
	}

	if err := p.finish(ctx, docID, hash, len(chunks)); err != nil {
		return "", err
	}

	slog.Info("document ingested", "document_id", docID, "chunks", len(chunks))
	return models.DocStatusIndexed, nil
}

func (p *Pipeline) finish(ctx context.Context, docID uuid.UUID, hash string, chunkCount int) error {
	if err := p.docs.MarkIndexed(ctx, docID, hash, chunkCount); err != nil {
		return fmt.Errorf("mark indexed: %w", err)
	}
	return nil
}

// fail records the failure and rolls back any chunks already written so
// a partially-ingested document never appears in search results. The
/// rollback runs on a detached context: it must proceed even when the
// request context is already cancelled.
func (p *Pipeline) fail(ctx context.Context, docID uuid.UUID, stage string, cause error) (string, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := p.store.DeleteDocument(rctx, docID); err != nil {
		slog.Error("compensating chunk delete failed", "document_id", docID, "error", err)
	}
	detail := fmt.Sprintf("%s: %v", stage, cause)
	if err := p.docs.MarkFailed(rctx, docID, detail); err != nil {
		slog.Error("mark failed errored", "document_id", docID, "error", err)
	}

	slog.Warn("ingestion failed", "document_id", docID, "stage", stage, "error", cause)
	return models.DocStatusFailed, fmt.Errorf("%s: %w", stage, cause)
}

func chunkMetadata(doc *models.Document, extractMeta map[string]string) map[string]any {
	meta := map[string]any{
		"title": doc.Title,
	}
	for k, v := range extractMeta {
		meta[k] = v
	}
	if doc.FileType != "" {
		meta["source_type"] = doc.FileType
	}
	return meta
}
