package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/vertexgrove/ragd/internal/embedding"
	"github.com/vertexgrove/ragd/internal/ingest"
	"github.com/vertexgrove/ragd/internal/queue"
)

// IngestWorker drives the ingestion pipeline from the task queue.
type IngestWorker struct {
	pipeline *ingest.Pipeline
}

func NewIngestWorker(p *ingest.Pipeline) *IngestWorker {
	return &IngestWorker{pipeline: p}
}

func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DocumentIngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	docID, err := uuid.Parse(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("parse document ID: %v: %w", err, asynq.SkipRetry)
	}

	slog.Info("ingesting document", "document_id", docID)

	status, err := w.pipeline.Run(ctx, docID)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInProgress):
			// Another run holds the lock; asynq will retry later.
			return err
		case errors.Is(err, embedding.ErrUnavailable):
			// Transient provider outage, worth retrying.
			return err
		default:
			// Permanent failures are recorded on the document row;
			// retrying the task would only repeat them.
			return fmt.Errorf("ingest document %s: %v: %w", docID, err, asynq.SkipRetry)
		}
	}

	slog.Info("document ingested", "document_id", docID, "status", status)
	return nil
}
