// Package document persists document records and their ingestion state.
package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vertexgrove/ragd/internal/models"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

type CreateRequest struct {
	Title     string
	SourceURI string
	FileType  string
	RawData   []byte
}

const docColumns = `id, title, source_uri, file_type, raw_data, content_hash, status, error_detail, chunk_count, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, req CreateRequest) (*models.Document, error) {
	var doc models.Document
	err := r.db.QueryRow(ctx,
		`INSERT INTO documents (id, title, source_uri, file_type, raw_data, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+docColumns,
		uuid.New(), req.Title, req.SourceURI, req.FileType, req.RawData, models.DocStatusPending,
	).Scan(scanTargets(&doc)...)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return &doc, nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := r.db.QueryRow(ctx,
		`SELECT `+docColumns+` FROM documents WHERE id = $1`, id,
	).Scan(scanTargets(&doc)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (r *Repo) List(ctx context.Context, limit, offset int) ([]models.Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, source_uri, file_type, content_hash, status, error_detail, chunk_count, created_at, updated_at
		 FROM documents ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.SourceURI, &d.FileType, &d.ContentHash,
			&d.Status, &d.ErrorDetail, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Delete removes the document row; chunks go with it via the FK
// cascade.
func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus moves a document along the ingestion state machine,
// rejecting transitions the machine does not allow. The caller is
// expected to hold the per-document ingestion lock.
func (r *Repo) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	doc, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !models.ValidTransition(doc.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, status)
	}

	_, err = r.db.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, detail string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $2, error_detail = $3, updated_at = now() WHERE id = $1`,
		id, models.DocStatusFailed, detail)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *Repo) MarkIndexed(ctx context.Context, id uuid.UUID, contentHash string, chunkCount int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE documents
		 SET status = $2, content_hash = $3, chunk_count = $4, error_detail = '', updated_at = now()
		 WHERE id = $1`,
		id, models.DocStatusIndexed, contentHash, chunkCount)
	if err != nil {
		return fmt.Errorf("mark indexed: %w", err)
	}
	return nil
}

func scanTargets(d *models.Document) []any {
	return []any{&d.ID, &d.Title, &d.SourceURI, &d.FileType, &d.RawData, &d.ContentHash,
		&d.Status, &d.ErrorDetail, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt}
}
