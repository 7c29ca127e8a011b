package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/vertexgrove/ragd/internal/models"
	"github.com/vertexgrove/ragd/pkg/textextract"
)

// Extractor turns a document's stored bytes into plain text plus
// extraction metadata. Failures move the document to failed.
type Extractor interface {
	Extract(ctx context.Context, doc *models.Document) (*textextract.ExtractedText, error)
}

// FileExtractor dispatches on the document's file type (PDF, DOCX,
// plain text).
type FileExtractor struct{}

func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

func (e *FileExtractor) Extract(ctx context.Context, doc *models.Document) (*textextract.ExtractedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader := bytes.NewReader(doc.RawData)
	extracted, err := textextract.Extract(reader, int64(len(doc.RawData)), doc.FileType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtractionFailed, doc.FileType, err)
	}
	return extracted, nil
}
