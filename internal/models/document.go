package models

import (
	"time"

	"github.com/google/uuid"
)

// Document ingestion states. Transitions are one-directional; Indexed
// and Failed are terminal, Failed is reachable from any non-terminal
// state.
const (
	DocStatusPending    = "pending"
	DocStatusExtracting = "extracting"
	DocStatusChunking   = "chunking"
	DocStatusEmbedding  = "embedding"
	DocStatusIndexed    = "indexed"
	DocStatusFailed     = "failed"
)

var statusOrder = map[string]int{
	DocStatusPending:    0,
	DocStatusExtracting: 1,
	DocStatusChunking:   2,
	DocStatusEmbedding:  3,
	DocStatusIndexed:    4,
}

// ValidTransition reports whether a document may move from one status to
// another. Re-running the pipeline resets a terminal document to pending,
// which is the only move out of a terminal state.
func ValidTransition(from, to string) bool {
	if to == DocStatusFailed {
		return from != DocStatusIndexed && from != DocStatusFailed
	}
	if to == DocStatusPending {
		return from == DocStatusIndexed || from == DocStatusFailed || from == DocStatusPending
	}
	fo, ok := statusOrder[from]
	if !ok {
		return false
	}
	t, ok := statusOrder[to]
	if !ok {
		return false
	}
	return t == fo+1
}

type Document struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	SourceURI   string    `json:"source_uri,omitempty" db:"source_uri"`
	FileType    string    `json:"file_type,omitempty" db:"file_type"`
	RawData     []byte    `json:"-" db:"raw_data"`
	ContentHash string    `json:"content_hash,omitempty" db:"content_hash"`
	Status      string    `json:"status" db:"status"`
	ErrorDetail string    `json:"error_detail,omitempty" db:"error_detail"`
	ChunkCount  int       `json:"chunk_count" db:"chunk_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the document has finished its current
// pipeline run, successfully or not.
func (d *Document) Terminal() bool {
	return d.Status == DocStatusIndexed || d.Status == DocStatusFailed
}
