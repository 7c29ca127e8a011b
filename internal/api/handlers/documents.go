package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vertexgrove/ragd/internal/document"
	"github.com/vertexgrove/ragd/internal/models"
	"github.com/vertexgrove/ragd/internal/queue"
	"github.com/vertexgrove/ragd/internal/vectorstore"
)

const maxUploadBytes = 32 << 20

type DocumentHandler struct {
	repo  *document.Repo
	store vectorstore.Store
	queue *queue.Client
}

func NewDocumentHandler(repo *document.Repo, store vectorstore.Store, qc *queue.Client) *DocumentHandler {
	return &DocumentHandler{repo: repo, store: store, queue: qc}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "read file"})
		return
	}
	if len(data) > maxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}
	fileType := filepath.Ext(header.Filename)
	if fileType == "" {
		fileType = header.Header.Get("Content-Type")
	}

	doc, err := h.repo.Create(r.Context(), document.CreateRequest{
		Title:     title,
		SourceURI: r.FormValue("source_uri"),
		FileType:  fileType,
		RawData:   data,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := h.queue.EnqueueDocumentIngest(queue.DocumentIngestPayload{DocumentID: doc.ID.String()}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue ingestion: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}

	docs, err := h.repo.List(r.Context(), limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDoc(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDoc(w, r)
	if !ok {
		return
	}
	resp := map[string]any{
		"id":          doc.ID.String(),
		"status":      doc.Status,
		"chunk_count": doc.ChunkCount,
	}
	if doc.ErrorDetail != "" {
		resp["error_detail"] = doc.ErrorDetail
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document ID"})
		return
	}

	// Chunks go first so a half-deleted document never serves stale
	// search results.
	if err := h.store.DeleteDocument(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, document.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Reingest re-queues an already uploaded document. The pipeline
// short-circuits when the content is unchanged and already indexed.
func (h *DocumentHandler) Reingest(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDoc(w, r)
	if !ok {
		return
	}

	if err := h.queue.EnqueueDocumentIngest(queue.DocumentIngestPayload{DocumentID: doc.ID.String()}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue ingestion: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": doc.ID.String(), "status": "queued"})
}

func (h *DocumentHandler) loadDoc(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document ID"})
		return nil, false
	}

	doc, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
			return nil, false
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, false
	}
	return doc, true
}
