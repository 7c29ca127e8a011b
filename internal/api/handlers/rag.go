package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vertexgrove/ragd/internal/rag"
)

type RAGHandler struct {
	svc rag.Service
}

func NewRAGHandler(svc rag.Service) *RAGHandler {
	return &RAGHandler{svc: svc}
}

func (h *RAGHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req rag.QueryRequest
	if !decodeQuery(w, r, &req, &req.Query) {
		return
	}

	resp, err := h.svc.Query(r.Context(), req)
	if err != nil {
		writeRAGError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RAGHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req rag.SearchRequest
	if !decodeQuery(w, r, &req, &req.Query) {
		return
	}

	results, err := h.svc.Search(r.Context(), req)
	if err != nil {
		writeRAGError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// Context returns the assembled context without running generation,
// for callers that bring their own completion step.
func (h *RAGHandler) Context(w http.ResponseWriter, r *http.Request) {
	var req rag.SearchRequest
	if !decodeQuery(w, r, &req, &req.Query) {
		return
	}

	result, err := h.svc.Context(r.Context(), req)
	if err != nil {
		writeRAGError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeQuery(w http.ResponseWriter, r *http.Request, dst any, query *string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	if *query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query required"})
		return false
	}
	return true
}

func writeRAGError(w http.ResponseWriter, err error) {
	if errors.Is(err, rag.ErrNoContext) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no relevant context for query"})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}
