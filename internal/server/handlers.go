package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/knoguchi/learnpath/internal/filter"
	"github.com/knoguchi/learnpath/internal/ranking"
	"github.com/knoguchi/learnpath/internal/service"
)

type handlers struct {
	search     SearchAPI
	summarizer SummarizeAPI
	logger     *slog.Logger
}

type searchRequest struct {
	Query  string               `json:"query"`
	TopK   *int                 `json:"top_k"`
	Filter *filter.SearchFilter `json:"filter"`
}

type searchResponse struct {
	Results []ranking.ResultCard `json:"results"`
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	snap := h.search.Readiness()
	status := http.StatusOK
	if !snap.SearchReady() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (h *handlers) embed(w http.ResponseWriter, r *http.Request) {
	texts, err := decodeEmbedRequest(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	vectors, err := h.search.Embed(r.Context(), texts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vectors)
}

func (h *handlers) searchResources(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	q := service.Query{Text: req.Query, Filter: req.Filter}
	if req.TopK != nil {
		// An explicit top_k is coerced to at least 1; absent means the default.
		q.TopK = max(*req.TopK, 1)
	}

	res, err := h.search.Search(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: res.Results})
}

func (h *handlers) summarize(w http.ResponseWriter, r *http.Request) {
	if h.summarizer == nil {
		h.writeError(w, r, service.ErrNotImplemented)
		return
	}

	var req service.SummarizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.summarizer.Summarize(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeEmbedRequest accepts either a bare JSON array of strings or {"texts": [...]}.
func decodeEmbedRequest(w http.ResponseWriter, r *http.Request) ([]string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", service.ErrInvalidQuery, err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var texts []string
		if err := json.Unmarshal(trimmed, &texts); err != nil {
			return nil, fmt.Errorf("%w: %w", service.ErrInvalidQuery, err)
		}
		return texts, nil
	}

	var req embedRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrInvalidQuery, err)
	}
	return req.Texts, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", service.ErrInvalidQuery, err)
	}
	return nil
}

// writeError maps a service error onto an HTTP status and logs it once.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	resp := errorResponse{Error: publicMessage(err)}
	var se *service.StageError
	if errors.As(err, &se) {
		resp.Stage = string(se.Stage)
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		"path", r.URL.Path,
		"status", status,
		"stage", resp.Stage,
		"error", err,
		"request_id", middleware.GetReqID(r.Context()),
	)

	writeJSON(w, status, resp)
}

// publicMessage keeps upstream response bodies out of client-facing errors.
// Only malformed requests echo their cause, since it describes the caller's own input.
func publicMessage(err error) string {
	kind := service.KindOf(err)
	switch kind {
	case nil:
		return "internal error"
	case service.ErrInvalidQuery:
		return err.Error()
	default:
		return kind.Error()
	}
}

func statusFor(err error) int {
	switch service.KindOf(err) {
	case service.ErrInvalidQuery:
		return http.StatusBadRequest
	case service.ErrNotReady, service.ErrServiceUnavailable, service.ErrIndexUnavailable:
		return http.StatusServiceUnavailable
	case service.ErrIndexQueryFailed, service.ErrInferenceFailed:
		return http.StatusBadGateway
	case service.ErrNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
