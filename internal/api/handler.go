// Package api exposes the assistant over HTTP (JSON REST) and MCP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"coursemate/internal/assistant"
	"coursemate/internal/metrics"
	"coursemate/internal/searcher"
)

const maxRequestBodySize = 10 << 20 // 10MB, PDFs come in base64

// Service is the assistant surface the API layer needs.
type Service interface {
	Answer(ctx context.Context, req assistant.AnswerRequest) (assistant.AnswerResult, error)
	Search(ctx context.Context, query, partition string, k int) (searcher.Output, error)
	Ingest(ctx context.Context, partition, sourceID, text string) (int, error)
	IngestPDF(ctx context.Context, partition, path string) (int, error)
	Metrics() metrics.Snapshot
	ClearCaches()
	Partitions() []string
}

// NewHandler builds the REST router. An empty token disables auth; health
// stays open either way.
func NewHandler(svc Service, token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if token != "" {
			r.Use(bearerAuth(token))
		}
		r.Post("/ask", handleAsk(svc))
		r.Post("/ingest", handleIngest(svc))
		r.Get("/search", handleSearch(svc))
		r.Get("/partitions", handlePartitions(svc))
		r.Get("/metrics", handleMetrics(svc))
		r.Post("/caches/clear", handleClearCaches(svc))
	})

	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) ||
				subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleAsk(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req assistant.AnswerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := svc.Answer(r.Context(), req)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, res)
	}
}

// IngestRequest carries one document. Content is plain text, or base64 when
// Type is "pdf".
type IngestRequest struct {
	Partition string `json:"partition"`
	Source    string `json:"source"`
	Type      string `json:"type"` // "text" (default) or "pdf"
	Content   string `json:"content"`
}

type IngestResponse struct {
	Partition string `json:"partition"`
	Chunks    int    `json:"chunks"`
}

func handleIngest(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Partition == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "partition is required")
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Source == "" {
			req.Source = "upload"
		}

		var chunks int
		var err error
		switch req.Type {
		case "", "text":
			chunks, err = svc.Ingest(r.Context(), req.Partition, req.Source, req.Content)
		case "pdf":
			chunks, err = ingestPDFBody(r.Context(), svc, req)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown type %q", req.Type)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ingest failed: %v", err)
			return
		}
		writeJSON(w, IngestResponse{Partition: req.Partition, Chunks: chunks})
	}
}

// ingestPDFBody decodes a base64 PDF to a scratch file for extraction.
func ingestPDFBody(ctx context.Context, svc Service, req IngestRequest) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		return 0, fmt.Errorf("invalid base64 content: %w", err)
	}
	dir, err := os.MkdirTemp("", "coursemate-ingest-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, filepath.Base(req.Source))
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return 0, err
	}
	return svc.IngestPDF(ctx, req.Partition, path)
}

func handleSearch(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		k := 0
		if raw := r.URL.Query().Get("k"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "k must be a non-negative integer")
				return
			}
			k = n
		}

		out, err := svc.Search(r.Context(), query, r.URL.Query().Get("partition"), k)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		writeJSON(w, out)
	}
}

func handlePartitions(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := svc.Partitions()
		if names == nil {
			names = []string{}
		}
		writeJSON(w, map[string][]string{"partitions": names})
	}
}

func handleMetrics(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Metrics())
	}
}

func handleClearCaches(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.ClearCaches()
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
