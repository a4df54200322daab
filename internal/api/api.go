// Package api exposes the service over HTTP, a WebSocket job stream and MCP.
package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
	"github.com/kalambet/genius/internal/runner"
	"github.com/kalambet/genius/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the handler dependencies. Watcher and ChunkWorker are optional;
// without them the watch and worker endpoints answer 501.
type Deps struct {
	Service     *service.Service
	Watcher     jobs.Watcher
	ChunkWorker runner.Worker
	// WorkerToken, when set, is required as a bearer token on the chunk
	// worker endpoint.
	WorkerToken string
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/archetypes", handleArchetypes(deps))
		r.Post("/runs", handleRun(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Post("/jobs/{id}/cancel", handleCancelJob(deps))
		r.Get("/jobs/{id}/watch", handleWatch(deps))
		r.Post("/compress", handleCompress(deps))
		r.Get("/recommendations", handleRecommend(deps))

		r.Group(func(r chi.Router) {
			if deps.WorkerToken != "" {
				r.Use(requireWorkerToken(deps.WorkerToken))
			}
			r.Post("/worker/chunk", handleChunk(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleArchetypes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"archetypes": deps.Service.Archetypes()})
	}
}

func handleRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.Request
		if !decodeBody(w, r, &req) {
			return
		}

		sub, err := deps.Service.Submit(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		if sub.Queued() {
			writeJSON(w, http.StatusAccepted, map[string]any{"jobId": sub.JobID, "status": sub.Status})
			return
		}
		writeJSON(w, http.StatusOK, sub.Result)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Service.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleCancelJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Service.CancelJob(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobId": id, "status": jobs.StatusCancelled})
	}
}

func handleCompress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.CompressRequest
		if !decodeBody(w, r, &req) {
			return
		}

		f, err := deps.Service.Compress(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}

func handleRecommend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("question"))
		if q == "" {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "question is required")
			return
		}

		rec, err := deps.Service.Recommend(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleChunk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.ChunkWorker == nil {
			httpError(w, http.StatusNotImplemented, errAPI, "chunk worker not available")
			return
		}

		var req runner.ChunkRequest
		if !decodeBody(w, r, &req) {
			return
		}

		layers, err := deps.ChunkWorker.ProcessChunk(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runner.ChunkResponse{Layers: layers})
	}
}
