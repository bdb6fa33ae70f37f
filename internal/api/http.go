package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewHTTPHandler returns the health/stats router served on CORTEX_PORT.
// It is read-only and intended for local dashboards and liveness probes;
// the real surface is the MCP stdio transport.
func NewHTTPHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := "ok"
		if deps.InitErr != nil {
			status = "degraded"
		}
		writeJSON(w, map[string]string{"status": status, "version": deps.Version})
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		if deps.InitErr != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]string{"error": deps.InitErr.Error()})
			return
		}
		active, err := deps.Store.ActiveCount()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		total, _ := deps.Store.TotalCount()
		vectors, _ := deps.Store.VectorCount()
		edges, _ := deps.Store.EdgeCount()
		pending, _ := deps.Store.PendingJobCount()

		writeJSON(w, map[string]any{
			"active":      active,
			"total":       total,
			"vectors":     vectors,
			"edges":       edges,
			"pendingJobs": pending,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
