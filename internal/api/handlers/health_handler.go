package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/markdave123-py/knowledgehub/internal/api/response"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and the reachability of each dependency.
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler takes the dependencies to probe by name. Nil entries are
// skipped.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	live := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			live[name] = p
		}
	}
	return &HealthHandler{checks: live}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	healthy := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	if !healthy {
		response.WriteError(w, r, http.StatusServiceUnavailable, "dependency check failed", results)
		return
	}
	response.Success(w, r, http.StatusOK, map[string]any{"status": "ok", "checks": results})
}
