package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler takes the dependencies readiness depends on, by name.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Healthz is liveness only; it never touches dependencies.
func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), time.Second)
	defer cancel()

	failed := make([]string, 0)
	for name, p := range h.checks {
		if p == nil {
			continue
		}
		if err := p.Ping(cctx); err != nil {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}
