// Package health mounts the trivial liveness/readiness endpoints every
// cmd/* pipeline binary exposes, following the teacher's
// internal/api.HealthChecker shape but trimmed to the pipeline's own
// dependency set (broker + database, no S3/worker-queue checks).
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// Checker reports the health of one process's broker/database dependencies.
// Any dependency can be nil; a nil dependency is skipped rather than
// reported down, since not every binary holds every handle (e.g. the
// action worker has no *sql.DB).
type Checker struct {
	Service     string
	DB          *sql.DB
	RedisClient *redis.Client
}

// Mount registers /health, /health/live, and /health/ready on r.
func (c *Checker) Mount(r chi.Router) {
	r.Get("/health", c.handleHealth)
	r.Get("/health/live", c.handleLive)
	r.Get("/health/ready", c.handleReady)
}

type status struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// handleHealth returns {"status":"ok","service":"<name>"} plus a per-dependency
// breakdown. Always 200 — degraded dependencies show up in the body, not the
// status code (mirrors the teacher's "status field conveys health" choice).
func (c *Checker) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := c.runChecks(r.Context())
	respond(w, http.StatusOK, status{Status: overallStatus(checks), Service: c.Service, Checks: checks})
}

// handleLive is a bare liveness probe: 200 if the process is scheduling
// goroutines at all, no dependency checks.
func (c *Checker) handleLive(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, status{Status: "ok", Service: c.Service})
}

// handleReady checks dependencies and returns 503 if any configured one is
// down, suitable for a Kubernetes/ECS readiness probe.
func (c *Checker) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := c.runChecks(r.Context())
	overall := overallStatus(checks)

	code := http.StatusOK
	if overall != "ok" {
		code = http.StatusServiceUnavailable
	}
	respond(w, code, status{Status: overall, Service: c.Service, Checks: checks})
}

func (c *Checker) runChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string, 2)

	if c.DB != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := c.DB.PingContext(pingCtx); err != nil {
			checks["database"] = "down: " + err.Error()
		} else {
			checks["database"] = "up"
		}
		cancel()
	}

	if c.RedisClient != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := c.RedisClient.Ping(pingCtx).Err(); err != nil {
			checks["broker"] = "down: " + err.Error()
		} else {
			checks["broker"] = "up"
		}
		cancel()
	}

	return checks
}

func overallStatus(checks map[string]string) string {
	for _, v := range checks {
		if len(v) >= 4 && v[:4] == "down" {
			return "unhealthy"
		}
	}
	return "ok"
}

func respond(w http.ResponseWriter, code int, s status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(s)
}
