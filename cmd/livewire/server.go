package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/livewire/internal/connection"
	"github.com/rickgao/livewire/internal/executor"
	"github.com/rickgao/livewire/internal/metrics"
	"github.com/rickgao/livewire/internal/poller"
	"github.com/rickgao/livewire/internal/router"
	"github.com/rickgao/livewire/internal/version"
	"github.com/rickgao/livewire/internal/writer"
)

// Views over the running components, kept narrow so handlers can be
// tested without a live socket or database.
type (
	transportView interface {
		Status() connection.Status
		Stats() connection.ManagerStats
	}
	dispatcherView interface {
		Stats() router.Stats
	}
	executorView interface {
		Report() metrics.Report
		Stats() executor.Stats
		ClearCache()
	}
	refresherView interface {
		Stats() poller.Stats
	}
	writerView interface {
		Stats() writer.Stats
	}
	pinger interface {
		Ping(ctx context.Context) error
	}
)

// services is what the status endpoints report on. db and samples are
// nil when no database is configured.
type services struct {
	transport  transportView
	dispatcher dispatcherView
	executor   executorView
	refresher  refresherView
	samples    writerView
	db         pinger
}

type healthResponse struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

type metricsResponse struct {
	Report     metrics.Report          `json:"report"`
	Executor   executor.Stats          `json:"executor"`
	Dispatcher router.Stats            `json:"dispatcher"`
	Transport  connection.Status       `json:"transport"`
	Frames     connection.ManagerStats `json:"frames"`
	Refresher  poller.Stats            `json:"refresher"`
	Writer     *writer.Stats           `json:"writer,omitempty"`
	Build      version.Info            `json:"build"`
}

// newHandler creates the HTTP handler for health, metrics and cache control.
func newHandler(svc services, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := healthResponse{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		status := svc.transport.Status()
		health.Components["transport"] = status
		switch status.State {
		case connection.StateConnected:
		case connection.StateDisconnected:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		if svc.db != nil {
			if err := svc.db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health, logger)
	})

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		resp := metricsResponse{
			Report:     svc.executor.Report(),
			Executor:   svc.executor.Stats(),
			Dispatcher: svc.dispatcher.Stats(),
			Transport:  svc.transport.Status(),
			Frames:     svc.transport.Stats(),
			Refresher:  svc.refresher.Stats(),
			Build:      version.Get(),
		}
		if svc.samples != nil {
			s := svc.samples.Stats()
			resp.Writer = &s
		}
		writeJSON(w, http.StatusOK, resp, logger)
	})

	mux.HandleFunc("POST /cache/clear", func(w http.ResponseWriter, r *http.Request) {
		n := svc.executor.Stats().Cache.Len
		svc.executor.ClearCache()
		logger.Info("cache cleared via http", "entries", n, "remote", r.RemoteAddr)
		writeJSON(w, http.StatusOK, map[string]int{"cleared": n}, logger)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}
