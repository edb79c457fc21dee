// Package server provides HTTP server construction for docsync.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/docsync/internal/auth"
	"github.com/alexjbarnes/docsync/internal/engine"
)

// StatusSource reports the sync engine's state. *engine.Engine satisfies it.
type StatusSource interface {
	Status() engine.Status
	AutoSyncEnabled() bool
	LastReport() engine.Report
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Keys       *auth.KeyStore
	MCPHandler http.Handler
	Engine     StatusSource
	Device     string
	Logger     *slog.Logger
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status     engine.Status `json:"status"`
	AutoSync   bool          `json:"auto_sync"`
	Device     string        `json:"device"`
	LastReport engine.Report `json:"last_report"`
}

// NewMux builds the HTTP mux with the health and MCP endpoints. The MCP
// endpoint is protected by API key middleware; health is open so
// supervisors can probe it.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth(cfg))

	authMiddleware := auth.Middleware(cfg.Keys, cfg.Logger)
	mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))

	return mux
}

func handleHealth(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:     cfg.Engine.Status(),
			AutoSync:   cfg.Engine.AutoSyncEnabled(),
			Device:     cfg.Device,
			LastReport: cfg.Engine.LastReport(),
		}

		code := http.StatusOK
		if resp.Status == engine.StatusError {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			cfg.Logger.Debug("writing health response", slog.String("error", err.Error()))
		}
	}
}
