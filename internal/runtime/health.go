package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// HealthServer serves the runtime's /healthz endpoint. The server runs in a
// background goroutine and is stopped with Shutdown.
type HealthServer struct {
	server  *http.Server
	runtime *Runtime
	logger  *slog.Logger
}

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status       string `json:"status"`
	State        State  `json:"state"`
	PendingTasks int    `json:"pending_tasks"`
	Error        string `json:"error,omitempty"`
}

// NewHealthServer creates a health server for r listening on addr.
func NewHealthServer(r *Runtime, addr string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		runtime: r,
		logger:  r.logger.With("component", "health"),
	}
	mux.HandleFunc("/healthz", hs.handleHealthz)
	return hs
}

// Start starts the HTTP server in a background goroutine and returns immediately.
// Server errors are logged and do not stop the runtime.
func (hs *HealthServer) Start() {
	go func() {
		hs.logger.Debug("health server starting", "addr", hs.server.Addr)
		if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.logger.Error("health server error", "error", err)
		}
		hs.logger.Debug("health server stopped")
	}()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

// handleHealthz returns 200 while the runtime is active and 503 otherwise.
//
// Response format:
//   - Active:   {"status": "healthy", "state": "active", "pending_tasks": 0}
//   - Inactive: {"status": "unhealthy", "state": "registering", "error": "hub unreachable: ..."}
func (hs *HealthServer) handleHealthz(w http.ResponseWriter, req *http.Request) {
	state := hs.runtime.State()
	resp := HealthResponse{
		Status:       "healthy",
		State:        state,
		PendingTasks: hs.runtime.tasks.Pending(),
	}
	code := http.StatusOK
	if state != StateActive {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	if err := hs.runtime.LastError(); err != nil {
		resp.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		hs.logger.Error("failed to encode health response", "error", err)
	}
}
