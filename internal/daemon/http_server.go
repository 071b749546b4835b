package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/buildcoord/internal/build"
	"git.home.luguber.info/inful/buildcoord/internal/config"
	coorderrors "git.home.luguber.info/inful/buildcoord/internal/errors"
	"git.home.luguber.info/inful/buildcoord/internal/group"
	"git.home.luguber.info/inful/buildcoord/internal/logfields"
	"git.home.luguber.info/inful/buildcoord/internal/metrics"
	"git.home.luguber.info/inful/buildcoord/internal/observability"
	"git.home.luguber.info/inful/buildcoord/internal/remote"
)

// tracePropagationHeaders are the caller identity/trace headers copied from
// inbound requests onto every remote scheduler call made on their behalf.
var tracePropagationHeaders = []string{"Traceparent", "Tracestate", "X-Request-Id"}

// requestContext derives the handler context: the caller's trace headers are
// attached for outbound propagation, and X-Request-Id becomes the log trace id.
func requestContext(r *http.Request) context.Context {
	ctx := r.Context()

	propagated := http.Header{}
	for _, name := range tracePropagationHeaders {
		if v := r.Header.Values(name); len(v) > 0 {
			propagated[http.CanonicalHeaderKey(name)] = v
		}
	}
	ctx = remote.WithTraceHeaders(ctx, propagated)

	if traceID := r.Header.Get("X-Request-Id"); traceID != "" {
		ctx = observability.WithTraceID(ctx, traceID)
	}
	return ctx
}

// HTTPServer serves the remote scheduler callback endpoint, the group API,
// health, and metrics.
type HTTPServer struct {
	server *http.Server
	cfg    *config.Config
	daemon *Daemon
}

// NewHTTPServer creates the HTTP server; Start binds the listener.
func NewHTTPServer(cfg *config.Config, daemon *Daemon) *HTTPServer {
	s := &HTTPServer{cfg: cfg, daemon: daemon}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /callbacks/tasks/{correlationId}", s.handleTaskCallback)
	mux.HandleFunc("POST /groups", s.handleCreateGroup)
	mux.HandleFunc("GET /groups/{id}", s.handleGetGroup)
	mux.HandleFunc("POST /tasks/{id}/cancel", s.handleCancelTask)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.HTTPHandler(daemon.registry))

	s.server = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listener and serves in a daemon worker. Binding failures
// surface synchronously so startup can fail fast.
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.server.Addr, err)
	}

	s.daemon.workers.Go(func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server terminated", logfields.Error(err))
		}
	})

	slog.Info("HTTP server listening", slog.String("addr", s.server.Addr))
	return nil
}

// Stop gracefully shuts the server down, bounded by ctx.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// taskCallback is the status notification body the remote scheduler posts.
type taskCallback struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// remoteStates maps the remote scheduler's state vocabulary onto the build
// status state machine.
var remoteStates = map[string]build.Status{
	"ENQUEUED":  build.StatusEnqueued,
	"RUNNING":   build.StatusBuilding,
	"COMPLETED": build.StatusSuccess,
	"FAILED":    build.StatusFailed,
	"CANCELLED": build.StatusCancelled,
}

// handleTaskCallback applies an asynchronous status notification. Unknown
// correlation ids get 404. An out-of-order notification is dropped with 200:
// the state machine never applies an illegal transition, and the remote
// service must not retry a drop.
func (s *HTTPServer) handleTaskCallback(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlationId")

	var cb taskCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid callback body")
		return
	}

	status, ok := remoteStates[cb.State]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", cb.State))
		return
	}

	err := s.daemon.Coordinator().OnRemoteStatus(requestContext(r), correlationID, status)
	if err != nil {
		if coorderrors.IsCategory(err, coorderrors.CategoryValidation) {
			writeError(w, http.StatusNotFound, "unknown correlation id")
			return
		}
		slog.Error("Failed to apply remote status",
			logfields.CorrelationID(correlationID),
			logfields.Status(cb.State),
			logfields.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to apply status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": "accepted"})
}

// createGroupRequest is the group submission body.
type createGroupRequest struct {
	ConfigSetID string `json:"config_set_id"`
	Tasks       []struct {
		ID             string   `json:"id,omitempty"`
		ConfigID       string   `json:"config_id"`
		ConfigRevision string   `json:"config_revision,omitempty"`
		DependsOn      []string `json:"depends_on,omitempty"`
	} `json:"tasks"`
}

func (s *HTTPServer) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	specs := make([]group.TaskSpec, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		specs = append(specs, group.TaskSpec{
			ID:             t.ID,
			ConfigID:       t.ConfigID,
			ConfigRevision: t.ConfigRevision,
			DependsOn:      t.DependsOn,
		})
	}

	g, err := s.daemon.Coordinator().CreateGroup(requestContext(r), req.ConfigSetID, specs)
	if err != nil {
		if coorderrors.IsCategory(err, coorderrors.CategoryValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Failed to create group", logfields.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}

	writeJSON(w, http.StatusCreated, g)
}

func (s *HTTPServer) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	g, err := s.daemon.store.GetGroup(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}

	tasks, err := s.daemon.store.ListGroupTasks(r.Context(), id)
	if err != nil {
		slog.Error("Failed to list group tasks", logfields.GroupID(id), logfields.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load group tasks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group": g,
		"tasks": tasks,
	})
}

func (s *HTTPServer) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.daemon.Coordinator().CancelTask(requestContext(r), id); err != nil {
		slog.Error("Failed to cancel task", logfields.TaskID(id), logfields.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "cancelled"})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": s.daemon.History().GetHistory(),
		"active": s.daemon.History().GetActiveGroups(),
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.daemon.PerformHealthChecks()

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	code := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", logfields.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
