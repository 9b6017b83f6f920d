// Package httpx is the thin command and query surface over the engine. Every
// endpoint either forwards to a service or reads from a repository; no
// lifecycle decisions are made here.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/repository"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/service/health"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/service/lifecycle"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/service/selfupgrade"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitCommand   = 30
	rateLimitQuery     = 240
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// LifecycleService is the command surface of the lifecycle controller.
type LifecycleService interface {
	Deploy(ctx context.Context, manifest domain.StackManifest) (*lifecycle.Operation, error)
	Upgrade(ctx context.Context, manifest domain.StackManifest) (*lifecycle.Operation, error)
	Rollback(ctx context.Context, stackID string) (*lifecycle.Operation, error)
	EnterMaintenance(ctx context.Context, stackID string) error
	ExitMaintenance(ctx context.Context, stackID string) error
	StopStack(ctx context.Context, stackID string) error
	StartStack(ctx context.Context, stackID string) error
	Recover(ctx context.Context, stackID string) error
	GetStack(ctx context.Context, stackID string) (*domain.StackRecord, error)
}

// HealthService is the health query surface.
type HealthService interface {
	Latest(ctx context.Context, stackID string) (*domain.HealthSnapshot, error)
	History(ctx context.Context, stackID string, since time.Time, limit int) ([]domain.HealthSnapshot, error)
}

// SelfUpgradeService triggers orchestrator self-replacement.
type SelfUpgradeService interface {
	Replace(ctx context.Context, targetImage string) (*selfupgrade.Handoff, error)
}

var (
	_ LifecycleService   = (*lifecycle.Controller)(nil)
	_ HealthService      = (*health.Aggregator)(nil)
	_ SelfUpgradeService = (*selfupgrade.Coordinator)(nil)
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	lifecycle LifecycleService
	health    HealthService
	upgrade   SelfUpgradeService
	stacks    repository.StackRepository
	events    repository.EventRepository
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, ctrl LifecycleService, healthSvc HealthService, upgradeSvc SelfUpgradeService, stacks repository.StackRepository, events repository.EventRepository, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		lifecycle: ctrl,
		health:    healthSvc,
		upgrade:   upgradeSvc,
		stacks:    stacks,
		events:    events,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/stacks", r.audit(r.withRateLimit("/stacks", rateLimitQuery, rateWindowDefault, r.handleStacks)))
	r.mux.HandleFunc("/stacks/deploy", r.audit(r.withRateLimit("/stacks/deploy", rateLimitCommand, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/stacks/upgrade", r.audit(r.withRateLimit("/stacks/upgrade", rateLimitCommand, rateWindowDefault, r.handleUpgrade)))
	r.mux.HandleFunc("/stacks/", r.audit(r.handleStackSubroutes))
	r.mux.HandleFunc("/self-upgrade", r.audit(r.withRateLimit("/self-upgrade", rateLimitCommand, rateWindowDefault, r.handleSelfUpgrade)))
	r.mux.HandleFunc("/ws/progress", r.audit(r.withRateLimit("/ws/progress", rateLimitWebsocket, rateWindowRealtime, r.handleProgressWS)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status := "ok"
	code := http.StatusOK
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (r *Router) handleStacks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	records, err := r.stacks.ListStacks(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list stacks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stacks": records})
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	r.handleManifestCommand(w, req, r.lifecycle.Deploy)
}

func (r *Router) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	r.handleManifestCommand(w, req, r.lifecycle.Upgrade)
}

func (r *Router) handleManifestCommand(w http.ResponseWriter, req *http.Request, command func(context.Context, domain.StackManifest) (*lifecycle.Operation, error)) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var manifest domain.StackManifest
	if err := json.NewDecoder(req.Body).Decode(&manifest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	op, err := command(req.Context(), manifest)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, operationPayload(op))
}

func (r *Router) handleStackSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/stacks/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	stackID := parts[0]

	if len(parts) == 1 {
		r.withRateLimit("/stacks/{id}", rateLimitQuery, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleStackGet(w, req, stackID)
		})(w, req)
		return
	}

	var route string
	var handler http.HandlerFunc
	limit := rateLimitCommand
	switch strings.Join(parts[1:], "/") {
	case "rollback":
		route, handler = "/stacks/{id}/rollback", func(w http.ResponseWriter, req *http.Request) {
			r.handleRollback(w, req, stackID)
		}
	case "maintenance/enter":
		route, handler = "/stacks/{id}/maintenance/enter", func(w http.ResponseWriter, req *http.Request) {
			r.handleModeCommand(w, req, stackID, r.lifecycle.EnterMaintenance)
		}
	case "maintenance/exit":
		route, handler = "/stacks/{id}/maintenance/exit", func(w http.ResponseWriter, req *http.Request) {
			r.handleModeCommand(w, req, stackID, r.lifecycle.ExitMaintenance)
		}
	case "stop":
		route, handler = "/stacks/{id}/stop", func(w http.ResponseWriter, req *http.Request) {
			r.handleModeCommand(w, req, stackID, r.lifecycle.StopStack)
		}
	case "start":
		route, handler = "/stacks/{id}/start", func(w http.ResponseWriter, req *http.Request) {
			r.handleModeCommand(w, req, stackID, r.lifecycle.StartStack)
		}
	case "recover":
		route, handler = "/stacks/{id}/recover", func(w http.ResponseWriter, req *http.Request) {
			r.handleModeCommand(w, req, stackID, r.lifecycle.Recover)
		}
	case "health":
		limit = rateLimitQuery
		route, handler = "/stacks/{id}/health", func(w http.ResponseWriter, req *http.Request) {
			r.handleHealthLatest(w, req, stackID)
		}
	case "health/history":
		limit = rateLimitQuery
		route, handler = "/stacks/{id}/health/history", func(w http.ResponseWriter, req *http.Request) {
			r.handleHealthHistory(w, req, stackID)
		}
	case "events":
		limit = rateLimitQuery
		route, handler = "/stacks/{id}/events", func(w http.ResponseWriter, req *http.Request) {
			r.handleEvents(w, req, stackID)
		}
	default:
		r.notFound(w)
		return
	}
	r.withRateLimit(route, limit, rateWindowDefault, handler)(w, req)
}

func (r *Router) handleStackGet(w http.ResponseWriter, req *http.Request, stackID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	record, err := r.lifecycle.GetStack(req.Context(), stackID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (r *Router) handleRollback(w http.ResponseWriter, req *http.Request, stackID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	op, err := r.lifecycle.Rollback(req.Context(), stackID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, operationPayload(op))
}

func (r *Router) handleModeCommand(w http.ResponseWriter, req *http.Request, stackID string, command func(context.Context, string) error) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if err := command(req.Context(), stackID); err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleHealthLatest(w http.ResponseWriter, req *http.Request, stackID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	snapshot, err := r.health.Latest(req.Context(), stackID)
	if err != nil {
		if err == repository.ErrNotFound {
			writeError(w, http.StatusNotFound, "no health snapshot yet")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load health snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *Router) handleHealthHistory(w http.ResponseWriter, req *http.Request, stackID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	var since time.Time
	if raw := req.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	snapshots, err := r.health.History(req.Context(), stackID, since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load health history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snapshots})
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request, stackID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := r.events.ListEvents(req.Context(), stackID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (r *Router) handleSelfUpgrade(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if r.upgrade == nil {
		writeError(w, http.StatusServiceUnavailable, "self-upgrade not available")
		return
	}
	var payload struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	handoff, err := r.upgrade.Replace(req.Context(), payload.Image)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":       "handoff",
		"old":          handoff.OldName,
		"new":          handoff.NewName,
		"swapper_id":   handoff.SwapperID,
		"target_image": handoff.TargetImage,
	})
}

func (r *Router) handleProgressWS(w http.ResponseWriter, req *http.Request) {
	stackID := req.URL.Query().Get("stack_id")
	if stackID == "" {
		writeError(w, http.StatusBadRequest, "stack_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(stackID, client)
	go func() {
		client.WaitClosed()
		r.hub.Unregister(stackID, client)
		client.Close()
	}()
}

func operationPayload(op *lifecycle.Operation) map[string]any {
	return map[string]any{
		"operation_id": op.ID,
		"stack_id":     op.StackID,
		"kind":         op.Kind,
		"accepted_at":  op.AcceptedAt,
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)
	}
}

// routeLabel collapses stack-scoped paths so metric cardinality stays bounded.
func routeLabel(path string) string {
	if !strings.HasPrefix(path, "/stacks/") {
		return path
	}
	trimmed := strings.TrimPrefix(path, "/stacks/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 1 {
		switch parts[0] {
		case "deploy", "upgrade":
			return path
		}
		return "/stacks/{id}"
	}
	return "/stacks/{id}/" + strings.Join(parts[1:], "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
