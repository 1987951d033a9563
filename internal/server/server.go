package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opsagent/internal/cluster"
	"opsagent/internal/history"
	"opsagent/internal/metrics"
	"opsagent/internal/models"
	"opsagent/internal/storage"
)

const (
	defaultHistoryLimit = 200
	defaultPushInterval = 15 * time.Second
	defaultTimelineSpan = time.Hour
	maxTimelinePoints   = 500
)

// Server exposes metrics and the agent's JSON API.
type Server struct {
	httpServer     *http.Server
	node           cluster.Node
	store          *metrics.Store
	history        *storage.StatusStorage
	clusterService *cluster.Service
	gatherer       prometheus.Gatherer
	logger         hclog.Logger
	historyLimit   int
	pushInterval   time.Duration
}

// Option customises a Server.
type Option func(*Server)

// WithHistory serves the status, history, uptime and timeline endpoints from h.
func WithHistory(h *storage.StatusStorage) Option {
	return func(s *Server) { s.history = h }
}

// WithCluster serves /api/cluster from svc.
func WithCluster(svc *cluster.Service) Option {
	return func(s *Server) { s.clusterService = svc }
}

// WithLogger sets the server logger.
func WithLogger(l hclog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHistoryLimit caps how many entries history endpoints return.
func WithHistoryLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithPushInterval sets how often websocket clients receive snapshots.
func WithPushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pushInterval = d
		}
	}
}

// New creates a configured HTTP server for the agent.
func New(addr string, node cluster.Node, store *metrics.Store, gatherer prometheus.Gatherer, opts ...Option) *Server {
	s := &Server{
		node:         node,
		store:        store,
		gatherer:     gatherer,
		logger:       hclog.NewNullLogger(),
		historyLimit: defaultHistoryLimit,
		pushInterval: defaultPushInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:      s.logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/checks", s.handleChecks)
		r.Get("/status", s.handleLatest)
		r.Get("/history", s.handleHistory)
		r.Get("/uptime", s.handleUptime)
		r.Get("/timeline", s.handleTimeline)
		r.Get("/node/checks", s.handleNodeChecks)
		r.Get("/cluster", s.handleCluster)
		r.Get("/ws", s.handleLiveWS)
	})
	return r
}

func (s *Server) handleChecks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, emptyStatus())
		return
	}
	entry, ok := s.history.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, emptyStatus())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.historyN(parseLimit(r, s.historyLimit)))
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	summary := metrics.ComputeCheckUptime(s.historyN(parseLimit(r, s.historyLimit)))
	if summary == nil {
		summary = []metrics.CheckUptime{}
	}
	writeJSON(w, http.StatusOK, summary)
}

type timelineResponse struct {
	RangeStart time.Time              `json:"range_start"`
	RangeEnd   time.Time              `json:"range_end"`
	Checks     []models.CheckTimeline `json:"checks"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	span := defaultTimelineSpan
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid window"})
			return
		}
		span = d
	}
	points := history.DefaultTimelinePoints
	if raw := r.URL.Query().Get("points"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxTimelinePoints {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid points"})
			return
		}
		points = n
	}

	end := time.Now().UTC()
	start := end.Add(-span)
	var entries []models.StatusEntry
	if s.history != nil {
		entries = s.history.History()
	}
	checks := history.BuildCheckTimelines(entries, start, end, points)
	if checks == nil {
		checks = []models.CheckTimeline{}
	}
	writeJSON(w, http.StatusOK, timelineResponse{RangeStart: start, RangeEnd: end, Checks: checks})
}

func (s *Server) handleNodeChecks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.localChecks())
}

func (s *Server) handleCluster(w http.ResponseWriter, _ *http.Request) {
	if s.clusterService == nil {
		local := s.localChecks()
		writeJSON(w, http.StatusOK, cluster.ClusterSnapshot{
			GeneratedAt: local.GeneratedAt,
			Nodes: []cluster.PeerSnapshot{{
				Node:      local.Node,
				Checks:    local.Checks,
				UpdatedAt: local.GeneratedAt,
				Source:    "local",
			}},
		})
		return
	}
	writeJSON(w, http.StatusOK, s.clusterService.Snapshot())
}

func (s *Server) localChecks() cluster.NodeChecksResponse {
	return cluster.NodeChecksResponse{
		Node:        s.node,
		Checks:      s.store.Snapshot(),
		GeneratedAt: time.Now().UTC(),
	}
}

func (s *Server) historyN(limit int) []models.StatusEntry {
	if s.history == nil {
		return []models.StatusEntry{}
	}
	return s.history.HistoryN(limit)
}

func emptyStatus() map[string]any {
	return map[string]any{
		"timestamp": nil,
		"checks":    []models.CheckResult{},
	}
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
