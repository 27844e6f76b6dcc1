package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/datasource/internal/engine"
	"github.com/coffersTech/nanolog/datasource/internal/model"
	"github.com/coffersTech/nanolog/datasource/internal/pkg/logjson"
	"github.com/coffersTech/nanolog/datasource/internal/storage"
)

const (
	defaultSearchLimit       = 100
	defaultHistogramInterval = 60_000
	maxBodyBytes             = 32 << 20
	healthOKMessage          = "Success"
)

// Option configures a Server.
type Option func(*Server)

// WithStore enables the ingest, search and stats endpoints on top of store.
func WithStore(store *storage.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithPinger sets the dependency checked by the health endpoint.
func WithPinger(p engine.Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGatherer sets the registry exposed on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithAllowedOrigins restricts the origins accepted for websocket upgrades.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// Server exposes the query engine over HTTP and websockets.
type Server struct {
	orch           *engine.Orchestrator
	store          *storage.Store
	pinger         engine.Pinger
	logger         *zap.Logger
	gatherer       prometheus.Gatherer
	allowedOrigins []string

	checker  health.Checker
	upgrader websocket.Upgrader
	router   chi.Router
	srv      *http.Server

	// baseCtx is cancelled by Shutdown; stream handlers stop with it
	baseCtx    context.Context
	cancelBase context.CancelFunc
	streams    sync.WaitGroup
}

// New builds the server and its routes.
func New(orch *engine.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch:     orch,
		logger:   zap.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.checker = newChecker(s.pinger)
	s.router = s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels running streams and waits for the
// in-flight handlers, websocket streams included, until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()

	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/api/query", s.handleQuery)
	r.Get("/api/stream", s.handleStream)
	r.Post("/api/context", s.handleContext)
	r.Post("/api/modify", s.handleModify)
	r.Get("/api/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.store != nil {
		r.Post("/api/ingest", s.handleIngest)
		r.Get("/api/search", s.handleSearch)
		r.Get("/api/stats", s.handleStats)
		r.Get("/api/histogram", s.handleHistogram)
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// handleQuery runs a one-shot query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req model.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Streaming {
		s.writeError(w, &engine.InputError{Field: "streaming", Message: "streaming queries are served on /api/stream"})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	resp, err := s.orch.Query(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// contextRequest is the body of /api/context.
type contextRequest struct {
	Row       model.LogRecord    `json:"row"`
	Direction model.Direction    `json:"direction"`
	Target    *model.QueryTarget `json:"target"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Direction != model.Forward && req.Direction != model.Backward {
		s.writeError(w, &engine.InputError{Field: "direction", Message: "expected forward or backward"})
		return
	}

	resp, err := s.orch.ContextQuery(r.Context(), req.Row, req.Direction, req.Target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// modifyRequest is the body of /api/modify.
type modifyRequest struct {
	Target model.QueryTarget  `json:"target"`
	Action model.FilterAction `json:"action"`
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.orch.ModifyQuery(req.Target, req.Action))
}

// healthResponse mirrors the data source test result.
type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := s.checker.Check(r.Context())
	if result.Status == health.StatusUp {
		writeJSON(w, http.StatusOK, healthResponse{Status: "success", Message: healthOKMessage})
		return
	}

	msg := "data source unavailable"
	for _, d := range result.Details {
		if d.Error != nil {
			msg = d.Error.Error()
			break
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "error", Message: msg})
}

// handleIngest accepts one JSON record or an array of records.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Warn("failed to read body", zap.Error(err))
		s.writeError(w, &engine.InputError{Field: "body", Message: "failed to read body", Err: err})
		return
	}

	records, err := logjson.ParseRecords(body)
	if err != nil {
		s.writeError(w, &engine.InputError{Field: "body", Message: "invalid JSON: " + err.Error(), Err: err})
		return
	}

	now := time.Now().UnixMilli()
	for i := range records {
		if records[i].Timestamp == 0 {
			records[i].Timestamp = now
		}
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
	}

	if err := s.store.Append(records...); err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, model.QueryError{Message: "ingest failed", Status: http.StatusInternalServerError})
		return
	}
	// one WAL sync per request
	if err := s.store.Sync(); err != nil {
		s.logger.Warn("wal sync failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]int{"accepted": len(records)})
}

// handleSearch serves GET /api/search?start&end&q&limit, returning records newest
// first. It is the endpoint RemoteSource queries on data nodes.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, ok := s.parseRange(w, q)
	if !ok {
		return
	}

	limit := defaultSearchLimit
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	rows, err := s.store.Fetch(r.Context(), limit, from, to, q.Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleHistogram serves GET /api/histogram?start&end&interval&q with interval in
// milliseconds.
func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, ok := s.parseRange(w, q)
	if !ok {
		return
	}

	interval := int64(defaultHistogramInterval)
	if v := q.Get("interval"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			s.writeError(w, &engine.InputError{Field: "interval", Message: "must be a positive number of milliseconds"})
			return
		}
		interval = parsed
	}

	points, err := s.store.Histogram(r.Context(), from, to, interval, q.Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// parseRange reads start and end (epoch ms). A missing start is 0, a missing end now.
func (s *Server) parseRange(w http.ResponseWriter, q url.Values) (from, to int64, ok bool) {
	to = time.Now().UnixMilli()
	for _, p := range []struct {
		name string
		dst  *int64
	}{{"start", &from}, {"end", &to}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, &engine.InputError{Field: p.name, Message: err.Error(), Err: err})
			return 0, 0, false
		}
		*p.dst = parsed
	}
	return from, to, true
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decode reads a JSON body into v, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.writeError(w, &engine.InputError{Field: "body", Message: "invalid JSON: " + err.Error(), Err: err})
		return false
	}
	return true
}

// writeError renders err as {message, status}. Context query failures keep their
// generic message; everything else reports the error text.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := engine.StatusCode(err)
	msg := err.Error()

	var cqErr *engine.ContextQueryError
	if errors.As(err, &cqErr) {
		msg = cqErr.Message
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, model.QueryError{Message: msg, Status: status})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
