package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gamerank/gamerank/internal/store"
	"github.com/gamerank/gamerank/pkg/catalog"
	"github.com/gamerank/gamerank/pkg/popularity"
	"github.com/gamerank/gamerank/pkg/projection"
)

const adminHeader = "X-Admin-Key"

// Options configures the HTTP API.
type Options struct {
	Port            int
	AdminKey        string
	RefreshInterval time.Duration
	Logger          *slog.Logger
}

// Server provides the HTTP API.
type Server struct {
	catalog  *catalog.Service
	adminKey string
	interval time.Duration
	port     int
	log      *slog.Logger
}

// New creates a new HTTP server. Without an admin key no request is an admin.
func New(svc *catalog.Service, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		catalog:  svc,
		adminKey: opts.AdminKey,
		interval: opts.RefreshInterval,
		port:     opts.Port,
		log:      logger.With("component", "server"),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/games", s.handleListGames)
	mux.HandleFunc("POST /api/v1/games", s.handleCreateGame)
	mux.HandleFunc("GET /api/v1/games/{id}", s.handleGetGame)
	mux.HandleFunc("POST /api/v1/games/{id}/signals", s.handleSignals)
	mux.HandleFunc("GET /api/v1/games/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/v1/games/{id}/flag", s.handleFlag)
	mux.HandleFunc("DELETE /api/v1/games/{id}/flag", s.handleResolveFlag)
	mux.HandleFunc("PUT /api/v1/games/{id}/admin-only", s.handleAdminOnly)

	mux.HandleFunc("GET /api/v1/projections", s.handleProjections)
	mux.HandleFunc("GET /api/v1/projections/{name}", s.handleQuery)
	mux.HandleFunc("POST /api/v1/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/v1/refresh", s.handleRefreshStatus)

	return s.logRequests(mux)
}

// ListenAndServe serves the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gamerank server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) caller(r *http.Request) catalog.Caller {
	key := r.Header.Get(adminHeader)
	if s.adminKey == "" || key == "" {
		return catalog.Caller{}
	}
	return catalog.Caller{Admin: subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) == 1}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOpts{
		NeedsMetadata: q.Get("needs_metadata") == "true",
		Limit:         limitParam(q.Get("limit"), 100),
		Offset:        intParam(q.Get("offset"), 0),
	}
	if t := q.Get("tier"); t != "" {
		tier, err := popularity.ParseTier(t)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.Tier = tier
	}

	games, err := s.catalog.ListGames(r.Context(), opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  games,
		"count": len(games),
	})
}

type createGameRequest struct {
	Name        string  `json:"name"`
	Slug        string  `json:"slug"`
	IGDBID      *int64  `json:"igdb_id"`
	Summary     *string `json:"summary"`
	Follows     int64   `json:"follows"`
	Hypes       int64   `json:"hypes"`
	RatingCount int64   `json:"rating_count"`
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	g := &store.Game{
		Name:    req.Name,
		Slug:    req.Slug,
		IGDBID:  req.IGDBID,
		Summary: req.Summary,
		Signals: popularity.Signals{Follows: req.Follows, Hypes: req.Hypes, RatingCount: req.RatingCount},
	}
	if err := s.catalog.CreateGame(r.Context(), g); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.catalog.GetEntity(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// signalsRequest is either a single event or {"events": [...]}.
type signalsRequest struct {
	store.SignalEvent
	Events []store.SignalEvent `json:"events"`
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	var req signalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	evs := req.Events
	if len(evs) == 0 {
		evs = []store.SignalEvent{req.SignalEvent}
	}

	g, err := s.catalog.RecordSignalEvents(r.Context(), r.PathValue("id"), evs)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.catalog.History(r.Context(), r.PathValue("id"), limitParam(r.URL.Query().Get("limit"), 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  hist,
		"count": len(hist),
	})
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if err := s.catalog.FlagGame(r.Context(), r.PathValue("id"), req.Reason, s.caller(r)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveFlag(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.ResolveFlag(r.Context(), r.PathValue("id"), s.caller(r)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminOnly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminOnly bool `json:"admin_only"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if err := s.catalog.SetAdminOnly(r.Context(), r.PathValue("id"), req.AdminOnly, s.caller(r)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProjections(w http.ResponseWriter, r *http.Request) {
	defs := s.catalog.Projections(s.caller(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  defs,
		"count": len(defs),
	})
}

type queryResponse struct {
	*projection.Result
	StaleAfter *time.Time `json:"stale_after,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := projection.Filter{
		MinScore: int64(intParam(q.Get("min_score"), 0)),
		Limit:    limitParam(q.Get("limit"), 0),
		Offset:   intParam(q.Get("offset"), 0),
	}
	if t := q.Get("tier"); t != "" {
		tier, err := popularity.ParseTier(t)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Tier = tier
	}

	res, err := s.catalog.QueryCache(r.Context(), r.PathValue("name"), f, s.caller(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := queryResponse{Result: res}
	if s.interval > 0 {
		stale := res.BuiltAt.Add(s.interval)
		resp.StaleAfter = &stale
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("projection")
	if err := s.catalog.ForceRefresh(r.Context(), name, s.caller(r)); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.catalog.RefreshStatus()})
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.catalog.RefreshStatus()})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, projection.ErrUnknownProjection):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrUnknownSignal), errors.Is(err, store.ErrInvalidGame):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, projection.ErrNotBuilt):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// maxPageSize caps the limit query parameter on every listing endpoint.
const maxPageSize = 1000

func limitParam(s string, def int) int {
	return min(intParam(s, def), maxPageSize)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
