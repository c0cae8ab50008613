// Package dashboard serves the crash insights JSON API consumed by the
// web dashboard.
package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mke-data/crash-cli/internal/store"
)

// Server exposes store queries over HTTP with a TTL read-through cache.
type Server struct {
	store        store.Store
	cache        *queryCache
	recentLimit  int
	maxListLimit int
}

// Options control server behavior. Zero values fall back to defaults.
type Options struct {
	CacheTTL     time.Duration // default 300s
	RecentLimit  int           // default 50
	MaxListLimit int           // default 10000
}

func NewServer(st store.Store, opts Options) *Server {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 300 * time.Second
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 50
	}
	if opts.MaxListLimit <= 0 {
		opts.MaxListLimit = 10000
	}
	return &Server{
		store:        st,
		cache:        newQueryCache(opts.CacheTTL),
		recentLimit:  opts.RecentLimit,
		maxListLimit: opts.MaxListLimit,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/crashes", s.handleCrashes)
		r.Get("/crashes/recent", s.handleRecent)
		r.Get("/crashes/by-weekday", s.handleByWeekday)
		r.Get("/crashes/by-month", s.handleByMonth)
		r.Get("/heatmap", s.handleHeatmap)
		r.Post("/cache/clear", s.handleCacheClear)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
