package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/croprisk/internal/analysis"
	"github.com/lox/croprisk/internal/models"
	"github.com/lox/croprisk/internal/narrative"
)

type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Response, error)
}

type Catalog interface {
	Nearest(ctx context.Context, lat, lon float64, n int) ([]models.StationDistance, error)
	Refresh(ctx context.Context) ([]models.Station, error)
}

type Server struct {
	analyzer Analyzer
	catalog  Catalog
	narrator narrative.Writer
	port     string
	logger   *slog.Logger
}

// NewServer wires the HTTP surface. narrator may be nil, in which case
// requested narratives use the template writer.
func NewServer(analyzer Analyzer, catalog Catalog, narrator narrative.Writer, port string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		analyzer: analyzer,
		catalog:  catalog,
		narrator: narrator,
		port:     port,
		logger:   logger.With("component", "api"),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Post("/analysis", s.handleAnalysis)
		api.Get("/stations/nearest", s.handleNearestStations)
		api.Post("/stations/refresh", s.handleRefreshStations)
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
	}()

	s.logger.Info("http server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
