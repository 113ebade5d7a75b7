// Package server is the HTTP transport for the share registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"share-go/internal/config"
	"share-go/internal/share"
)

const (
	// multipartMemory is how much of an upload form is held in memory
	// before parts spill to temporary files.
	multipartMemory = 32 << 20

	shutdownTimeout = 30 * time.Second
)

// Server serves uploads and downloads for a Registry.
type Server struct {
	registry    *share.Registry
	logger      share.Logger
	listen      string
	publicURL   string
	adminToken  string
	uploadLimit int64
	router      chi.Router
}

// New creates a Server with its routes and middleware configured.
func New(registry *share.Registry, cfg config.ServerConfig, logger share.Logger) (*Server, error) {
	if logger == nil {
		logger = share.NewNopLogger()
	}
	limit, err := cfg.UploadLimit()
	if err != nil {
		return nil, err
	}

	s := &Server{
		registry:    registry,
		logger:      logger,
		listen:      cfg.Listen,
		publicURL:   strings.TrimRight(cfg.PublicURL, "/"),
		adminToken:  cfg.AdminToken,
		uploadLimit: limit,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(instrument(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/upload", s.handleUpload)
	r.Get("/download/{code}", s.handleDownload(false))
	r.Get("/download/{code}/confirm", s.handleDownload(true))
	r.Head("/download/{code}", s.handleProbe)

	if s.adminToken != "" {
		r.With(s.requireAdmin).Delete("/shares/{code}", s.handleDelete)
	}
	return r
}

// cors lets a frontend on another origin upload, probe and download.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Expose-Headers", "Content-Disposition, Content-Length")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully,
// letting in-flight downloads finish their retirement.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// downloadURL returns the link handed out for code.
func (s *Server) downloadURL(code string) string {
	return s.publicURL + "/download/" + code
}
