// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects stores, services,
// handlers and middleware, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → sqlite.DB (users, and videos unless CATALOG_BACKEND=file)
//	  → jsonfile.Catalog (videos, CATALOG_BACKEND=file)
//	  → storage.Local or s3.Store (upload assets)
//	  → docker.Prober (optional, video durations)
//	  → AuthService, CatalogService, UploadService
//	  → AuthHandler, VideoHandler, UploadHandler, StaticHandler
//
// This is the "composition root" pattern: every dependency is built here
// and nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/vidshare/internal/auth"
	"github.com/sakif/vidshare/internal/config"
	"github.com/sakif/vidshare/internal/handler"
	"github.com/sakif/vidshare/internal/media"
	"github.com/sakif/vidshare/internal/media/docker"
	"github.com/sakif/vidshare/internal/middleware"
	"github.com/sakif/vidshare/internal/notify"
	"github.com/sakif/vidshare/internal/repository"
	"github.com/sakif/vidshare/internal/repository/jsonfile"
	sqliteRepo "github.com/sakif/vidshare/internal/repository/sqlite"
	"github.com/sakif/vidshare/internal/service"
	"github.com/sakif/vidshare/internal/storage"
	s3store "github.com/sakif/vidshare/internal/storage/s3"
)

const (
	// uploadsPath is where the local asset store's files are served.
	uploadsPath = "/uploads"

	shutdownTimeout = 30 * time.Second
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and, when probing is enabled,
// the Docker client and its container pool. Close releases both.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	closers []io.Closer
}

// Option customises New. Tests use it to capture outgoing notifications.
type Option func(*options)

type options struct {
	notifier notify.Notifier
}

// WithNotifier replaces the default log notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// New builds every dependency from cfg and wires the routes.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := options{notifier: notify.NewLogNotifier(logger)}
	for _, opt := range opts {
		opt(&o)
	}

	// === DATABASE ===
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}
	db, err := sqliteRepo.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setup(ctx, o); err != nil {
		s.Close() // Clean up whatever was opened before the failure
		return nil, err
	}
	return s, nil
}

// setup builds the stores and services, then registers the routes.
func (s *Server) setup(ctx context.Context, o options) error {
	cfg := s.config

	// === CATALOG ===
	var videos repository.VideoRepository = s.db
	if cfg.CatalogBackend == config.CatalogFile {
		catalog, err := jsonfile.New(cfg.UploadDir)
		if err != nil {
			return fmt.Errorf("opening file catalog: %w", err)
		}
		videos = catalog
		s.logger.Info("video catalog backend", slog.String("backend", "file"), slog.String("path", catalog.Path()))
	}

	// === ASSET STORE ===
	var (
		assets storage.AssetStore
		local  *storage.Local
	)
	switch cfg.StorageBackend {
	case config.StorageS3:
		store, err := s3store.New(ctx, s3store.Config{
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			PublicBaseURL: cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return fmt.Errorf("creating s3 store: %w", err)
		}
		assets = store
	default:
		store, err := storage.NewLocal(cfg.UploadDir, uploadsPath)
		if err != nil {
			return fmt.Errorf("creating local store: %w", err)
		}
		assets, local = store, store
	}

	// === SERVICES ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	authService := service.NewAuthService(
		s.db,
		tokens,
		auth.NewPasswordService(cfg.BcryptCost),
		o.notifier,
		service.AuthConfig{VerificationTTL: cfg.VerificationTTL, ResetTTL: cfg.ResetTTL},
		s.logger,
	)
	catalogService := service.NewCatalogService(videos, s.db, s.logger)
	uploadService := service.NewUploadService(videos, assets, s.newProber(local), cfg.UploadMaxParallel, s.logger)

	var github handler.OAuthProvider
	if cfg.GitHub.Enabled() {
		github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	}

	s.setupRoutes(routeDeps{
		auth:    handler.NewAuthHandler(authService, github, s.logger),
		videos:  handler.NewVideoHandler(catalogService, s.logger),
		uploads: handler.NewUploadHandler(uploadService, cfg.UploadMaxBytes, s.logger),
		static:  handler.NewStaticHandler(cfg.StaticDir, s.logger),
		authn:   authService,
		github:  github != nil,
		local:   local,
	})
	return nil
}

// newProber starts the Docker prober when enabled. Probing needs the files
// on local disk, so it is skipped when local is nil (the S3 backend). A
// Docker failure is not fatal: uploads still work, only without durations.
func (s *Server) newProber(local *storage.Local) media.Prober {
	cfg := s.config
	if !cfg.Probe.Enabled {
		return media.NopProber{}
	}
	if local == nil {
		s.logger.Warn("media probing needs local storage, disabled", slog.String("backend", cfg.StorageBackend))
		return media.NopProber{}
	}

	mediaDir, err := filepath.Abs(local.Root())
	if err != nil {
		s.logger.Warn("media probing disabled", slog.String("error", err.Error()))
		return media.NopProber{}
	}

	dc := docker.DefaultConfig()
	dc.Image = cfg.Probe.Image
	dc.Timeout = cfg.Probe.Timeout
	dc.PoolSize = cfg.Probe.PoolSize
	dc.MediaDir = mediaDir

	prober, err := docker.New(dc, s.logger)
	if err != nil {
		s.logger.Warn("Docker unavailable, video durations will not be probed",
			slog.String("error", err.Error()),
		)
		return media.NopProber{}
	}
	s.closers = append(s.closers, prober)
	return prober
}

type routeDeps struct {
	auth    *handler.AuthHandler
	videos  *handler.VideoHandler
	uploads *handler.UploadHandler
	static  *handler.StaticHandler
	authn   auth.Authenticator
	github  bool
	local   *storage.Local // nil unless STORAGE_BACKEND=local
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /                              → index.html
// GET    /upload                        → upload.html
// GET    /static/*                      → front-end assets
// GET    /uploads/*                     → uploaded assets (local storage only)
// GET    /healthz                       → liveness + database ping
// POST   /auth/register                 → create account
// GET    /auth/verify/{token}           → verify email
// POST   /auth/login                    → start session
// POST   /auth/logout                   → end session
// POST   /auth/password/forgot|reset    → password reset
// GET    /auth/github/login|callback    → GitHub sign-in (when configured)
// POST   /upload                        → upload a video            [auth]
// GET    /videos                        → list videos
// GET    /api/videos/{id}               → one video
// GET    /api/videos/{id}/comments      → comments
// POST   /api/videos/{id}/view          → count a view
// POST   /api/videos/{id}/like|dislike  → react                     [auth]
// DELETE /api/videos/{id}/reaction      → clear reaction            [auth]
// POST   /api/videos/{id}/comment       → comment                   [auth]
// GET    /api/me                        → profile                   [auth]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique ID to each request (for tracing)
// 2. RealIP: extracts the client IP from proxy headers (rate limiting keys on it)
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. ForceHTTPS (FORCE_HTTPS=true): plain HTTP is redirected before any handler runs
// 6. SecurityHeaders: browser hardening headers on every response
// 7. CORS: answers preflights for cross-origin API clients
func (s *Server) setupRoutes(d routeDeps) {
	r := s.router

	// === Global Middleware ===
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	if s.config.ForceHTTPS {
		r.Use(middleware.ForceHTTPS("/healthz"))
	}
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(s.config.CORSAllowedOrigins))

	requireAuth := auth.RequireAuth(d.authn, handler.Unauthorized(s.logger))

	// === Pages and files ===
	r.Get("/", d.static.HandleIndex)
	r.Get("/upload", d.static.HandleUploadPage)
	r.Get("/static/*", d.static.HandleStatic)
	if d.local != nil {
		r.Get(uploadsPath+"/*", assetHandler(d.local.Root()))
	}
	r.Get("/healthz", s.handleHealth)

	// === Accounts ===
	// Every /auth route shares one per-IP budget, which slows down
	// password guessing and registration spam alike.
	limiter := middleware.NewIPRateLimiter(
		s.config.AuthRate.Requests, s.config.AuthRate.Window, s.config.AuthRate.Burst, 10*time.Minute)
	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter, s.config.AuthRate.Window, s.logger))

		r.Post("/register", d.auth.HandleRegister)
		r.Get("/verify/{token}", d.auth.HandleVerify)
		r.Post("/login", d.auth.HandleLogin)
		r.Post("/logout", d.auth.HandleLogout)
		r.Post("/password/forgot", d.auth.HandleForgotPassword)
		r.Post("/password/reset", d.auth.HandleResetPassword)
		if d.github {
			r.Get("/github/login", d.auth.HandleGitHubLogin)
			r.Get("/github/callback", d.auth.HandleGitHubCallback)
		}
	})

	// === Videos ===
	r.With(requireAuth).Post("/upload", d.uploads.HandleUpload)
	r.Get("/videos", d.videos.HandleList)

	r.Route("/api", func(r chi.Router) {
		r.Get("/videos/{id}", d.videos.HandleGet)
		r.Get("/videos/{id}/comments", d.videos.HandleComments)
		r.Post("/videos/{id}/view", d.videos.HandleView)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/videos/{id}/like", d.videos.HandleLike)
			r.Post("/videos/{id}/dislike", d.videos.HandleDislike)
			r.Delete("/videos/{id}/reaction", d.videos.HandleClearReaction)
			r.Post("/videos/{id}/comment", d.videos.HandleComment)
			r.Get("/me", d.videos.HandleMe)
		})
	})
}

// assetHandler serves <dir>/<videoID>/<file> and nothing else: the JSON
// catalog index, its lock file, in-flight temp files and the per-upload
// info file share the directory but are not assets.
func assetHandler(dir string) http.HandlerFunc {
	files := http.StripPrefix(uploadsPath+"/", http.FileServer(http.Dir(dir)))
	return func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, uploadsPath+"/")
		videoID, name, ok := strings.Cut(rel, "/")
		if !ok || videoID == "" || name == "" || strings.Contains(name, "/") ||
			strings.HasPrefix(videoID, ".") || strings.HasPrefix(name, ".") ||
			name == storage.InfoFile {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Handler exposes the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the prober and the database.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait up to 30s for in-flight requests (uploads included) to finish
// 3. Close the prober pool and the database (flushes WAL, releases the file)
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	// Read and write timeouts must cover a full upload of UPLOAD_MAX_BYTES.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.HTTPTimeout,
		WriteTimeout:      s.config.HTTPTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("catalog", s.config.CatalogBackend),
			slog.String("storage", s.config.StorageBackend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
