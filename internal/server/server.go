package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/observach/apiserver/config"
	"github.com/observach/apiserver/internal/db"
	"github.com/observach/apiserver/internal/handlers"
	"github.com/observach/apiserver/internal/metrics"
	"github.com/observach/apiserver/internal/mq"
	"github.com/observach/apiserver/internal/services"
	"github.com/observach/apiserver/internal/storage"
	"github.com/observach/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	photos     *storage.Storage
	broker     *mq.MQ
	logger     *slog.Logger
}

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Users        services.UserRepository
	Observations services.ObservationRepository
	Comments     services.CommentRepository
	Votes        services.VoteRepository
	Photos       Photos
	Events       services.EventPublisher
}

// Photos is what the server needs from photo storage.
type Photos interface {
	services.PhotoStore
	handlers.PhotoReader
}

// New connects to Postgres, photo storage and the optional broker, seeds
// the administrator and builds the router.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	photos, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = photos.Close()
		_ = dbConn.Close()
		return nil, err
	}

	deps := Deps{
		Users:        store.NewUserRepository(dbConn),
		Observations: store.NewObservationRepository(dbConn),
		Comments:     store.NewCommentRepository(dbConn),
		Votes:        store.NewVoteRepository(dbConn),
		Photos:       photos,
	}
	if broker != nil {
		deps.Events = broker
		logger.Info("publishing submission events", "backend", cfg.MQ.Backend, "channel", cfg.MQ.Channel)
	}

	srv := NewWithDeps(cfg, deps, logger)
	srv.db = dbConn
	srv.photos = photos
	srv.broker = broker

	if err := srv.seedAdmin(ctx, cfg.Admin, services.NewUserService(deps.Users)); err != nil {
		_ = srv.Shutdown(ctx)
		return nil, err
	}
	return srv, nil
}

// NewWithDeps builds the router over already constructed collaborators.
func NewWithDeps(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	userService := services.NewUserService(deps.Users)
	moderationService := services.NewModerationService(deps.Observations, deps.Comments, deps.Votes, logger)
	observationService := services.NewObservationService(deps.Observations, deps.Comments, deps.Votes, deps.Photos, logger)
	if deps.Events != nil {
		observationService.PublishEventsTo(deps.Events, cfg.MQ.Channel)
	}

	authHandler := handlers.NewAuthHandler(userService, cfg.JWTSecret, cfg.TokenTTL, logger)
	observationHandler := handlers.NewObservationHandler(observationService, moderationService, cfg.MaxPhotoBytes, logger)
	adminHandler := handlers.NewAdminHandler(moderationService, logger)
	uploadsHandler := handlers.NewUploadsHandler(deps.Photos, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.RequestLogger(logger),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", metrics.Handler())
	router.Route("/uploads", func(r chi.Router) {
		handlers.UploadsRouter(r, uploadsHandler)
	})
	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authHandler)
		})
		r.Route("/observations", func(r chi.Router) {
			handlers.ObservationRouter(r, observationHandler, authHandler.RequireAuth)
		})
		r.Route("/admin", func(r chi.Router) {
			handlers.AdminRouter(r, adminHandler, authHandler.RequireAuth)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 3001
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		logger:     logger,
	}
}

// seedAdmin makes sure the configured administrator exists. Without a
// password nothing is created.
func (s *Server) seedAdmin(ctx context.Context, admin config.AdminConfig, users *services.UserService) error {
	if admin.Password == "" {
		s.logger.Warn("ADMIN_PASSWORD not set, skipping administrator seed")
		return nil
	}
	user, created, err := users.EnsureAdmin(ctx, admin.Name, admin.Email, admin.Password)
	if err != nil {
		return fmt.Errorf("seed administrator: %w", err)
	}
	if created {
		s.logger.Info("administrator created", "email", user.Email)
	}
	return nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the broker, photo storage
// and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.broker != nil {
		if closeErr := s.broker.Close(); closeErr != nil {
			s.logger.Warn("close broker", "error", closeErr)
		}
	}
	if s.photos != nil {
		if closeErr := s.photos.Close(); closeErr != nil {
			s.logger.Warn("close photo storage", "error", closeErr)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
