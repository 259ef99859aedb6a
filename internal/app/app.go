package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go-exam-portal/internal/blob"
	"go-exam-portal/internal/config"
	"go-exam-portal/internal/credential"
	"go-exam-portal/internal/event"
	"go-exam-portal/internal/handler"
	"go-exam-portal/internal/media"
	"go-exam-portal/internal/metrics"
	"go-exam-portal/internal/middleware"
	"go-exam-portal/internal/model"
	"go-exam-portal/internal/resolver"
	"go-exam-portal/internal/router"
	"go-exam-portal/internal/service"
	"go-exam-portal/internal/session"
	"go-exam-portal/internal/token"
)

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	backend, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := backend.Store
	slog.Info("principal store ready", "driver", cfg.StoreDriver)

	blobs, err := blob.NewLocalStore(cfg.BlobRoot, cfg.BlobBaseURL)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	codec, err := NewCodec(cfg)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	bus := event.NewBus()
	recorder := metrics.NewRecorder()
	metricsCtx, metricsCancel := context.WithCancel(ctx)
	go recorder.Run(metricsCtx, bus)

	authService := service.NewAuthService(
		store,
		credential.NewHasher(cfg.BcryptCost),
		session.NewManager(store, codec),
		blobs,
		media.NewNormalizer(cfg.AvatarSize),
		bus,
		service.AuthOptions{
			DefaultAvatarURL:               cfg.DefaultAvatarURL,
			AvatarAllowFirstUpload:         cfg.AvatarAllowFirstUpload,
			RevokeSessionsOnPasswordChange: cfg.RevokeSessionsOnPasswordChange,
		},
	)
	authMiddleware := middleware.NewAuthMiddleware(codec, resolver.New(store))

	cookies := handler.CookieConfig{
		Secure:     cfg.CookieSecure,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}
	uploadDir := filepath.Join(os.TempDir(), "exam-portal-uploads")
	newHandler := func(role model.Role) *handler.AuthHandler {
		return handler.NewAuthHandler(authService, role, cookies, cfg.MaxAvatarSize, uploadDir)
	}

	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Students: newHandler(model.RoleStudent),
		Teachers: newHandler(model.RoleTeacher),
		Admins:   newHandler(model.RoleAdmin),
	}, blobs.RootAbs(), router.Observability{
		Metrics:  recorder.Handler(),
		Observer: recorder,
		Health:   backend.Ping,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		cleanupFuncs: []func(){
			metricsCancel,
			backend.Close,
		},
	}, nil
}

// NewCodec builds the token codec from the configured secrets and TTLs.
func NewCodec(cfg *config.Config) (*token.Codec, error) {
	return token.NewCodec(token.Config{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.JWTIssuer,
	})
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.cleanup()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

func (a *App) cleanup() {
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}
}
