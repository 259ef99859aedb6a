package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go-exam-portal/internal/config"
	"go-exam-portal/internal/database"
	"go-exam-portal/internal/model"
	"go-exam-portal/internal/repository"
	"go-exam-portal/internal/service"
)

// PrincipalStore is the full store surface used by the server and examctl.
type PrincipalStore interface {
	service.PrincipalStore
	SetRefreshToken(ctx context.Context, role model.Role, id string, token string) error
	Delete(ctx context.Context, role model.Role, id string) error
	Count(ctx context.Context, role model.Role) (int, error)
}

// Backend is an opened principal store plus its connection lifecycle.
type Backend struct {
	Store PrincipalStore
	// Ping is nil for backends without a connection to check.
	Ping  func(ctx context.Context) error
	close func()
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// OpenStore connects the backend named by cfg.StoreDriver and makes sure its
// schema exists.
func OpenStore(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, cfg.DatabaseURL, database.PoolOptions{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}

		return &Backend{Store: repository.NewPrincipalRepository(db.Pool), Ping: db.Health, close: db.Close}, nil

	case config.StoreDriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}

		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}

		return &Backend{
			Store: repository.NewSQLitePrincipalRepository(db),
			Ping:  db.PingContext,
			close: func() { _ = db.Close() },
		}, nil

	case config.StoreDriverMemory:
		slog.Warn("using in-memory principal store; data is lost on restart")
		return &Backend{Store: repository.NewMemoryPrincipalRepository()}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
