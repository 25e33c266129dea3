// Package main is the entry point for the identity service.
//
// main stays minimal: it reads configuration, builds the dependency graph
// and runs the server until SIGINT or SIGTERM. All logic lives in internal/.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/cache"
	"github.com/sakif/identity-service/internal/config"
	"github.com/sakif/identity-service/internal/handler"
	"github.com/sakif/identity-service/internal/mail"
	"github.com/sakif/identity-service/internal/repository"
	"github.com/sakif/identity-service/internal/repository/memory"
	"github.com/sakif/identity-service/internal/repository/postgres"
	"github.com/sakif/identity-service/internal/repository/sqlite"
	"github.com/sakif/identity-service/internal/server"
	"github.com/sakif/identity-service/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout))
}

func run(ctx context.Context, args []string, w io.Writer) int {
	// === 1. CONFIGURATION ===
	cfg, err := config.Load(args)
	if err != nil {
		if config.IsHelp(err) {
			fmt.Fprintln(w, err)
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := cfg.NewLogger(w)

	// === 2. STORAGE ===
	repo, health, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Error("failed to open storage",
			slog.String("driver", cfg.DBDriver),
			slog.String("error", err.Error()),
		)
		return 1
	}
	defer repo.Close()

	// === 3. CREDENTIALS ===
	passwords, err := auth.NewPasswordService(cfg.HashCost, cfg.HashWorkers)
	if err != nil {
		logger.Error("invalid password hashing settings", slog.String("error", err.Error()))
		return 1
	}
	sessions, err := auth.NewSessionIssuer(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		logger.Error("invalid session settings", slog.String("error", err.Error()))
		return 1
	}

	// === 4. EMAIL ===
	sender, err := newSender(cfg, logger)
	if err != nil {
		logger.Error("failed to set up email delivery", slog.String("error", err.Error()))
		return 1
	}
	composer, err := mail.NewComposer(cfg.PublicURL)
	if err != nil {
		logger.Error("invalid public URL", slog.String("error", err.Error()))
		return 1
	}
	outbox := mail.NewOutbox(sender, composer, logger, cfg.MailTimeout)

	// === 5. ACCOUNT SERVICE ===
	accounts := service.NewAccountService(
		repo,
		passwords,
		auth.NewTokenIssuer(nil),
		sessions,
		outbox,
		service.Config{
			VerificationTTL:  cfg.VerificationTTL,
			ResetTTL:         cfg.ResetTTL,
			OperationTimeout: cfg.OperationTimeout,
		},
		logger,
	)

	// The list cache is optional; without Redis the service reads storage.
	if cfg.RedisURL != "" {
		rdb, err := cache.Open(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("user list cache disabled", slog.String("error", err.Error()))
		} else {
			listCache := cache.NewUserListCache(rdb, cfg.CacheTTL)
			defer listCache.Close()
			accounts.WithListCache(listCache)
			logger.Info("user list cache enabled")
		}
	}

	// === 6. HTTP ===
	srv := server.New(
		server.Config{
			Addr:            cfg.Addr(),
			ShutdownTimeout: cfg.ShutdownTimeout,
			Health:          health,
		},
		handler.NewAccountHandler(accounts, sessions, logger),
		outbox,
		logger,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// openRepository opens the configured backend and returns it with the
// health check /healthz should run against it.
func openRepository(ctx context.Context, cfg *config.Config) (repository.UserRepository, func(context.Context) error, error) {
	switch cfg.DBDriver {
	case "postgres":
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.DB().PingContext, nil

	case "memory":
		return memory.New(), nil, nil

	case "sqlite":
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		store, err := sqlite.New(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.DB().PingContext, nil

	default:
		return nil, nil, errors.New("unknown DB_DRIVER " + cfg.DBDriver)
	}
}

// newSender delivers through SMTP when SMTP_HOST is set and otherwise only
// logs each email, which is enough for local development.
func newSender(cfg *config.Config, logger *slog.Logger) (mail.Sender, error) {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, emails are logged instead of sent")
		return mail.NewLogSender(logger), nil
	}
	smtp, err := mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom, nil)
	if err != nil {
		return nil, err
	}
	return smtp, nil
}
