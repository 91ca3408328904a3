package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/auth"
	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/comments"
	"github.com/emilythestrangee/forum/backend/internal/config"
	"github.com/emilythestrangee/forum/backend/internal/database"
	"github.com/emilythestrangee/forum/backend/internal/events"
	"github.com/emilythestrangee/forum/backend/internal/handlers"
	"github.com/emilythestrangee/forum/backend/internal/logging"
	"github.com/emilythestrangee/forum/backend/internal/polls"
	"github.com/emilythestrangee/forum/backend/internal/posts"
	"github.com/emilythestrangee/forum/backend/internal/server"
	"github.com/emilythestrangee/forum/backend/internal/users"
	"github.com/emilythestrangee/forum/backend/internal/votes"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "forum",
		Usage: "Discussion forum API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file loaded before reading the environment",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: withApp(serve),
			},
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema",
				Action: withApp(migrate),
			},
			{
				Name:   "seed",
				Usage:  "Replace all data with a small demo forum",
				Action: withApp(seed),
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

// deps holds everything a command needs, built once from the environment.
type deps struct {
	cfg      config.Config
	logger   *zap.Logger
	db       database.Service
	issuer   *auth.Issuer
	store    *cache.Store
	events   events.Publisher
	services handlers.Services
	closers  []func() error
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("Shutdown step failed", zap.Error(err))
		}
	}
	_ = d.logger.Sync()
}

func withApp(action func(ctx context.Context, d *deps) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		d, err := setup(ctx, c.String("env-file"))
		if err != nil {
			return err
		}
		defer d.close()
		return action(ctx, d)
	}
}

func setup(ctx context.Context, envFile string) (*deps, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Production())
	if err != nil {
		return nil, err
	}

	d := &deps{cfg: cfg, logger: logger, events: events.Nop{}}

	db, err := database.New(ctx, cfg.DB, logger, logging.GormLogger(logger, cfg.LogLevel))
	if err != nil {
		return nil, err
	}
	d.db = db
	d.closers = append(d.closers, db.Close)

	if cfg.RedisAddr != "" {
		store, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			d.close()
			return nil, err
		}
		d.store = store
		d.closers = append(d.closers, store.Close)
		logger.Info("Poll results cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	if cfg.NATSURL != "" {
		publisher, err := events.Connect(cfg.NATSURL)
		if err != nil {
			d.close()
			return nil, err
		}
		d.events = publisher
		d.closers = append(d.closers, publisher.Close)
		logger.Info("Vote events enabled", zap.String("url", cfg.NATSURL))
	}

	d.issuer = auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)

	gdb := db.GetDB()
	ledgerOpts := votes.Options{
		AllowAnonymous: cfg.AllowAnonymousVotes,
		Publisher:      d.events,
		Logger:         logger,
	}
	d.services = handlers.Services{
		Users:    users.NewService(gdb, d.issuer, d.store, logger),
		Posts:    posts.NewService(gdb, votes.NewPostLedger(gdb, ledgerOpts), d.store, logger),
		Comments: comments.NewService(gdb, votes.NewCommentLedger(gdb, ledgerOpts), logger),
		Polls:    polls.NewService(gdb, d.store, d.events, logger),
	}
	return d, nil
}

func serve(ctx context.Context, d *deps) error {
	if err := d.db.Migrate(ctx); err != nil {
		return err
	}

	srv := server.NewServer(d.cfg, server.Deps{
		DB:       d.db,
		Issuer:   d.issuer,
		Services: d.services,
		Logger:   d.logger,
	})

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	d.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func migrate(ctx context.Context, d *deps) error {
	return d.db.Migrate(ctx)
}
