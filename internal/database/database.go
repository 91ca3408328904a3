package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/emilythestrangee/forum/backend/internal/config"
	"github.com/emilythestrangee/forum/backend/internal/models"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health(ctx context.Context) map[string]string

	// Migrate creates or updates the forum schema.
	Migrate(ctx context.Context) error

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error
	GetDB() *gorm.DB
}

type service struct {
	db     *gorm.DB
	name   string
	logger *zap.Logger
}

var (
	connectMaxElapsed = 30 * time.Second
	connectMaxRetries = uint64(5)

	openGorm = gorm.Open
)

// New opens a connection pool for cfg. The initial connect is retried with
// exponential backoff so the API can start alongside its database container.
func New(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger, gormLogger logger.Interface) (Service, error) {
	log = log.Named("database")

	dialector := postgres.New(postgres.Config{
		DriverName: cfg.Driver,
		DSN:        cfg.DSN(),
	})

	var db *gorm.DB
	open := func() error {
		conn, err := openGorm(dialector, &gorm.Config{
			Logger: gormLogger,
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
			TranslateError: true,
		})
		if err != nil {
			// A failed ping still hands back an open pool.
			closePool(conn)
			return err
		}
		db = conn
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = connectMaxElapsed
	err := backoff.RetryNotify(open,
		backoff.WithContext(backoff.WithMaxRetries(policy, connectMaxRetries), ctx),
		func(err error, next time.Duration) {
			log.Warn("Database not ready, retrying",
				zap.Error(err),
				zap.Duration("next_attempt", next))
		})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Database connected",
		zap.String("driver", cfg.Driver),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name))

	return &service{db: db, name: cfg.Name, logger: log}, nil
}

func closePool(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// FromGorm wraps an already opened connection, e.g. one created by tests.
func FromGorm(db *gorm.DB, log *zap.Logger) Service {
	return &service{db: db, logger: log.Named("database")}
}

func (s *service) GetDB() *gorm.DB {
	return s.db
}

// Migrate runs AutoMigrate for every model and adds the indexes the comment
// tree and feed queries rely on.
func (s *service) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	err := db.AutoMigrate(
		&models.User{},
		&models.Post{},
		&models.Comment{},
		&models.Poll{},
		&models.PollOption{},
		&models.PostVote{},
		&models.CommentVote{},
		&models.PollVote{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_comments_roots ON comments(post_id, created_at DESC) WHERE parent_comment_id IS NULL",
	"CREATE INDEX IF NOT EXISTS idx_comments_parent_created ON comments(parent_comment_id, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_posts_top ON posts(upvotes DESC, created_at DESC)",
	"CREATE INDEX IF NOT EXISTS idx_poll_votes_user_poll ON poll_votes(user_id, poll_id)",
}

// Health checks the health of the database connection by pinging the database.
func (s *service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stats := make(map[string]string)

	// Get underlying SQL DB
	sqlDB, err := s.db.DB()
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db error: %v", err)
		return stats
	}

	// Ping the database
	err = sqlDB.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	// Database is up
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	// Get database stats
	dbStats := sqlDB.Stats()
	stats["open_connections"] = fmt.Sprintf("%d", dbStats.OpenConnections)
	stats["in_use"] = fmt.Sprintf("%d", dbStats.InUse)
	stats["idle"] = fmt.Sprintf("%d", dbStats.Idle)

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	s.logger.Info("Disconnected from database", zap.String("database", s.name))
	return sqlDB.Close()
}
