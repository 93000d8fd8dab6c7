// Package cmd provides CLI commands for the dealbook tool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/dealbook/config"
	"github.com/otherjamesbrown/dealbook/credentials"
	"github.com/otherjamesbrown/dealbook/pkg/db"
	"github.com/otherjamesbrown/dealbook/pkg/ingest"
	"github.com/otherjamesbrown/dealbook/pkg/ingest/events"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
	"github.com/otherjamesbrown/dealbook/pkg/store"
	"github.com/otherjamesbrown/dealbook/pkg/store/postgres"
)

// Backend is an opened store and the pool behind it. Pool is nil for
// stores that are not backed by Postgres.
type Backend struct {
	Store store.Store
	Pool  *pgxpool.Pool
}

// Close releases the pool.
func (b *Backend) Close() {
	if b != nil && b.Pool != nil {
		b.Pool.Close()
	}
}

// Publisher announces finished runs and collapses.
type Publisher interface {
	ingest.RunPublisher
	PublishDuplicatesCollapsed(ctx context.Context, event events.DuplicatesCollapsedEvent) error
	Close() error
}

// Deps holds the dependencies shared by dealbook commands.
type Deps struct {
	LoadConfig    func() (*config.Config, error)
	SaveConfig    func(cfg *config.Config) error
	OpenBackend   func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Backend, error)
	OpenPool      func(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error)
	OpenPublisher func(cfg *config.Config, logger logging.Logger) (Publisher, error)
	Logger        func() logging.Logger

	// Stdin feeds --paste and password prompts.
	Stdin io.Reader
}

// DefaultDeps returns the dependencies for production use.
func DefaultDeps() *Deps {
	return &Deps{
		LoadConfig:    config.LoadConfig,
		SaveConfig:    config.SaveConfig,
		OpenBackend:   openPostgresBackend,
		OpenPool:      connectToDatabase,
		OpenPublisher: openRedisPublisher,
		Logger:        logging.MustGlobal,
		Stdin:         os.Stdin,
	}
}

func (d *Deps) logger() logging.Logger {
	if d.Logger == nil {
		return logging.MustGlobal()
	}
	return d.Logger()
}

// resolvePassword fills in the database password from the keyring when
// the config asks for it.
func resolvePassword(cfg *config.Config) (*db.Config, error) {
	dbCfg := cfg.Database.DB()
	if cfg.Database.PasswordFromKeyring && dbCfg.Password == "" {
		pw, err := credentials.DBPassword(dbCfg.User, dbCfg.Host)
		if err != nil {
			if errors.Is(err, credentials.ErrNoPassword) {
				return nil, fmt.Errorf("%w (run 'dealbook auth db-password')", err)
			}
			return nil, err
		}
		dbCfg.Password = pw
	}
	return dbCfg, nil
}

// connectToDatabase establishes a database connection.
func connectToDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dbCfg, err := resolvePassword(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := db.ConnectWithRetry(ctx, dbCfg, 3, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

func openPostgresBackend(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Backend, error) {
	pool, err := connectToDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Store: postgres.New(pool, schema.Default(), logger),
		Pool:  pool,
	}, nil
}

// openRedisPublisher returns nil when no Redis address is configured.
func openRedisPublisher(cfg *config.Config, logger logging.Logger) (Publisher, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil
	}
	p, err := events.NewPublisherFromConfig(events.PublisherConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// session is a loaded config plus an opened backend.
type session struct {
	cfg     *config.Config
	backend *Backend
	logger  logging.Logger
}

func (d *Deps) open(ctx context.Context) (*session, error) {
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := d.logger()
	backend, err := d.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, backend: backend, logger: logger}, nil
}

func (s *session) Close() {
	s.backend.Close()
}
