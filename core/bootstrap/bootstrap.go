package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/botstarter/core/config"
	coredatabase "github.com/m3rciful/botstarter/core/database"
	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/storage"
)

// Options control the generic bootstrap pipeline shared between bots.
type Options struct {
	Config   *coreconfig.Config
	Database coredatabase.Config
	Modules  Modules

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(ctx context.Context, db *sqlx.DB, driver string) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Storage
}

// Close releases the database pool, if any.
func (r *Result) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Run initializes the logger, opens storage, applies migrations and runs the
// seeders. Admin ids from the configuration are always seeded first.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	dbCfg := opts.Database
	if err := dbCfg.Normalize(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	res, err := openStorage(ctx, dbCfg, opts)
	if err != nil {
		return nil, err
	}

	seeders := append([]Seeder{AdminSeeder(opts.Config.Telegram.AdminIDs)}, opts.Modules.Seeders...)
	for i, s := range seeders {
		if s == nil {
			continue
		}
		if err := s.Seed(ctx, res.Storage); err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("bootstrap: seeder %d failed: %w", i, err)
		}
	}
	logger.Info(ctx, logger.CompSeed, "summary",
		slog.String("status", "ok"),
		slog.Int("seeders", len(seeders)),
	)
	return res, nil
}

func openStorage(ctx context.Context, cfg coredatabase.Config, opts Options) (*Result, error) {
	if cfg.Driver == coredatabase.DriverMemory {
		mem := storage.NewMemoryStore()
		logger.Info(ctx, logger.CompStorage, "storage.open", slog.String("driver", cfg.Driver))
		return &Result{Storage: Storage{Users: mem, Medias: mem.Medias()}}, nil
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	if !cfg.SkipMigrations {
		migrate := opts.Migrate
		if migrate == nil {
			migrate = coredatabase.RunMigrations
		}
		if err := migrate(ctx, db, cfg.Driver); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
	}

	return &Result{Storage: Storage{
		DB:     db,
		Users:  coredatabase.NewUserRepo(db),
		Medias: coredatabase.NewMediaRepo(db),
	}}, nil
}

// AdminSeeder grants the admin flag to ids, creating users that do not exist yet.
func AdminSeeder(ids []int64) Seeder {
	return SeederFunc(func(ctx context.Context, st Storage) error {
		if st.Users == nil {
			return errors.New("admin seeder: no user store")
		}
		for _, id := range ids {
			if id == 0 {
				continue
			}
			if err := st.Users.SetAdmin(ctx, id, true); err != nil {
				return fmt.Errorf("grant admin %d: %w", id, err)
			}
			logger.Debug(ctx, logger.CompSeed, "admin.granted", slog.Int64("user_id", id))
		}
		return nil
	})
}
