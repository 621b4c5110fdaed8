package db

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/repository"
	cfgpkg "github.com/fatflowers/stembill/pkg/config"
	gormzap "github.com/fatflowers/stembill/pkg/gormlog"
)

// Open connects with the configured driver. sqlite is meant for local runs
// and tests; its pool is pinned to one connection so in-memory databases and
// write transactions behave.
func Open(l *zap.SugaredLogger, dbCfg cfgpkg.DBConfig) (*gorm.DB, error) {
	if dbCfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is empty: %w", gorm.ErrInvalidDB)
	}
	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "", "postgres":
		dialector = postgres.Open(dbCfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormzap.New(l, dbCfg.SlowThreshold, gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dbCfg.Driver, err)
	}
	if dbCfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	db, err := Open(l, cfg.Database)
	if err != nil {
		l.Errorw("failed to connect database", "driver", cfg.Database.Driver, "err", err)
		return nil, err
	}
	l.Infow("connected to database", "driver", cfg.Database.Driver)
	return db, nil
}

var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Provide(repository.NewGormRepository),
	fx.Invoke(AutoMigrate),
	fx.Invoke(registerDBClose),
)

// AutoMigrate runs GORM migrations on startup
func AutoMigrate(l *zap.SugaredLogger, db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		l.Errorf("automigrate failed: %v", err)
		return err
	}
	l.Infow("automigrate completed")
	return nil
}

// registerDBClose ensures the underlying *sql.DB is closed on shutdown
func registerDBClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing database connection pool")
			return sqlDB.Close()
		},
	})
}
