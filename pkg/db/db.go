package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"trackpoints/pkg/config"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/prometheus"
)

var Module = fx.Module("database",
	fx.Provide(
		Dialect,
		New,
	),
	fx.Invoke(RegisterConnectionPool),
)

// Dialect picks the gorm dialector from the configured database type.
func Dialect(cfg *config.Config) gorm.Dialector {
	d := cfg.Database
	switch d.Type {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.DBNAME))
	case "sqlite":
		return sqlite.Open(d.DBNAME)
	default:
		sslMode := d.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		tz := d.Timezone
		if tz == "" {
			tz = "UTC"
		}
		return postgres.Open(fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			d.Host, d.Port, d.User, d.Password, d.DBNAME, sslMode, tz))
	}
}

// GormConfig is shared by the application and test databases. Duplicate-key errors are
// translated to gorm.ErrDuplicatedKey so callers can detect unique races portably.
func GormConfig(l logger.Interface) *gorm.Config {
	return &gorm.Config{
		Logger:         l,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func New(cfg *config.Config, dialector gorm.Dialector) *gorm.DB {
	var db *gorm.DB
	var err error

	var logLevel logger.LogLevel
	var showSQL bool

	if cfg.AppEnv == "production" {
		logLevel = logger.Warn
		showSQL = false
	} else {
		logLevel = logger.Info
		showSQL = true
	}

	gormLogger := NewZapGormLogger(zap.L(), logLevel, showSQL)

	for i := 0; i < 5; i++ {
		db, err = gorm.Open(dialector, GormConfig(gormLogger))
		if err == nil {
			break
		}
		zap.L().Warn("[DB] Database not ready, retrying in 3 seconds... ", zap.Int("retry", i+1), zap.Error(err))
		time.Sleep(3 * time.Second)
	}

	if err != nil {
		zap.L().Error("[DB] Failed to connect to database", zap.Error(err))
		os.Exit(1)
	}

	if cfg.Otel.Enable {
		_ = Otel(db)
	}
	_ = Metric(db)

	zap.L().Info("[DB] ✅ Database connection successfully configured.")

	return db
}

type connectionPoolParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Config    *config.Config
}

func RegisterConnectionPool(p connectionPoolParams) {
	if p.DB == nil {
		zap.L().Error("[DB] Skipping connection pool setup (no db instance)")
		os.Exit(1)
	}

	sqlDB, err := p.DB.DB()
	if err != nil {
		zap.L().Error("[DB] ❌ Failed to get sql.DB from gorm", zap.Error(err))
		os.Exit(1)
	}

	cp := p.Config.Database.ConnectionPool
	if cp.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cp.MaxIdleConn)
	}
	if cp.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cp.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(cp.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cp.ConnMaxIdleTime)

	zap.L().Info("[DB] ✅ Database connection successfully configured with connection pooling.")
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("[DB] Closing connection pool...")
			return sqlDB.Close()
		},
	})
}

type migrateParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Models []any `group:"models"`
}

// Migrate auto-migrates every model registered into the "models" value group.
func Migrate(p migrateParams) error {
	if !p.Config.Database.AutoMigrate {
		return nil
	}
	if err := p.DB.AutoMigrate(p.Models...); err != nil {
		zap.L().Error("[DB] auto migration failed", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] auto migration finished", zap.Int("models", len(p.Models)))
	return nil
}

// AsModel registers a model for auto migration.
func AsModel(model any) fx.Option {
	return fx.Provide(fx.Annotate(func() any { return model }, fx.ResultTags(`group:"models"`)))
}

func Otel(db *gorm.DB) error {
	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		zap.L().Error("❌ Failed to register db telemetry", zap.Error(err))
		return err
	}

	return nil
}

func Metric(db *gorm.DB) error {
	if err := db.Use(prometheus.New(prometheus.Config{
		DBName:          getDBNameFromDialector(db.Dialector),
		RefreshInterval: 15,
		StartServer:     false,
	})); err != nil {
		zap.L().Error("❌ Failed to register db metrics", zap.Error(err))
		return err
	}
	return nil
}

func extractDBNameFromDSN(dsn string) string {
	parts := strings.Fields(dsn)
	for _, part := range parts {
		if strings.HasPrefix(part, "dbname=") {
			return strings.TrimPrefix(part, "dbname=")
		}
	}
	if i := strings.LastIndex(dsn, "/"); i >= 0 {
		name := dsn[i+1:]
		if j := strings.Index(name, "?"); j >= 0 {
			name = name[:j]
		}
		if name != "" {
			return name
		}
	}
	return "unknown"
}

func getDBNameFromDialector(dialector gorm.Dialector) string {
	switch d := dialector.(type) {
	case *postgres.Dialector:
		return extractDBNameFromDSN(d.Config.DSN)
	case *mysql.Dialector:
		return extractDBNameFromDSN(d.Config.DSN)
	default:
		return "unknown"
	}
}
