// Command api serves single-trip predictions and the batch run history.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"taxiflow/config"
	"taxiflow/errors"
	"taxiflow/logger"
	"taxiflow/models"
	"taxiflow/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	sink, err := logger.Init("api", cfg.Log.Level, cfg.Log.Format, cfg.Log.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}
	defer sink.Close()

	var db *gorm.DB
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("database setup failed")
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
	} else {
		log.Info().Msg("database disabled, serving predictions only")
	}

	var cache *services.CacheService
	if cfg.Redis.Enabled {
		cache, err = services.NewCacheService(cfg.Redis, 5)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, serving without cache")
		} else {
			defer cache.Close()
		}
	}

	deps := routerDeps{
		cfg:    cfg,
		db:     db,
		cache:  cache,
		models: services.NewModelService(cfg.Model.Path),
		auth:   services.NewAuthService(cfg.JWT),
	}
	if _, err := deps.models.Get(); err != nil {
		log.Warn().Err(err).Str("path", cfg.Model.Path).Msg("model not loaded at startup")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           setupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("api shutdown")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("api server failed")
	}
	log.Info().Msg("api stopped")
}

// openDatabase connects gorm to Postgres and migrates the operator table.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql db handle")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if err := db.AutoMigrate(&models.Operator{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "migrate operators")
	}
	return db, nil
}
