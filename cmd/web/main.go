package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gunjou/api-ukai-syndrome/internal/app"
	"github.com/gunjou/api-ukai-syndrome/internal/auth"
	"github.com/gunjou/api-ukai-syndrome/internal/cache"
	"github.com/gunjou/api-ukai-syndrome/internal/catalog"
	"github.com/gunjou/api-ukai-syndrome/internal/db"
	"github.com/gunjou/api-ukai-syndrome/internal/monitor"
	"github.com/gunjou/api-ukai-syndrome/internal/tryout"
)

func main() {
	cfg := app.LoadConfig()
	app.SetupLogger(cfg)

	if cfg.JWTSecret == "" {
		if cfg.IsProduction() {
			log.Fatal().Msg("JWT_SECRET is required in production")
		}
		log.Warn().Msg("JWT_SECRET is empty, using an insecure development secret")
		cfg.JWTSecret = "dev-only-secret"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg := db.DefaultConfig(cfg.DBDSN)
	dbCfg.MaxOpenConns = cfg.DBMaxOpenConns
	dbCfg.MaxIdleConns = cfg.DBMaxIdleConns
	dbCfg.ConnMaxLifetime = time.Duration(cfg.DBConnMaxLifeMins) * time.Minute

	dbConn, err := db.OpenPostgres(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database error")
	}
	defer dbConn.Close()

	if cfg.DBAutoMigrate {
		if err := db.Migrate(ctx, dbConn); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("schema migrated")
	}

	var store catalog.Store
	if cfg.CatalogFixture != "" {
		mem, err := catalog.LoadYAML(cfg.CatalogFixture)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.CatalogFixture).Msg("load catalog fixture")
		}
		store = mem
		log.Info().Str("path", cfg.CatalogFixture).Msg("using fixture catalog")
	} else {
		store = catalog.NewPostgresStore(dbConn)
	}

	var leaderboardCache cache.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
		}
		leaderboardCache = cache.NewRedis(rdb, "ukai:")
	} else {
		leaderboardCache = cache.NewMemory()
	}

	hub := monitor.NewHub()
	go hub.Run(ctx)

	svc := tryout.NewService(dbConn, store,
		tryout.WithCache(leaderboardCache, cfg.LeaderboardCacheTTL),
		tryout.WithNotifier(hub),
	)

	limiter := app.NewIPRateLimiter(cfg.AttemptRateLimitPerMin, time.Minute)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep()
			}
		}
	}()

	handler := app.NewRouter(cfg, app.Deps{
		DB:       dbConn,
		Service:  svc,
		Verifier: auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Hub:      hub,
		Limiter:  limiter,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.AppEnv).Msg("ukai tryout api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}
