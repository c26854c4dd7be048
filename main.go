package main

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"aicompare/internal/api"
	"aicompare/internal/config"
	"aicompare/internal/gateway"
	"aicompare/internal/ratelimit"
	"aicompare/internal/redis"
	"aicompare/internal/service/account"
	"aicompare/internal/service/dispatch"
	"aicompare/internal/service/history"
	"aicompare/internal/session"
	"aicompare/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogger(cfg.Log.Level)

	db, err := storage.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	aliases := cfg.Router.Aliases()
	if err := storage.Migrate(db, cfg.DB.Driver, aliases); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	accounts := account.NewService(db, cfg.DB.Driver)
	sessions := session.NewService(db, cfg.DB.Driver, cfg.SessionSecret, session.DefaultTTL)
	hist := history.NewService(db, cfg.DB.Driver, aliases)
	client := gateway.New(cfg.Router, cfg.SiteURL, cfg.AppTitle)
	runner := dispatch.NewService(client, hist, aliases)
	limiter := ratelimit.NewLimiter(rdb.Raw(), cfg.Rate.Window, cfg.Rate.MaxRequests)

	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(), sessions.Identify())

	handler := api.NewHandler(accounts, sessions, hist, runner, limiter, cfg.AppTitle)
	handler.RegisterRoutes(router)

	log.Info().
		Str("addr", cfg.ServerAddr).
		Str("key_mode", cfg.Router.KeyMode).
		Int("models", len(aliases)).
		Msg("starting server")
	if err := router.Run(cfg.ServerAddr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(os.Stderr)
}
