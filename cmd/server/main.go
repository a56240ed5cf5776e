package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/anteroom-chat/anteroom/internal/adapters/http"
	"github.com/anteroom-chat/anteroom/internal/app"
	"github.com/anteroom-chat/anteroom/internal/config"
	"github.com/anteroom-chat/anteroom/internal/repo"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var (
		identity repo.IdentityRepo
		rooms    repo.RoomRepo
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("cannot reach redis")
		}
		identity = repo.NewRedisIdentityRepo(rdb)
		rooms = repo.NewRedisRoomRepo(rdb)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis store")
	} else {
		identity = repo.NewMemoryIdentityRepo()
		rooms = repo.NewMemoryRoomRepo()
		log.Info().Msg("using in-memory store")
	}

	consensus := app.NewConsensus(rooms)
	registry := app.NewRegistry()

	r := router.SetupRouter(ctx, cfg, identity, consensus, registry)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Anteroom server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
