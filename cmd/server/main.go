package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"taprush/internal/ads"
	"taprush/internal/analytics"
	"taprush/internal/api"
	"taprush/internal/bot"
	"taprush/internal/config"
	"taprush/internal/engine"
	"taprush/internal/leaderboard"
	"taprush/internal/live"
	"taprush/internal/monitoring"
	"taprush/internal/rules"
	"taprush/internal/scheduler"
	"taprush/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file: %v", err)
	}

	cfg := config.Load()
	tables := rules.Load()

	var src engine.ValueSource
	if cfg.RandSeed != 0 {
		src = engine.NewRandSource(cfg.RandSeed)
	}
	eng, err := engine.New(tables, src)
	if err != nil {
		log.Fatalf("rule tables: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st *store.Store
	if cfg.DatabaseURL != "" {
		st, err = store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	} else {
		log.Print("DATABASE_URL empty, running without persistence")
	}

	rdb, err := leaderboard.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Printf("redis unavailable, leaderboard and ad gating degraded: %v", err)
	}
	board := leaderboard.New(rdb)
	gate := ads.New(rdb, cfg.AdWebhookSecret, tables.AdCooldownMinutes, tables.AdMaxPerDay)

	sink, err := analytics.Open(cfg.DatabaseURL)
	if err != nil {
		log.Printf("analytics disabled: %v", err)
	}
	if err := sink.Migrate(); err != nil {
		log.Printf("analytics migrate: %v", err)
	}
	sink.Start(ctx)
	defer sink.Close()

	metrics := monitoring.New(cfg.MetricsPort)
	go func() {
		if err := metrics.StartServer(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()

	if cfg.RunBot {
		b, err := bot.New(cfg, eng, st)
		if err != nil {
			log.Fatalf("bot: %v", err)
		}
		b.StartPolling(ctx)
		log.Print("bot polling started")
	}

	if cfg.RunSweeper {
		if err := scheduler.New(eng, st).Start(ctx); err != nil {
			log.Fatalf("scheduler: %v", err)
		}
		log.Print("rollover scheduler started")
	}

	if !cfg.RunAPI {
		log.Print("API disabled, waiting for shutdown signal")
		<-ctx.Done()
		return
	}

	srv := api.New(cfg, api.Deps{
		Engine:    eng,
		Store:     st,
		Board:     board,
		AdGate:    gate,
		Analytics: sink,
		Metrics:   metrics,
		Feed:      live.NewHub(),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on :%d (metrics on :%d)", cfg.Port, cfg.MetricsPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	metrics.Shutdown(shutdownCtx)

	// Final snapshot so confirmed credit survives the restart.
	if st != nil {
		for _, id := range eng.Users() {
			if snap, ok := eng.Snapshot(id); ok {
				if err := st.Save(shutdownCtx, snap); err != nil {
					log.Printf("final save for %d: %v", id, err)
				}
			}
		}
	}
}
