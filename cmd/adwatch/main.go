package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adwatch/internal/config"
	"adwatch/internal/db"
	"adwatch/internal/dedup"
	"adwatch/internal/fetch"
	"adwatch/internal/logging"
	"adwatch/internal/notify"
	"adwatch/internal/poller"
	"adwatch/internal/server"
	"adwatch/internal/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.json", "path to config file")
	flag.Parse()

	cfg, created, err := config.LoadOrInit(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("Created default config at %s. Edit it (especially admin_token and search_params), then rerun.\n", configPath)
		os.Exit(0)
	}

	logging.Init(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "adwatch",
	})
	log := logging.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var seen store.SeenStore
	switch cfg.StorageDriver {
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres")
		}
		defer pg.Close()
		seen = pg
	default:
		database, err := db.Open(cfg.DatabasePath)
		if err != nil {
			log.Fatal().Err(err).Msg("open database")
		}
		defer database.Close()
		seen = store.New(database)
	}

	source := buildSource(cfg)
	engine := dedup.New(seen, logging.Named("dedup"))

	p := poller.New(poller.Options{
		Source:    source,
		Engine:    engine,
		Settings:  seen,
		Defaults:  cfg.Search,
		Interval:  time.Duration(cfg.CheckIntervalMinutes) * time.Minute,
		Jitter:    time.Duration(cfg.CheckJitterSeconds) * time.Second,
		Timeout:   time.Duration(cfg.FetchTimeoutSeconds+30) * time.Second,
		QueueSize: cfg.NotifyQueueSize,
		Logger:    logging.Named("poller"),
	})

	sink := buildSink(cfg)
	consumer := notify.NewConsumer(sink, seen, logging.Named("notify"))
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(ctx, p.Detected())
	}()

	guard, err := server.NewGuard(cfg.AdminToken, cfg.AdminBindCIDRs)
	if err != nil {
		log.Fatal().Err(err).Msg("init guard")
	}
	api := server.New(server.Options{
		Store:        seen,
		Poller:       p,
		Guard:        guard,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       logging.Named("http"),
	})
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      api.Routes(),
		ReadTimeout:  time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	p.Start(ctx)

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shCtx)
	}()

	log.Info().
		Str("addr", cfg.ListenAddress).
		Str("storage", cfg.StorageDriver).
		Str("adapter", cfg.FetchAdapter).
		Int("interval_min", cfg.CheckIntervalMinutes).
		Msg("adwatch starting")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server")
	}
	stop()
	<-consumerDone
}

func buildSource(cfg config.Config) fetch.Source {
	timeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	switch cfg.FetchAdapter {
	case "browser":
		return fetch.NewBrowserSource(fetch.BrowserOptions{
			BaseURL:   cfg.MarketplaceBaseURL,
			UserAgent: cfg.UserAgent,
			Timeout:   timeout,
			Logger:    logging.Named("fetch"),
		})
	case "mock":
		return fetch.NewMockSource()
	default:
		return fetch.NewHTTPSource(fetch.HTTPOptions{
			BaseURL:   cfg.MarketplaceBaseURL,
			UserAgent: cfg.UserAgent,
			Timeout:   timeout,
		})
	}
}

func buildSink(cfg config.Config) notify.Sink {
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		return notify.NewTelegramSink(notify.TelegramOptions{
			Token:  cfg.TelegramBotToken,
			ChatID: cfg.TelegramChatID,
		})
	}
	return &notify.LogSink{Log: logging.Named("notify")}
}
