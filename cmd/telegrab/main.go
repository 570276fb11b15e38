package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telegrab/telegrab/internal/category"
	"github.com/telegrab/telegrab/internal/config"
	"github.com/telegrab/telegrab/internal/database"
	"github.com/telegrab/telegrab/internal/downloads"
	"github.com/telegrab/telegrab/internal/indexer"
	"github.com/telegrab/telegrab/internal/logger"
	"github.com/telegrab/telegrab/internal/nats"
	"github.com/telegrab/telegrab/internal/provider"
	"github.com/telegrab/telegrab/internal/publisher"
	"github.com/telegrab/telegrab/internal/store"
	"github.com/telegrab/telegrab/internal/telegram"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting telegrab daemon")

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. Open database and apply schema
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	st := store.New(db)
	if chats, err := st.ListChats(ctx); err == nil {
		enabled := 0
		for _, c := range chats {
			if c.IndexingEnabled {
				enabled++
			}
		}
		log.Info().Int("chats", len(chats)).Int("indexing", enabled).Msg("chat inventory loaded")
	}

	// 5. Connect to NATS (optional)
	var pub *publisher.NATSPublisher
	if cfg.NatsURL != "" {
		nc, err := nats.New(ctx, cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else {
			defer nc.Close()
			if err := nc.EnsureStream(ctx, "TELEGRAB", []string{"telegrab.>"}); err != nil {
				log.Warn().Err(err).Msg("failed to ensure nats stream")
			}
			pub = publisher.NewNATSPublisher(nc)
		}
	}
	var crawlPub indexer.EventPublisher
	var downloadPub downloads.EventPublisher
	if pub != nil {
		crawlPub, downloadPub = pub, pub
	}

	// 6. Telegram session manager and API client
	sessions := telegram.NewSessionStore(db)
	manager := telegram.NewSessionManager(sessions)
	tgClient := telegram.NewClient(manager)

	// 7. Category resolver and download manager
	dirs, err := category.Load(cfg.CategoriesFile, cfg.IncomingDir, cfg.TempDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load categories")
	}
	source := downloads.NewTelegramSource(tgClient, st)
	dlManager := downloads.NewManager(source, st, dirs, downloadPub)

	// 8. Indexer, started on every successful connect
	ix := indexer.New(tgClient, st, crawlPub, time.Duration(cfg.IndexIntervalSec)*time.Second)
	manager.SetOnConnected(func() {
		ix.Start(ctx)
	})

	// 9. Provider façade for the outer API layer
	tgProvider := provider.NewTelegramProvider(st, dlManager)
	agg := provider.NewAggregator(tgProvider)
	go transferHeartbeat(ctx, agg, log)

	// 10. Restore a persisted session, if one exists
	if err := manager.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("no telegram session restored, run tg-auth to log in")
	}

	<-ctx.Done()

	log.Info().Msg("shutting down")
	dlManager.Stop()
	manager.Stop()
	log.Info().Msg("stopped")
}

// transferHeartbeat periodically logs a summary of non-completed transfers.
func transferHeartbeat(ctx context.Context, agg *provider.Aggregator, log *logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		transfers, err := agg.GetTransfers(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("transfer heartbeat failed")
			continue
		}

		active := 0
		for _, t := range transfers {
			if t.State == downloads.StateDownloading || t.State == downloads.StatePaused {
				active++
			}
		}
		if active > 0 {
			log.Info().Int("active", active).Int("total", len(transfers)).Msg("transfers in progress")
		}
	}
}
