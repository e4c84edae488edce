package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/blockedby/tg-harvester/internal/api"
	"github.com/blockedby/tg-harvester/internal/collector"
	"github.com/blockedby/tg-harvester/internal/config"
	"github.com/blockedby/tg-harvester/internal/database"
	"github.com/blockedby/tg-harvester/internal/logger"
	"github.com/blockedby/tg-harvester/internal/migrator"
	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/nats"
	"github.com/blockedby/tg-harvester/internal/publisher"
	"github.com/blockedby/tg-harvester/internal/repository"
	"github.com/blockedby/tg-harvester/internal/scheduler"
	"github.com/blockedby/tg-harvester/internal/sink"
	"github.com/blockedby/tg-harvester/internal/telegram"
	"github.com/blockedby/tg-harvester/internal/web"
	"github.com/blockedby/tg-harvester/migrations"
)

const (
	apiTitle       = "tg-harvester"
	apiDescription = "Harvests recent messages from selected Telegram chats"
	version        = "dev"
)

func main() {
	// 1. Load config
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Format: cfg.LogFormat}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting harvester")

	// 3. Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Database and migrations
	mig, err := migrator.NewWithFS(migrations.FS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrator")
	}
	if err := mig.Up(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	accountsRepo := repository.NewAccountsRepository(db.Pool)
	messagesRepo := repository.NewMessagesRepository(db.Pool)
	statsRepo := repository.NewStatsRepository(db.GORM)

	// 5. Event publishers: websocket hub always, NATS when reachable
	hub := web.NewHub()
	go hub.Run()
	defer hub.Close()

	publishers := collector.Publishers{web.NewHubPublisher(hub)}
	if cfg.NatsEnabled {
		nc, err := nats.New(ctx, cfg.NatsURL, log.Component("nats"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else {
			defer nc.Close()
			if err := nc.EnsureStream(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to ensure nats stream")
			}
			publishers = append(publishers, publisher.NewNATSPublisher(nc))
		}
	}

	// 6. Telegram session manager
	artifacts, err := telegram.NewArtifactStore(cfg.SessionsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open sessions dir")
	}
	tgManager := telegram.NewManager(artifacts, accountsRepo, telegram.ManagerOptions{
		ChallengeTTL: cfg.ChallengeTTL,
		GraceDelay:   cfg.ChallengeWait,
		RPS:          cfg.TGRPS,
		Burst:        cfg.TGBurst,
	}, log.Component("telegram"))
	defer tgManager.Stop()
	go tgManager.RunJanitor(ctx, 30*time.Second)

	// 7. Harvesting pipeline
	opener := collector.OpenerFunc(func(ctx context.Context, acc models.Account) (collector.HarvestSession, error) {
		s, err := tgManager.Open(ctx, acc)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	orchestrator := collector.NewOrchestrator(
		accountsRepo,
		opener,
		collector.NewEngine(log.Component("engine")),
		sink.New(messagesRepo, cfg.SinkChunkSize, log.Component("sink")),
		publishers,
		collector.OrchestratorOptions{
			HoursBack:   cfg.HoursBackDuration(),
			TopicsLimit: cfg.TopicsLimit,
		},
		log.Component("orchestrator"),
	)
	runs := collector.NewRunManager(orchestrator, log.Component("runs"))

	var sched *scheduler.Scheduler
	if cfg.SchedulerOn {
		sched = scheduler.New(runs, cfg.CycleInterval, log)
		go sched.Run(ctx)
	}

	// 8. HTTP control surface
	deps := &api.Dependencies{
		Accounts:       accountsRepo,
		Sessions:       tgManager,
		Runs:           runs,
		Stats:          statsRepo,
		Messages:       messagesRepo,
		Hub:            hub,
		DefaultAPIID:   cfg.TGApiID,
		DefaultAPIHash: cfg.TGApiHash,
	}
	if sched != nil {
		deps.Scheduler = sched
	}
	apiServer := api.NewServer(&api.Config{Title: apiTitle, Description: apiDescription, Version: version}, deps)

	server := web.NewServer(&web.Config{Port: cfg.HTTPPort, CORSOrigins: cfg.CORSOrigins}, hub)
	apiServer.MountDocsOn(server.Router(), apiTitle, apiDescription)
	server.Mount(apiServer.Handler())

	log.Info().Int("port", cfg.HTTPPort).Msg("starting web server")
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	// 9. Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down services...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if runs.Stop() {
		if err := runs.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("cycle did not stop in time")
		}
	}
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	log.Info().Msg("shutdown complete")
}
