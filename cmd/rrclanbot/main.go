package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rr-clan-bot/internal/bot"
	"rr-clan-bot/internal/config"
	"rr-clan-bot/internal/logging"
	"rr-clan-bot/internal/repository"
	"rr-clan-bot/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	templateRepo := repository.NewTemplateRepository(db)

	templateSvc := service.NewTemplateService(templateRepo)
	broadcastSvc := service.NewBroadcastService(userRepo, logger)
	rosterSvc := service.NewRosterService(userRepo)

	clanBot, err := bot.New(cfg.Token, userRepo, templateSvc, broadcastSvc, rosterSvc, &cfg, logger)
	if err != nil {
		logger.Fatalf("bot: %v", err)
	}

	if cfg.RosterTime != "" {
		scheduler := service.NewSchedulerService(time.Local)
		if _, err := scheduler.ScheduleDaily(cfg.RosterTime, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := clanBot.SendRosterReports(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("roster report: %v", err)
			}
		}); err != nil {
			logger.Fatalf("schedule roster: %v", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	logger.Infof("clan bot started")
	if err := clanBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("bot stopped with error: %v", err)
	}
	logger.Infof("shutdown complete")
}
