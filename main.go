package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	config "taskpilot/app/configs"
	"taskpilot/app/core/bot"
	"taskpilot/app/core/flow"
	"taskpilot/app/core/interaction/cli"
	"taskpilot/app/core/interaction/gateway"
	"taskpilot/app/core/interaction/httpapi"
	"taskpilot/app/core/interaction/telegram"
	"taskpilot/app/core/reminder"
	"taskpilot/app/core/session"
	"taskpilot/app/core/storage"
	"taskpilot/app/pkg/logger"
)

func main() {
	cfg := config.MustLoad()

	log, err := logger.Setup(cfg.Env, cfg.LogsDir)
	if err != nil {
		panic(err)
	}
	log.WithField("env", cfg.Env).Info("starting taskpilot")

	database, err := storage.NewSQLiteDB(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer database.Close()

	repo := storage.NewRepository(database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := session.NewStore(log)
	sessions.StartSweeper(ctx, cfg.Session.SweepInterval, cfg.Session.IdleTimeout)

	gw := gateway.NewGateway(log)

	// Reminders are delivered over whichever channel the assignee actually
	// uses; with a bot token configured that is Telegram, otherwise the CLI.
	reminderChannel := "telegram"
	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		reminderChannel = "cli"
	}
	reminders := reminder.New(repo, gw, reminderChannel, cfg.Reminder.LeadTime, log)

	capture := flow.NewCaptureFlow(repo, sessions, reminders, log)
	update := flow.NewUpdateFlow(repo, sessions, reminders, log)
	complete := flow.NewCompleteFlow(repo, sessions, reminders, log)

	assistant := bot.New(repo, sessions, capture, update, complete, log)
	gw.SetHandler(assistant)

	if strings.TrimSpace(cfg.Telegram.BotToken) != "" {
		gw.RegisterChannel(telegram.NewChannel(telegram.Config{
			BotToken:       cfg.Telegram.BotToken,
			PollInterval:   cfg.Telegram.PollInterval,
			TimeoutSeconds: cfg.Telegram.TimeoutSeconds,
			APIRoot:        cfg.Telegram.APIRoot,
		}, log))
	} else {
		gw.RegisterChannel(cli.NewChannel(log))
	}
	gw.RegisterChannel(httpapi.NewChannel(httpapi.Config{Port: cfg.HTTP.Port}, log))

	restored, err := reminders.Restore(ctx)
	if err != nil {
		log.WithError(err).Fatal("restore reminders")
	}
	log.WithField("count", restored).Info("reminders restored")

	go func() {
		if err := gw.Start(ctx); err != nil {
			log.WithError(err).Error("gateway stopped")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()
	if err := reminders.Stop(3 * time.Second); err != nil {
		log.WithError(err).Warn("reminder scheduler stop")
	}
	log.Info("taskpilot stopped")
}
