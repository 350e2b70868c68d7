// Command relaymail is the reference host binary: it wires the C1-C10
// ingestion core to a Telegram chat sink and a SQLite-backed
// internal/host implementation, adapting the teacher's cmd/bot/main.go
// wiring order (config -> logger -> database -> components -> bot ->
// restore -> signal-driven shutdown) onto the module's own component
// graph.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/lmittmann/tint"

	"github.com/relaymail/mailcore/internal/bodyparse"
	"github.com/relaymail/mailcore/internal/config"
	"github.com/relaymail/mailcore/internal/delivery"
	"github.com/relaymail/mailcore/internal/host/mailcow"
	"github.com/relaymail/mailcore/internal/host/sqlitehost"
	"github.com/relaymail/mailcore/internal/host/telegramsink"
	"github.com/relaymail/mailcore/internal/host/tickerscheduler"
	"github.com/relaymail/mailcore/internal/idle"
	"github.com/relaymail/mailcore/internal/imapconn"
	"github.com/relaymail/mailcore/internal/ingest"
	"github.com/relaymail/mailcore/internal/oauth2engine"
	"github.com/relaymail/mailcore/internal/provider"
	"github.com/relaymail/mailcore/internal/registry"
	"github.com/relaymail/mailcore/internal/scheduler"
	"github.com/relaymail/mailcore/internal/store"
	"github.com/relaymail/mailcore/internal/supervisor"
	"github.com/relaymail/mailcore/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting relaymail")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlitehost.New(ctx, cfg.DatabasePath, []byte(cfg.EncryptionKey))
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	storage := sqlitehost.NewStorage(db)
	vault := sqlitehost.NewVault(db)

	var gmailRefresher, outlookRefresher provider.Refresher
	if cfg.GmailEnabled() {
		gmailRefresher = oauth2engine.NewTokenRefresher(oauth2engine.Gmail(cfg.GmailClientID, cfg.GmailClientSecret))
	}
	if cfg.OutlookEnabled() {
		outlookRefresher = oauth2engine.NewTokenRefresher(oauth2engine.Outlook(cfg.OutlookClientID, cfg.OutlookTenant))
	}
	providers := provider.NewRegistry(gmailRefresher, outlookRefresher)
	reg := registry.New(storage)

	var mailcowClient *mailcow.Client
	if cfg.MailcowEnabled() {
		mailcowClient = mailcow.New(mailcow.Config{BaseURL: cfg.MailcowURL, APIKey: cfg.MailcowAPIKey, Domain: cfg.MailcowDomain}, logger)
		logger.Info("mailcow integration enabled", "domain", cfg.MailcowDomain)
	} else {
		mailcowClient = mailcow.New(mailcow.Config{}, logger)
	}

	// supv and poller are referenced by closures below before they're
	// assigned; both are only invoked once Activate/Attach have run.
	var supv *supervisor.Supervisor
	var poller *scheduler.Poller

	surface := tools.New(tools.Deps{
		Storage:     storage,
		Vault:       vault,
		Providers:   providers,
		Registry:    reg,
		ConnTimeout: imapconn.Timeouts{Connect: cfg.IMAPDialTimeout, Greeting: cfg.IMAPGreetTimeout},
		FetchLimit:  cfg.FetchLimit,
		Logger:      logger,
		StartUser:   func(ctx context.Context, userID string) { supv.StartUser(ctx, userID) },
		StopUser: func(userID string) {
			supv.StopUser(userID)
			_ = poller.UnregisterUser(context.Background(), userID)
		},
	})

	commands := telegramsink.NewCommands(surface, nil, mailcowClient, logger)
	tgClient, err := tgbot.New(cfg.TelegramToken, commands.BotOptions()...)
	if err != nil {
		logger.Error("failed to create telegram bot", "error", err)
		os.Exit(1)
	}
	sink := telegramsink.New(tgClient, storage, logger)
	commands.SetSink(sink)
	commands.Attach(tgClient)

	deliverer := delivery.NewDeliverer(sink, logger)
	parser := bodyparse.New()
	dedup := store.New(storage)
	sched := tickerscheduler.New(logger)
	poller = scheduler.New(sched, scheduler.NewStorageLister(storage), logger).WithInterval(cfg.PollInterval)

	newWorker := func(userID string) supervisor.Worker {
		return ingest.NewWorker(userID, ingest.Deps{
			Providers:         providers,
			Store:             dedup,
			Storage:           storage,
			Vault:             vault,
			Deliverer:         deliverer,
			Parser:            parser,
			IdleOptions:       idle.Options{RefreshEvery: cfg.IdleRefreshEvery, BackoffWait: cfg.IdleBackoffWait, MaxReconnects: cfg.IdleMaxReconnects},
			ConnectTimeouts:   imapconn.Timeouts{Connect: cfg.IMAPDialTimeout, Greeting: cfg.IMAPGreetTimeout},
			TokenRefreshEvery: cfg.TokenRefreshEvery,
			FetchLimit:        cfg.FetchLimit,
			Logger:            logger,
		})
	}

	supv = supervisor.New(reg, newWorker, logger).WithOnUserStarted(func(userID string, w supervisor.Worker) {
		trigger, ok := w.(scheduler.Trigger)
		if !ok {
			return
		}
		if err := poller.RegisterUser(ctx, userID, trigger); err != nil {
			logger.Warn("failed to register poll job", "user_id", userID, "error", err)
		}
	})

	if err := supv.Activate(ctx); err != nil {
		logger.Error("failed to activate registered users", "error", err)
		os.Exit(1)
	}
	logger.Info("ingestion activated")

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		supv.Dispose()
		cancel()
	}()

	logger.Info("relaymail is running, press Ctrl+C to stop")
	tgClient.Start(ctx)
	logger.Info("relaymail stopped")
}

func setupLogger(level, format string) *slog.Logger {
	logLevel := parseLevel(level)
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: logLevel, TimeFormat: time.DateTime, NoColor: false})
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
