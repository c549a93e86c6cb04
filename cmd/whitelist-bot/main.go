// cmd/whitelist-bot/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"whitelist-bot/internal/api"
	"whitelist-bot/internal/application"
	"whitelist-bot/internal/application/memstore"
	"whitelist-bot/internal/application/postgres"
	"whitelist-bot/internal/bot"
	awsclient "whitelist-bot/internal/common/aws"
	"whitelist-bot/internal/common/config"
	"whitelist-bot/internal/common/database"
	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/common/observability"
	"whitelist-bot/internal/cooldown"
	"whitelist-bot/internal/decision"
	"whitelist-bot/internal/events"
	"whitelist-bot/internal/messages"
	"whitelist-bot/internal/notify"
	"whitelist-bot/internal/platform/discord"
	"whitelist-bot/internal/relay"
	"whitelist-bot/internal/roles"
	"whitelist-bot/internal/search"
	"whitelist-bot/internal/ticket"
	"whitelist-bot/internal/ticketcache"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yaml (default: search ./configs)")
	migrateOnly := pflag.Bool("migrate-only", false, "apply the database schema and exit")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting whitelist bot...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.Pinger{}

	// --- Application store ---
	var store application.Store
	switch cfg.Database.Driver {
	case "postgres":
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		pgStore := postgres.New(pg.DB)
		if cfg.Database.Postgres.AutoMigrate || *migrateOnly {
			if err := pgStore.Migrate(ctx); err != nil {
				zapLog.Fatal("schema migration failed", zap.Error(err))
			}
			zapLog.Info("Database schema up to date")
		}
		store = pgStore
		zapLog.Info("PostgreSQL connected successfully")
	default:
		store = memstore.New()
		zapLog.Warn("Using in-memory application store, data is lost on restart")
	}
	checks["store"] = store
	if *migrateOnly {
		return
	}

	// --- Redis (ticket cache and rate limiting) ---
	var rdb *database.RedisClient
	if cfg.NeedsRedis() {
		err = retryWithBackoff(func() error {
			rdb = database.NewRedis(cfg.Database.Redis)
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		checks["redis"] = rdb
		zapLog.Info("Redis connected successfully")
	}

	var cache ticketcache.Cache = ticketcache.NewMemory()
	if cfg.Cache.Driver == "redis" {
		cache = ticketcache.NewRedis(rdb.Client, cfg.Cache.Prefix, cfg.Cache.TTL, log)
	}

	// --- Optional integrations ---
	var indexer *search.Indexer
	if cfg.Elasticsearch.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		indexer = search.NewIndexer(es.Client, cfg.Elasticsearch.Index, log)
		if err := indexer.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("failed to prepare search index", zap.Error(err))
		}
		checks["elasticsearch"] = es
		zapLog.Info("Elasticsearch connected successfully")
	}

	var (
		publisher notify.Publisher
		alerter   notify.Alerter
	)
	if cfg.Notifications.SNS.Enabled || cfg.Notifications.SES.Enabled {
		awsCfg, err := awsclient.LoadConfig(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("aws config failed", zap.Error(err))
		}
		if cfg.Notifications.SNS.Enabled {
			publisher = notify.NewSNSPublisher(awsclient.NewSNSClient(awsCfg), cfg.Notifications.SNS.TopicARN, log)
		}
		if cfg.Notifications.SES.Enabled {
			alerter = notify.NewSESMailer(awsclient.NewSESClient(awsCfg),
				cfg.Notifications.SES.FromEmail, cfg.Notifications.SES.StaffEmails, cfg.Community.Name, log)
		}
		zapLog.Info("AWS notification clients initialized",
			zap.Bool("sns", publisher != nil),
			zap.Bool("ses", alerter != nil),
		)
	}

	// --- Discord ---
	session, err := discord.NewSession(cfg.Discord)
	if err != nil {
		zapLog.Fatal("discord session failed", zap.Error(err))
	}
	client := discord.NewClient(session, cfg.Discord.GuildID, cfg.Discord.RequestTimeout)

	// --- Lifecycle ---
	msgs := messages.NewBuilder(cfg.Community.Name, cfg.Discord.StaffRoleID)
	gate := cooldown.NewGate(store, cooldown.WithWindow(cfg.Lifecycle.Cooldown))
	tickets := ticket.NewProvisioner(store, cache, client, msgs, ticket.Config{
		CategoryID:  cfg.Discord.CategoryID,
		StaffRoleID: cfg.Discord.StaffRoleID,
	}, log)
	router := relay.NewRouter(store, cache, tickets, client, msgs, log, relay.WithCloseDelay(cfg.Lifecycle.CloseDelay))

	deps := decision.Dependencies{
		Store:    store,
		Gate:     gate,
		Tickets:  tickets,
		Closer:   router,
		Roles:    roles.NewSynchronizer(client, log),
		Catalog: roles.Catalog{
			Candidate: cfg.Discord.CandidateRoleID,
			Whitelist: cfg.Discord.WhitelistRoleID,
			Blacklist: cfg.Discord.BlacklistRoleID,
		},
		Platform:  client,
		Messages:  msgs,
		Publisher: publisher,
		Alerter:   alerter,
		Logger:    log,
	}
	if indexer != nil {
		deps.Indexer = indexer
	}
	decisions := decision.NewService(deps)

	dispatcher := events.NewDispatcher(events.Options{
		Lanes:          cfg.Dispatcher.Lanes,
		QueueSize:      cfg.Dispatcher.QueueSize,
		HandlerTimeout: 30 * time.Second,
		Observability:  obs,
	}, log)
	bot.NewHandlers(router, decisions, msgs, log).Register(dispatcher)

	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(dispatcherDone)
	}()

	gateway := discord.NewGateway(session, dispatcher, discord.GatewayConfig{
		AppID:      cfg.Discord.AppID,
		GuildID:    cfg.Discord.GuildID,
		CategoryID: cfg.Discord.CategoryID,
		Timeout:    cfg.Discord.RequestTimeout,
	}, log)
	err = retryWithBackoff(gateway.Start, 5, 2*time.Second, zapLog, "Discord gateway connection")
	if err != nil {
		zapLog.Fatal("discord gateway failed after retries", zap.Error(err))
	}
	zapLog.Info("Discord gateway connected successfully")

	// --- HTTP API ---
	apiDeps := api.Dependencies{
		Lifecycle: decisions,
		Checks:    checks,
		Logger:    log,
	}
	if indexer != nil {
		apiDeps.Searcher = indexer
	}
	if cfg.HTTP.RateLimit.Enabled {
		apiDeps.Limiter = api.NewRedisLimiter(rdb.Client, cfg.HTTP.RateLimit.Limit, cfg.HTTP.RateLimit.Window, "whitelist:rl", log)
	}
	server := api.NewServer(api.Config{
		Address:      cfg.HTTP.Address,
		AdminToken:   cfg.HTTP.AdminToken,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,

		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, apiDeps)
	go func() {
		if err := server.Start(); err != nil {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	if err := gateway.Stop(); err != nil {
		zapLog.Error("Error closing Discord session", zap.Error(err))
	}
	dispatcher.Stop()
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		zapLog.Warn("Timed out waiting for event handlers")
	}

	zapLog.Info("Whitelist bot stopped gracefully")
}
