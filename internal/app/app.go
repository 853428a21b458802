// Package app wires the chargehub dependency graph.
package app

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chargehub/internal/aggregator"
	"chargehub/internal/availability"
	"chargehub/internal/clients/stripeclient"
	"chargehub/internal/config"
	httpserver "chargehub/internal/http"
	"chargehub/internal/http/handlers"
	"chargehub/internal/metrics"
	"chargehub/internal/models"
	"chargehub/internal/normalize"
	"chargehub/internal/payment"
	"chargehub/internal/provider"
	"chargehub/internal/provider/rest"
	"chargehub/internal/redisstore"
	"chargehub/internal/repository"
	"chargehub/internal/session"
	libdb "chargehub/libs/db"
	libredis "chargehub/libs/redis"
)

// App holds the wired service graph plus the background loops that keep the
// availability cache and session records converged.
type App struct {
	cfg         *config.Config
	server      *httpserver.Server
	db          *sql.DB
	redisClient *redis.Client
	pollers     []*availability.Poller
	wsFeeds     []*availability.WSFeed
	mqttFeeds   []*availability.MQTTFeed
	reconciler  *session.Reconciler
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := libdb.NewPostgres(cfg.Database.DSN, libdb.PoolOptions{})
	if err != nil {
		return nil, err
	}

	redisClient, err := libredis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	m := metrics.New()

	sessionRepo := repository.NewSessionRepository(sqlDB)
	paymentRepo := repository.NewPaymentRepository(sqlDB)
	activeIndex := redisstore.NewStore(redisClient, cfg.Redis.ActiveSessionTTL)

	windows := make(map[string]time.Duration, len(cfg.Providers))
	for _, p := range cfg.Providers {
		windows[p.Name] = p.StalenessWindow
	}
	cache := availability.NewCache(availability.Options{Windows: windows}, logger)

	normalizer := normalize.New(cfg.ProviderOrder(), cfg.MergeGroups(), logger)

	adapters := make(map[string]provider.Adapter, len(cfg.Providers))
	sources := make([]aggregator.Source, 0, len(cfg.Providers))
	providerHealth := make([]handlers.ProviderHealth, 0, len(cfg.Providers))
	pollers := make([]*availability.Poller, 0, len(cfg.Providers))
	var wsFeeds []*availability.WSFeed
	var mqttFeeds []*availability.MQTTFeed

	coverage := models.LatLng{Lat: cfg.Coverage.Lat, Lng: cfg.Coverage.Lng}

	for _, pc := range cfg.Providers {
		tokens := provider.NewTokenSource(rest.StaticToken(pc.APIKey))
		adapter := rest.New(rest.Config{
			Name:        pc.Name,
			BaseURL:     pc.BaseURL,
			APIKey:      pc.APIKey,
			CallTimeout: pc.CallTimeout,
		}, tokens, logger)
		health := provider.NewHealth(pc.Name, 0)

		adapters[pc.Name] = adapter
		sources = append(sources, aggregator.Source{Adapter: adapter, Health: health})
		providerHealth = append(providerHealth, handlers.ProviderHealth{Name: pc.Name, Health: health})
		pollers = append(pollers, availability.NewPoller(adapter, cache, health, pc.PollInterval, coverage, cfg.Coverage.RadiusM, logger))

		switch pc.Push.Mode {
		case "ws":
			wsFeeds = append(wsFeeds, availability.NewWSFeed(pc.Name, pc.Push.URL, cache, logger))
		case "mqtt":
			mqttFeeds = append(mqttFeeds, availability.NewMQTTFeed(pc.Name, availability.MQTTFeedConfig{
				Broker:   pc.Push.Broker,
				Topic:    pc.Push.Topic,
				Username: pc.Push.Username,
				Password: pc.Push.Password,
			}, cache, logger))
		}
	}

	agg := aggregator.New(sources, cache, normalizer, cfg.Aggregator.ProviderTimeout, m, logger)

	processor := stripeclient.New(cfg.Payment.StripeSecretKey, logger)
	payments := payment.NewCoordinator(processor, paymentRepo, payment.Config{
		Currency:    cfg.Payment.Currency,
		MaxAttempts: cfg.Payment.MaxAttempts,
		RetryDelay:  cfg.Payment.RetryDelay,
	}, m, logger)

	sessions := session.NewCoordinator(adapters, sessionRepo, activeIndex, payments, cache, session.Config{
		MaxAttempts: cfg.Session.MaxAttempts,
		RetryDelay:  cfg.Session.RetryDelay,
	}, logger)
	reconciler := session.NewReconciler(sessions, cfg.Session.ReconcileInterval, logger)

	routes := httpserver.Routes{
		Nearby:         handlers.NewNearbyHandler(agg),
		StationDetails: handlers.NewStationDetailsHandler(agg),
		SessionStart:   handlers.NewSessionStartHandler(sessions),
		SessionStop:    handlers.NewSessionStopHandler(sessions),
		SessionStatus:  handlers.NewSessionStatusHandler(sessions),
		SessionsMe:     handlers.NewSessionsMeHandler(sessions),
		PaymentRefund:  handlers.NewPaymentRefundHandler(payments),
		Health:         handlers.NewHealthHandler(providerHealth),
		Metrics:        m.Handler(),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		cfg:         cfg,
		server:      server,
		db:          sqlDB,
		redisClient: redisClient,
		pollers:     pollers,
		wsFeeds:     wsFeeds,
		mqttFeeds:   mqttFeeds,
		reconciler:  reconciler,
		logger:      logger,
	}, nil
}

// Run starts the HTTP server and all background loops, blocking until ctx is
// canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range a.pollers {
		wg.Add(1)
		go func(p *availability.Poller) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	for _, f := range a.wsFeeds {
		wg.Add(1)
		go func(f *availability.WSFeed) {
			defer wg.Done()
			f.Run(ctx)
		}(f)
	}
	for _, f := range a.mqttFeeds {
		wg.Add(1)
		go func(f *availability.MQTTFeed) {
			defer wg.Done()
			if err := f.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("mqtt availability feed stopped", zap.Error(err))
			}
		}(f)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reconciler.Run(ctx)
	}()

	err := a.server.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
