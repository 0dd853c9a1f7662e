package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pledge/internal/accountability"
	"github.com/sells-group/pledge/internal/catalog"
	"github.com/sells-group/pledge/internal/config"
	"github.com/sells-group/pledge/internal/monitoring"
	"github.com/sells-group/pledge/internal/notify"
	"github.com/sells-group/pledge/internal/resilience"
	"github.com/sells-group/pledge/internal/store"
)

// appEnv holds the store, service and event plumbing shared by commands.
type appEnv struct {
	Store      store.Store
	Service    *accountability.Service
	Dispatcher *notify.Dispatcher
	Stats      *monitoring.Collector
}

// Close drains pending events and releases the store.
func (e *appEnv) Close() {
	if e.Dispatcher != nil {
		e.Dispatcher.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "pledge.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates config for mode, opens and migrates the store, and
// builds the service. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	policy, err := accountability.PolicyFromConfig(cfg.Policy)
	if err != nil {
		return nil, err
	}

	cat, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	d := notify.NewDispatcher(buildSinks(cfg.Notify), cfg.Notify.QueueSize, cfg.Notify.Workers,
		time.Duration(cfg.Notify.TimeoutSecs)*time.Second)

	svc := accountability.New(st, policy,
		accountability.WithCatalog(cat),
		accountability.WithPublisher(d),
	)

	return &appEnv{
		Store:      st,
		Service:    svc,
		Dispatcher: d,
		Stats:      monitoring.NewCollector(st),
	}, nil
}

func loadCatalog(c config.CatalogConfig) (*catalog.Catalog, error) {
	if c.Path == "" {
		return catalog.Default()
	}
	cat, err := catalog.Load(c.Path)
	if err != nil {
		return nil, err
	}
	zap.L().Info("loaded action catalog", zap.String("path", c.Path), zap.Int("actions", cat.Len()))
	return cat, nil
}

// buildSinks always logs events and adds a webhook per configured topic.
func buildSinks(c config.NotifyConfig) []notify.Sink {
	sinks := []notify.Sink{notify.LogSink{}}

	backoff := resilience.NewBackoff(c.MaxAttempts, c.InitialBackoffMs, c.MaxBackoffMs)
	timeout := time.Duration(c.TimeoutSecs) * time.Second
	reset := time.Duration(c.BreakerResetSecs) * time.Second

	if c.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(c.WebhookURL, notify.TopicNotification, timeout, backoff,
			resilience.NewBreaker("notify.notification", c.BreakerThreshold, reset)))
	}
	if c.OutcomeWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(c.OutcomeWebhookURL, notify.TopicOutcome, timeout, backoff,
			resilience.NewBreaker("notify.outcome", c.BreakerThreshold, reset)))
	}
	return sinks
}
