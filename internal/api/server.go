package api

import (
    "os"

    "hookgate/internal/auth"
    "hookgate/internal/config"
    "hookgate/internal/metrics"
    "hookgate/internal/store"
    "hookgate/internal/webhook"
)

type Server struct {
    Store      store.Store
    Auth       *auth.Verifier
    Broker     EventBroker
    Registry   *webhook.Registry
    Dispatcher *webhook.Dispatcher
    Recorder   *webhook.Recorder
    Cfg        config.Config
}

// NewServer wires the engine. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
    cfg, err := config.Load()
    if err != nil {
        return nil, err
    }
    var st store.Store
    if cfg.DatabaseURL == "" {
        st = store.NewMemory()
    } else {
        pg, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if os.Getenv("DB_MIGRATE") != "false" {
            _ = pg.MigrateDir("db/migrations")
        }
        st = pg
    }
    var broker EventBroker
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }

    reg := webhook.NewRegistry(cfg.ServiceName, st)
    disp := webhook.NewDispatcher(reg, engineConfig(cfg.Engine))
    disp.Enabled = cfg.Engine.IsEnabled()
    disp.Publisher = BrokerPublisher{Broker: broker}
    disp.Breakers.OnTransition = func(url, to string) {
        metrics.BreakerTransitions.WithLabelValues(to).Inc()
    }

    return &Server{
        Store:      st,
        Auth:       auth.NewVerifierFromEnv(),
        Broker:     broker,
        Registry:   reg,
        Dispatcher: disp,
        Recorder:   webhook.NewRecorder(cfg.ServiceName, st),
        Cfg:        cfg,
    }, nil
}

func engineConfig(e config.Engine) webhook.DispatcherConfig {
    return webhook.DispatcherConfig{
        UserAgent:              e.UserAgent,
        DefaultTimeout:         e.Timeout(),
        DefaultMaxRetries:      e.MaxRetries,
        MaxConsecutiveFailures: e.MaxConsecutiveFailures,
        RetryBaseDelay:         e.RetryBaseDelay(),
        RetryMaxDelay:          e.RetryMaxDelay(),
        RetryJitter:            e.RetryJitter,
        Breaker: webhook.BreakerConfig{
            FailureThreshold: e.BreakerFailures,
            ResetTimeout:     e.BreakerReset(),
            MonitoringWindow: e.BreakerWindow(),
        },
        EndpointRatePerSec: e.EndpointRatePerSec,
        EndpointRateBurst:  e.EndpointRateBurst,
    }
}
