// Package app wires the pairgate runtime: config, logging, metrics, stores,
// the onboarding and whitelist services, and the revocation event subscriber.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pairgate/internal/authority"
	"pairgate/internal/events"
	"pairgate/internal/filtering"
	"pairgate/internal/gatewayapi"
	"pairgate/internal/onboarding"
	"pairgate/internal/whitelist"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// App owns the HTTP server and the background tasks around the session table.
type App struct {
	cfg     Config
	log     Logger
	metrics *Metrics

	dbPool    *pgxpool.Pool
	dbEnabled bool

	sessions  *onboarding.Service
	whitelist *whitelist.Service
	gateway   *gatewayapi.Handler

	// nil in degraded mode (no authority token).
	subscriber *events.Subscriber
}

// New constructs a fully wired App from config.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	metrics := NewMetrics()

	sessionStore, whitelistStore, dbPool, dbEnabled, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	var mint onboarding.Minter
	if cfg.AuthorityToken != "" {
		client, err := authority.NewClient(cfg.AuthorityToken, authority.WithBaseURL(cfg.AuthorityBaseURL))
		if err != nil {
			return nil, err
		}
		mint = client
	} else {
		// Degraded mode: the process still serves init, status polling, and
		// explicit revocation, but cannot mint credentials or receive
		// revocation events.
		log.Error("authority.token.missing",
			"effect", "approvals and event-driven revocation unavailable")
	}

	sessions, err := onboarding.NewService(log, sessionStore, mint,
		onboarding.WithPendingTTL(cfg.PendingTTL),
		onboarding.WithLabelPrefix(cfg.LabelPrefix),
	)
	if err != nil {
		return nil, err
	}

	var syncer whitelist.Syncer
	if cfg.FilterURL != "" {
		client, err := filtering.NewClient(cfg.FilterURL, cfg.FilterUser, cfg.FilterPass)
		if err != nil {
			return nil, err
		}
		syncer = client
	} else {
		log.Info("filtering.disabled", "reason", "no filter URL configured")
	}

	wl, err := whitelist.NewService(log, whitelistStore, syncer)
	if err != nil {
		return nil, err
	}

	gateway, err := gatewayapi.NewHandler(log, sessions, wl,
		gatewayapi.WithObserver(metrics.ObserveEvent),
	)
	if err != nil {
		return nil, err
	}

	var subscriber *events.Subscriber
	if cfg.AuthorityToken != "" {
		dial := events.NewWebsocketDialer(cfg.EventsURL(), cfg.AuthorityToken)
		subscriber = events.NewSubscriber(log, sessions, dial,
			events.WithTopic(cfg.EventTopic),
			events.WithBackoff(cfg.ReconnectBackoff),
			events.WithReconnectHook(metrics.ObserveReconnect),
		)
	}

	return &App{
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		dbPool:     dbPool,
		dbEnabled:  dbEnabled,
		sessions:   sessions,
		whitelist:  wl,
		gateway:    gateway,
		subscriber: subscriber,
	}, nil
}

// Run loads persisted state, starts the HTTP server, the expiry sweeper, and
// the event subscriber, and blocks until ctx cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	if err := a.sessions.Load(ctx); err != nil {
		return err
	}
	if err := a.whitelist.Load(ctx); err != nil {
		return err
	}
	// Reconcile the filtering service with the loaded list; failures are
	// advisory and will be retried on the next mutation.
	_ = a.whitelist.Resync(ctx)

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.gateway)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log, a.metrics)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"degraded", a.subscriber == nil,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.sweepLoop(gctx)
		return nil
	})

	if a.subscriber != nil {
		g.Go(func() error {
			// Run only returns once gctx ends; that is a clean stop, not a
			// task failure.
			if err := a.subscriber.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	// Shut the server down when the group context ends, whether from the
	// parent signal context or a fatal task error.
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
		if a.dbPool != nil {
			a.dbPool.Close()
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		a.log.Error("server.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// sweepLoop periodically deletes pending sessions past their TTL.
func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.ExpireStale(ctx); n > 0 {
				a.log.Info("onboarding.sweep", "expired", n)
			}
		}
	}
}

// newStores selects Postgres-backed or file-backed persistence.
func newStores(ctx context.Context, cfg Config, log Logger) (onboarding.StateStore, whitelist.StateStore, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.file_store",
			"sessions", cfg.SessionsFile,
			"whitelist", cfg.WhitelistFile,
		)
		sessions, err := onboarding.NewFileStore(cfg.SessionsFile)
		if err != nil {
			return nil, nil, nil, false, err
		}
		wl, err := whitelist.NewFileStore(cfg.WhitelistFile)
		if err != nil {
			return nil, nil, nil, false, err
		}
		return sessions, wl, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, false, err
	}
	log.Info("db.enabled.postgres_store")

	sessions, err := onboarding.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, false, err
	}
	wl, err := whitelist.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, false, err
	}
	return sessions, wl, pool, true, nil
}
