package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/redis/go-redis/v9"

	"parkinglot/parking-server/internal/config"
	"parkinglot/parking-server/internal/lock"
	"parkinglot/parking-server/internal/notify"
	"parkinglot/parking-server/internal/parking"
	"parkinglot/parking-server/internal/receipt"
	"parkinglot/parking-server/internal/store"
	"parkinglot/parking-server/internal/tariff"
)

// App wires together the parking services and manages their lifecycle.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	started time.Time

	store   *store.Store
	redis   *redis.Client
	hub     *notify.Hub
	tariffs *tariff.Table
	parking *parking.Service
	mdns    *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.open(ctx); err != nil {
		a.close()
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := a.hub.Subscribe(64)
	go a.watchRemoteChanges(ctx, events, unsubscribe)

	if a.cfg.MQTTBrokerURL != "" {
		bridge := notify.NewBridge(a.cfg.MQTTBrokerURL, a.cfg.MQTTTopicPrefix, a.cfg.InstanceID, a.hub, a.logger)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				a.logger.Error("mqtt bridge stopped; running without cross-instance sync", "error", err)
			}
		}()
	}

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement unavailable", "error", err)
		}
		defer a.stopMDNS()
	}

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr, "instance", a.cfg.InstanceID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		a.logger.Info("http server stopped")
		return nil
	case err := <-httpErrCh:
		return err
	}
}

// open brings up storage, tariffs and the session service.
func (a *App) open(ctx context.Context) error {
	a.started = time.Now()
	a.hub = notify.NewHub(a.logger)

	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	a.tariffs = tariff.New(a.store, a.hub, a.cfg.InstanceID, a.logger)
	if _, err := a.tariffs.SeedDefaults(storeCtx); err != nil {
		return fmt.Errorf("seed tariffs: %w", err)
	}

	if err := a.store.UpsertAppConfig(storeCtx, "currency", a.cfg.Currency); err != nil {
		return err
	}
	if err := a.store.UpsertAppConfig(storeCtx, "last_started_by", a.cfg.InstanceID); err != nil {
		return err
	}

	builder, err := receipt.NewBuilder(a.cfg.NodeID, nil)
	if err != nil {
		return err
	}

	var locker lock.Locker = lock.NewLocal()
	if a.cfg.RedisURL != "" {
		client, err := lock.Connect(ctx, a.cfg.RedisURL)
		if err != nil {
			return err
		}
		a.redis = client
		locker = lock.NewRedis(client, "parking", 10*time.Second, a.logger)
		a.logger.Info("using redis plate locks")
	}

	svc, err := parking.NewService(parking.Dependencies{
		Store:    a.store,
		Tariffs:  a.tariffs,
		Receipts: builder,
		Hub:      a.hub,
		Locker:   locker,
		Logger:   a.logger,
		Timeout:  a.cfg.StoreTimeout,
		Origin:   a.cfg.InstanceID,
	})
	if err != nil {
		return err
	}
	if err := svc.Reload(ctx); err != nil {
		return err
	}
	a.parking = svc

	a.logger.Info("parking service ready", "active_sessions", svc.Active(), "categories", len(a.tariffs.Snapshot()))
	return nil
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("close redis", "error", err)
		}
		a.redis = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("close store", "error", err)
		}
		a.store = nil
	}
}

// watchRemoteChanges refreshes local caches when another instance reports a
// change through the bridge.
func (a *App) watchRemoteChanges(ctx context.Context, events <-chan notify.Event, unsubscribe func()) {
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Origin == a.cfg.InstanceID {
				continue
			}
			a.applyRemoteChange(ctx, ev)
		}
	}
}

func (a *App) applyRemoteChange(ctx context.Context, ev notify.Event) {
	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	var err error
	switch ev.Kind {
	case notify.TariffsReplaced:
		err = a.tariffs.Refresh(storeCtx)
	case notify.SessionRegistered, notify.SessionSettled, notify.SessionCancelled:
		err = a.parking.Reload(storeCtx)
	default:
		return
	}

	if err != nil {
		a.logger.Error("apply remote change", "kind", ev.Kind, "origin", ev.Origin, "error", err)
		return
	}
	a.logger.Debug("applied remote change", "kind", ev.Kind, "origin", ev.Origin, "plate", ev.Plate)
}
