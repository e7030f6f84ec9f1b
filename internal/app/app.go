// Package app wires configuration, storage and services into a runnable server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"FuelSOS/internal/calls"
	"FuelSOS/internal/dispatch"
	"FuelSOS/internal/fanout"
	"FuelSOS/internal/geo"
	handlers "FuelSOS/internal/handler"
	"FuelSOS/internal/ledger"
	"FuelSOS/internal/lifecycle"
	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/pkg/backup"
	"FuelSOS/pkg/cache"
	"FuelSOS/pkg/config"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/errors"
	"FuelSOS/pkg/logger"
	"FuelSOS/pkg/metrics"
	"FuelSOS/pkg/middleware"
	"FuelSOS/pkg/scheduler"
	"FuelSOS/pkg/sse"
	"FuelSOS/pkg/storage"
	"FuelSOS/pkg/util"
	"FuelSOS/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Store     *store.Store
	Engine    *dispatch.Engine
	Lifecycle *lifecycle.Service
	Calls     *calls.Service
	Tracker   *dispatch.Tracker
	Router    *gin.Engine

	cfg      *config.Config
	db       *gorm.DB
	cache    cache.Cache
	registry *prometheus.Registry
	hub      *websocket.Hub
	events   *sse.Hub
	index    *geo.IndexDirectory
	cron     *scheduler.Cron
	server   *http.Server
}

// Open initialises logging, opens and migrates the database, then builds the app.
func Open(cfg *config.Config) (*App, error) {
	if err := logger.Init(cfg.Log, cfg.Mode); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return Build(cfg, db)
}

// Migrate brings the schema up to date without starting anything.
func Migrate(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	return nil
}

// Backup writes one backup of the configured database into dir, or into
// BackupPath when dir is empty.
func Backup(ctx context.Context, cfg *config.Config, dir string) (string, error) {
	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if dir == "" {
		dir = cfg.BackupPath
	}
	up, err := backupUploader(cfg)
	if err != nil {
		return "", err
	}
	return backup.Ship(ctx, db, cfg.DBDriver, cfg.DSN, dir, up)
}

func backupUploader(cfg *config.Config) (backup.Uploader, error) {
	if !cfg.BackupStore.Enabled() {
		return nil, nil
	}
	up, err := storage.NewMinioStore(cfg.BackupStore)
	if err != nil {
		return nil, fmt.Errorf("backup storage: %w", err)
	}
	return up, nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Build wires every component on an open, migrated database.
func Build(cfg *config.Config, db *gorm.DB) (*App, error) {
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	st := store.New(db)
	hub := websocket.NewHub(websocket.LoadConfigFromEnv())
	events := sse.NewHub(0)
	notifier := fanout.NewNotifier(fanout.Mirror{Transport: hub, Sinks: []fanout.GroupSink{events}}, st, m)

	var (
		dir   geo.Directory = geo.NewStoreDirectory(st)
		index *geo.IndexDirectory
	)
	if cfg.GeoIndex == "bleve" {
		index, err = geo.NewIndexDirectory(st)
		if err != nil {
			return nil, fmt.Errorf("attendant index: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = index.Rebuild(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("attendant index: %w", err)
		}
		dir = index
	}
	finder := geo.NewFinder(dir)

	locks := util.NewKeyedMutex()
	announce := &lifecycle.Announcer{Snapshots: lifecycle.NewSnapshots(c, 0), Publisher: notifier}
	l := ledger.New(st, locks, geo.NewETAEstimator(cfg.Dispatch.AverageSpeedKmh), announce, m, cfg.Dispatch.AcceptWindow)
	engine := dispatch.NewEngine(st, finder, l, notifier, m, dispatch.Config{
		RadiusKm:          cfg.Dispatch.RadiusKm,
		EmergencyRadiusKm: cfg.Dispatch.EmergencyRadiusKm,
		MaxOffers:         cfg.Dispatch.EmergencyMaxCandidates,
	})

	var issuer calls.TokenIssuer
	if cfg.Calls.TokenSecret != "" {
		issuer = calls.NewJWTIssuer(cfg.Calls.TokenSecret, cfg.Calls.TokenTTL)
	}

	a := &App{
		Store:     st,
		Engine:    engine,
		Lifecycle: lifecycle.NewService(st, locks, l, announce, notifier, m),
		Calls:     calls.NewService(st, notifier, finder, issuer, m, calls.Options{ICEServers: cfg.Calls.ICEServers}),
		Tracker:   dispatch.NewTracker(st, index, notifier),
		cfg:       cfg,
		db:        db,
		cache:     c,
		registry:  reg,
		hub:       hub,
		events:    events,
		index:     index,
		cron:      scheduler.NewCron(time.UTC),
	}
	hub.SetHooks(websocket.Hooks{
		CanJoinRequest: a.canJoinRequest,
		OnLocation:     a.onLocation,
	})
	if _, err := a.cron.Add(cfg.Dispatch.SweepSpec, engine.ExpiryJob()); err != nil {
		return nil, fmt.Errorf("expiry sweep %q: %w", cfg.Dispatch.SweepSpec, err)
	}
	if cfg.BackupSchedule != "" {
		up, err := backupUploader(cfg)
		if err != nil {
			return nil, err
		}
		if _, err := a.cron.Add(cfg.BackupSchedule, backup.Job(db, cfg.DBDriver, cfg.DSN, cfg.BackupPath, up)); err != nil {
			return nil, fmt.Errorf("backup schedule %q: %w", cfg.BackupSchedule, err)
		}
	}
	a.Router = a.router(m)
	a.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) router(m *metrics.Metrics) *gin.Engine {
	if a.cfg.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		gin.Recovery(),
		metrics.MonitorMiddleware(m),
		middleware.Identity(a.cfg.AuthSecret, a.cfg.AllowHeaderIdentity),
	)

	handlers.NewHandlers(handlers.Deps{
		Store:     a.Store,
		Engine:    a.Engine,
		Lifecycle: a.Lifecycle,
		Tracker:   a.Tracker,
		Calls:     a.Calls,
		Hub:       a.hub,
		Events:    a.events,
		Gatherer:  a.registry,
		APIPrefix: a.cfg.APIPrefix,
		RateLimit: middleware.RateLimit(middleware.RateLimiterConfig{
			Limit:    a.cfg.RateLimit,
			Period:   a.cfg.RateLimitPeriod,
			Registry: a.registry,
		}),
		Idempotency: middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{
			Store: middleware.CacheIdemStore{Cache: a.cache},
		}),
		SyncSecret: a.cfg.DirectorySyncSecret,
	}).Register(r)
	return r
}

// canJoinRequest admits the requester, the bound attendant and attendants
// holding an open offer to a request's rooms.
func (a *App) canJoinRequest(userID, requestID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, ok, err := a.Lifecycle.CanWatch(ctx, requestID, userID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		logger.Warn("room access check failed", zap.String("request_id", requestID), zap.Error(err))
	}
	return ok && err == nil
}

func (a *App) onLocation(userID, userType string, latitude, longitude float64) {
	if userType != constant.UserTypeAttendant {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.Tracker.Move(ctx, userID, models.Location{Latitude: latitude, Longitude: longitude}); err != nil {
		logger.Warn("attendant location update failed", zap.String("attendant_id", userID), zap.Error(err))
	}
}

// Run serves HTTP and runs the expiry sweep until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.cron.Start()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", a.cfg.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

// Close releases everything Build acquired.
func (a *App) Close() error {
	a.cron.Stop()
	a.events.Close()
	a.hub.Close()
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			logger.Warn("close attendant index", zap.Error(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		logger.Warn("close cache", zap.Error(err))
	}
	defer logger.Sync()
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
