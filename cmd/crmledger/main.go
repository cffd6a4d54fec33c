package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"

	crmhttp "github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/http"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/memory"
	crmnats "github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/nats"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/natskv"
	crmotel "github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/otel"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/postgres"
	crmredis "github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/redis"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/ristretto"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/tiered"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/ws"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/config"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/logger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/middleware"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/accounting"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/cache"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/database"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/lock"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/messagequeue"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/secrets"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath)

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Secrets ---
	vault, err := secrets.NewVault(credentialLoader(cfg.Secrets))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	secret, err := vault.Require(cfg.Secrets.CredentialKeyEnv)
	if err != nil {
		return fmt.Errorf("credential secret: %w", err)
	}
	key, err := bookkeeping.DeriveKey(secret)
	if err != nil {
		return fmt.Errorf("credential key: %w", err)
	}
	slog.Info("secrets loaded", "keys", vault.Keys())

	// --- Provider catalog ---
	catalog := bookkeeping.Catalog()
	if err := accounting.VerifyCatalog(catalog.IDs()); err != nil {
		return fmt.Errorf("provider catalog: %w", err)
	}

	// --- Observability ---
	shutdownOTEL, err := crmotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := crmotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	checks := map[string]crmhttp.HealthCheck{}

	// --- Store ---
	var store database.Store
	switch cfg.Store.Driver {
	case "memory":
		store = memory.New()
		slog.Warn("using in-memory store; data is lost on restart")
	default:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")

		pg := postgres.NewStore(pool)
		checks["postgres"] = pg.Ping
		store = pg
	}

	// --- NATS (optional) ---
	var (
		queue messagequeue.Queue
		nq    *crmnats.Queue
	)
	if cfg.NATS.URL != "" {
		nq, err = crmnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := nq.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		queue = nq
		checks["nats"] = func(context.Context) error {
			if !nq.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	// --- Caches ---
	profileCache, err := newCache(ctx, "profile", nq, cfg.Cache.L1MaxSizeMB, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("profile cache: %w", err)
	}
	idemCache, err := newCache(ctx, "idempotency", nq, 16, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency cache: %w", err)
	}

	// --- Scheduler lock ---
	var locker lock.Locker = memory.NewLocker()
	if cfg.Redis.Addr != "" {
		rdb, err := crmredis.Connect(ctx, cfg.Redis, 10*time.Second)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		locker = crmredis.NewLocker(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		slog.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// --- Services ---
	connSvc := service.NewConnectionService(store, catalog, key)

	syncSvc := service.NewSyncService(store, connSvc, queue, cfg.Sync, cfg.Breaker)
	syncSvc.SetLocker(locker)
	syncSvc.SetMetrics(metrics)

	profileSvc := service.NewProfileService(store, profileCache, cfg.Cache.L2TTL, queue)
	profileSvc.SetMetrics(metrics)

	hub := ws.NewHub(profileSvc, originPatterns(cfg.Server.CORSOrigin))
	syncSvc.SetBroadcaster(hub)

	cancelPayments, err := profileSvc.StartPaymentSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("payment subscriber: %w", err)
	}
	defer cancelPayments()

	profileSvc.StartSweep(ctx, cfg.Ledger.SweepInterval)
	syncSvc.StartScheduler(ctx)

	// --- HTTP ---
	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	handlers := &crmhttp.Handlers{
		Connections: connSvc,
		Sync:        syncSvc,
		Profiles:    profileSvc,
		Checks:      checks,
		Version:     version,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(crmhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(crmhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(crmhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(crmotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	// WebSocket endpoint, outside the request timeout
	r.Get("/ws", hub.HandleWS)

	// API routes
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		r.Use(limiter.Handler)
		crmhttp.MountRoutes(r, handlers, middleware.Idempotency(idemCache, cfg.Idempotency.TTL))
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SIGHUP reloads config and secrets; the rest are applied on restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := holder.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			} else {
				slog.Info("config reloaded", "log_level", holder.Get().Logging.Level)
			}
			if err := vault.Reload(); err != nil {
				slog.Error("secrets reload failed", "error", err)
			} else {
				slog.Info("secrets reloaded", "keys", vault.Keys())
			}
		}
	}()

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			done <- syscall.SIGTERM
		}
	}()

	<-done
	slog.Info("shutting down server")
	signal.Stop(hup)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// credentialLoader reads the credential secret from the optional secrets
// file, overridden by the environment.
func credentialLoader(cfg config.Secrets) secrets.Loader {
	env := secrets.EnvLoader(cfg.CredentialKeyEnv)
	if cfg.File == "" {
		return env
	}
	return secrets.Chain(secrets.FileLoader(cfg.File), env)
}

// newCache builds a ristretto cache, tiered over a NATS KV bucket when NATS
// is connected and bucket is set. L1 hit rates are exported as metrics.
func newCache(ctx context.Context, name string, nq *crmnats.Queue, l1MB int64, bucket string, ttl time.Duration) (cache.Cache, error) {
	l1, err := ristretto.New(max(1, l1MB) << 20)
	if err != nil {
		return nil, err
	}
	if err := crmotel.ObserveCache(otel.GetMeterProvider(), name, l1.Stats); err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}
	if nq == nil || bucket == "" {
		return l1, nil
	}
	kv, err := nq.KeyValue(ctx, bucket, ttl)
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", bucket, err)
	}
	return tiered.New(l1, natskv.New(kv), ttl), nil
}

func originPatterns(corsOrigin string) []string {
	if corsOrigin == "" || corsOrigin == "*" {
		return nil
	}
	return []string{corsOrigin}
}
