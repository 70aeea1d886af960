package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
	"github.com/rextempo/LiqPro-AI-sub007/internal/collab"
	"github.com/rextempo/LiqPro-AI-sub007/internal/cruise"
	"github.com/rextempo/LiqPro-AI-sub007/internal/notify"
	"github.com/rextempo/LiqPro-AI-sub007/internal/optimizer"
	"github.com/rextempo/LiqPro-AI-sub007/internal/store"
	"github.com/rextempo/LiqPro-AI-sub007/pkg/config"
)

func main() {
	// --- Config ---
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	initLogger(cfg.Log.Level)
	slog.Info("config loaded", "port", cfg.Server.Port, "store", cfg.Store.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Redis ---
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to ping redis", "error", err)
		os.Exit(1)
	}
	slog.Info("redis connected")

	// --- State store ---
	var snapStore cruise.SnapshotStore
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			slog.Error("failed to create db pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate agent state table", "error", err)
			os.Exit(1)
		}
		snapStore = pg
		slog.Info("database connected")
	case "memory":
		snapStore = store.NewMemory()
	default:
		snapStore = store.NewRedis(rdb)
	}

	// --- Collaborators ---
	timeout := cfg.Cruise.CollaboratorTimeout.Std()
	fundsGuard := collab.NewGuard(collab.GuardConfig{Name: "funds", AttemptTimeout: timeout})
	riskGuard := collab.NewGuard(collab.GuardConfig{Name: "risk", AttemptTimeout: timeout})
	scoringGuard := collab.NewGuard(collab.GuardConfig{
		Name:           "scoring",
		AttemptTimeout: timeout,
		RateLimit:      cfg.Cruise.ScoringRateLimit,
		Burst:          int(cfg.Cruise.ScoringRateLimit),
	})
	executorGuard := collab.NewGuard(collab.GuardConfig{Name: "executor", AttemptTimeout: timeout})

	funds := collab.NewFundsClient(cfg.Collaborators.FundsURL, fundsGuard)
	risk := collab.NewRiskClient(cfg.Collaborators.RiskURL, riskGuard)
	scoring := collab.NewScoringClient(cfg.Collaborators.ScoringURL, scoringGuard)
	executor := collab.NewExecutorClient(cfg.Collaborators.ExecutorURL, executorGuard)

	// --- Optimizer ---
	opt, err := optimizer.New(scoring, optimizer.Policy{
		MinImprovement:   cfg.Cruise.MinImprovement,
		PriceCacheTTL:    cfg.Cruise.PriceCacheTTL.Std(),
		MaxAddCandidates: optimizer.DefaultPolicy().MaxAddCandidates,
	})
	if err != nil {
		slog.Error("failed to create optimizer", "error", err)
		os.Exit(1)
	}

	// --- Scheduler ---
	metrics := cruise.NewMetrics(prometheus.DefaultRegisterer)
	publisher := notify.NewPublisher(rdb, "")
	sched := cruise.NewScheduler(cruise.Config{
		TickInterval:   cfg.Cruise.TickInterval.Std(),
		WorkerPoolSize: cfg.Cruise.WorkerPoolSize,
		ShutdownGrace:  cfg.Cruise.ShutdownGrace.Std(),
		Policy:         policyFromConfig(cfg),
	}, cruise.Deps{
		Store:     snapStore,
		Funds:     funds,
		Risk:      risk,
		Planner:   opt,
		Executor:  executor,
		Metrics:   metrics,
		Listeners: []agent.StateChangeListener{publisher.Listener()},
	})

	if err := sched.Restore(ctx); err != nil {
		slog.Error("failed to restore agents", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)

	go watchBreakers(ctx, metrics, fundsGuard, riskGuard, scoringGuard, executorGuard)

	// --- Router ---
	r := newRouter(sched)

	// --- HTTP Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		sched.Stop()
		cancel()
	}()

	slog.Info("server starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func newRouter(sched *cruise.Scheduler) *chi.Mux {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Cruise Control API
	r.Mount("/cruise", cruise.NewHandler(sched).Routes())

	return r
}

func policyFromConfig(cfg *config.Config) agent.Policy {
	return agent.Policy{
		MediumRiskPause:       cfg.Cruise.MediumRiskPause.Std(),
		HighRiskPause:         cfg.Cruise.HighRiskPause.Std(),
		StateTimeout:          cfg.Cruise.StateTimeout.Std(),
		RecoveryConfirmWindow: cfg.Cruise.RecoveryConfirmWindow.Std(),
		MaxRecoveryAttempts:   cfg.Cruise.MaxRecoveryAttempts,
		HistoryCapacity:       cfg.Cruise.HistoryCapacity,
	}
}

// watchBreakers mirrors the collaborator circuit-breaker states into the
// Prometheus gauge every few seconds.
func watchBreakers(ctx context.Context, metrics *cruise.Metrics, guards ...*collab.Guard) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, g := range guards {
				var v float64
				switch g.BreakerState() {
				case gobreaker.StateHalfOpen:
					v = 1
				case gobreaker.StateOpen:
					v = 2
				}
				metrics.BreakerState.WithLabelValues(g.Name()).Set(v)
			}
		}
	}
}

func initLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
