package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pmx/exchange-engine/internal/api"
	"github.com/pmx/exchange-engine/internal/auth"
	"github.com/pmx/exchange-engine/internal/config"
	"github.com/pmx/exchange-engine/internal/engine"
	"github.com/pmx/exchange-engine/internal/feed"
	"github.com/pmx/exchange-engine/internal/ledger"
	"github.com/pmx/exchange-engine/internal/lifecycle"
	"github.com/pmx/exchange-engine/internal/marketmaker"
	"github.com/pmx/exchange-engine/internal/metrics"
	"github.com/pmx/exchange-engine/internal/quote"
	"github.com/pmx/exchange-engine/internal/risk"
	"github.com/pmx/exchange-engine/internal/store"
)

const mmOwnerID = "market-maker"

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Ledger and seeded users ---
	lgr := ledger.New()
	if err := lgr.CreateAccount(mmOwnerID, "Market Maker", cfg.StartingCash); err != nil {
		slog.Error("failed to create market maker account", "err", err)
		os.Exit(1)
	}
	lgr.SetPrivileged(mmOwnerID)

	authn := auth.NewStatic()
	seedUsers(authn, lgr, cfg)

	// --- Engine ---
	eng := engine.New(lgr, st, engine.Config{
		MMOwnerID: mmOwnerID,
		FeeRate:   cfg.FeeRate,
	})

	// --- WebSocket feed ---
	hub := feed.NewHub()
	eng.AddListener(hub)

	// --- Market maker agent ---
	quoter, err := quote.NewQuoter(cfg.MMSpread, cfg.MMSkewPerShare, cfg.MMBaseSize, cfg.MMLevels, cfg.MMLevelStep)
	if err != nil {
		slog.Error("invalid market maker configuration", "err", err)
		os.Exit(1)
	}
	limiter := risk.NewInventoryLimiter(cfg.MMMaxPerMarket, cfg.MMMaxAggregate)
	agent := marketmaker.New(eng, quoter, limiter, cfg.MMDriftTol)
	eng.AddListener(agent)
	go agent.Run()
	defer agent.Stop()

	// Reload persisted markets now that the hub and agent are listening,
	// so the MM re-seeds liquidity on the restored OPEN markets.
	if _, err := eng.RestoreMarkets(context.Background()); err != nil {
		slog.Error("restore markets failed", "err", err)
	}

	// --- Lifecycle sweeper ---
	lc := lifecycle.NewManager(eng, cfg.SweepInterval)
	go lc.Run()
	defer lc.Stop()

	// --- HTTP router ---
	svc := api.NewService(eng, lc, agent, hub, st, authn)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"exchange-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("exchange-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down exchange-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("exchange-engine stopped")
}

// seedUsers registers tokens and funds accounts from SEED_USERS, a
// semicolon-separated list of "token:userID:username" triples with an
// optional ":admin" suffix.
func seedUsers(authn *auth.StaticAuthenticator, lgr *ledger.Ledger, cfg *config.Config) {
	if cfg.SeedUsers == "" {
		return
	}
	for _, entry := range strings.Split(cfg.SeedUsers, ";") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 3 {
			slog.Warn("skipping malformed SEED_USERS entry", "entry", entry)
			continue
		}
		role := auth.RoleUser
		if len(parts) > 3 && parts[3] == "admin" {
			role = auth.RoleAdmin
		}
		u := auth.User{ID: parts[1], Username: parts[2], Role: role}
		authn.Register(parts[0], u)
		if err := lgr.CreateAccount(u.ID, u.Username, cfg.StartingCash); err != nil {
			slog.Warn("failed to create seeded account", "user", u.ID, "err", err)
		}
	}
}
