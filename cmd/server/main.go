package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ipredict/wager-engine/internal/engine"
	"github.com/ipredict/wager-engine/internal/ledger"
	"github.com/ipredict/wager-engine/internal/metrics"
	"github.com/ipredict/wager-engine/internal/model"
	"github.com/ipredict/wager-engine/internal/risk"
	"github.com/ipredict/wager-engine/internal/store"
	"github.com/ipredict/wager-engine/internal/trade"
)

// envUint reads an unsigned integer env var, falling back to def.
func envUint(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
		slog.Warn("ignoring invalid value", "key", key, "value", v)
	}
	return def
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
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

	// --- Host ledger ---
	// The in-memory ledger stands in for the host chain; balances reset
	// on restart. TODO: settlement adapter speaking to a real RPC node.
	led := ledger.NewMemory(nil)
	slog.Warn("using in-memory ledger (balances will not persist)")

	// --- Platform bootstrap ---
	ctx := context.Background()
	if _, err := st.GetPlatform(ctx); errors.Is(err, store.ErrNotFound) {
		platform := &model.Platform{
			Authority:        os.Getenv("PLATFORM_AUTHORITY"),
			FeeRecipient:     os.Getenv("FEE_RECIPIENT"),
			PlatformFeeBps:   uint16(envUint("PLATFORM_FEE_BPS", 25)),
			DeployerFeeBps:   uint16(envUint("DEPLOYER_FEE_BPS", 25)),
			WagerCreationFee: envUint("WAGER_CREATION_FEE", engine.LamportsPerSol),
		}
		if platform.Authority == "" {
			platform.Authority = "authority"
		}
		if platform.FeeRecipient == "" {
			platform.FeeRecipient = platform.Authority
		}
		if err := st.SavePlatform(ctx, platform); err != nil {
			slog.Error("platform bootstrap failed", "err", err)
			os.Exit(1)
		}
		slog.Info("platform initialized",
			"authority", platform.Authority,
			"platform_fee_bps", platform.PlatformFeeBps,
			"deployer_fee_bps", platform.DeployerFeeBps,
		)
	} else if err != nil {
		slog.Error("platform load failed", "err", err)
		os.Exit(1)
	}

	// --- Exposure limits (zero = unlimited) ---
	limiter := risk.NewExposureLimiter(
		envUint("MAX_USER_ESCROW", 0),
		int(envUint("MAX_USER_ORDERS", 0)),
	)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Trade service ---
	tradeSvc := trade.NewService(st, led, limiter, wsHub)

	// --- HTTP router ---
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
		w.Write([]byte(`{"status":"ok","service":"wager-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time fill and lifecycle updates.
		r.Get("/ws", wsHub.HandleWS)

		// Platform.
		r.Get("/platform", tradeSvc.GetPlatform)

		// Wager lifecycle.
		r.Get("/wagers", tradeSvc.ListWagers)
		r.Post("/wagers", tradeSvc.CreateWager)
		r.Get("/wagers/{wagerID}", tradeSvc.GetWager)
		r.Post("/wagers/{wagerID}/deposit", tradeSvc.Deposit)
		r.Post("/wagers/{wagerID}/resolve", tradeSvc.Resolve)
		r.Post("/wagers/{wagerID}/claim", tradeSvc.Claim)

		// Order book.
		r.Get("/wagers/{wagerID}/book", tradeSvc.GetOrderBook)
		r.Get("/wagers/{wagerID}/fills", tradeSvc.GetFills)
		r.Post("/wagers/{wagerID}/orders", tradeSvc.PlaceOrder)
		r.Post("/wagers/{wagerID}/orders/{orderID}/cancel", tradeSvc.CancelOrder)
		r.Post("/wagers/{wagerID}/match", tradeSvc.MatchOrders)

		// Quick-buy flow.
		r.Get("/wagers/{wagerID}/quote", tradeSvc.Quote)
		r.Post("/wagers/{wagerID}/quickbuy", tradeSvc.QuickBuy)

		// Portfolio queries.
		r.Get("/portfolio/{userID}", tradeSvc.GetPortfolio)

		// Dev faucet for the in-memory ledger.
		r.Post("/faucet", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Account string `json:"account"`
				Amount  uint64 `json:"amount"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			led.Fund(ledger.AccountID(req.Account), req.Amount)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]uint64{
				"balance": led.CollateralBalance(ledger.AccountID(req.Account)),
			})
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wager-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wager-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("wager-engine stopped")
}
