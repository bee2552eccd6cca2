// Command licl runs the Learning Intelligence Control Layer HTTP server:
// the five-stage ingestion-through-decision pipeline behind the /v1 REST
// surface. Single binary, env-configured, signal-driven shutdown; there is
// no multi-command dispatch, just the server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/meridianlabs/licl/pkg/authmw"
	"github.com/meridianlabs/licl/pkg/config"
	"github.com/meridianlabs/licl/pkg/decision"
	"github.com/meridianlabs/licl/pkg/decisionstore"
	"github.com/meridianlabs/licl/pkg/httpapi"
	"github.com/meridianlabs/licl/pkg/idempotency"
	"github.com/meridianlabs/licl/pkg/orchestrator"
	"github.com/meridianlabs/licl/pkg/policy"
	"github.com/meridianlabs/licl/pkg/ratelimit"
	"github.com/meridianlabs/licl/pkg/signallog"
	"github.com/meridianlabs/licl/pkg/state"
	"github.com/meridianlabs/licl/pkg/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadWithOverlay()
	if err != nil {
		slog.Error("licl: config load failed", "error", err)
		return 1
	}
	configureLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("licl: bootstrap failed", "error", err)
		return 1
	}
	defer app.Close(context.Background())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: app.Handler()}

	go func() {
		slog.Info("licl: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("licl: server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("licl: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("licl: graceful shutdown failed", "error", err)
		return 1
	}
	slog.Info("licl: stopped cleanly")
	return 0
}

func configureLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// app holds every process-wide resource main wires together, so Close can
// release them in reverse order of acquisition.
type app struct {
	dbs       []*sql.DB
	redis     *redis.Client
	telemetry *telemetry.Provider
	limiter   *ratelimit.Limiter
	server    *httpapi.Server
	authMode  string
	jwtKey    string
}

func (a *app) Handler() http.Handler {
	var h http.Handler = a.server.Router()
	if a.limiter != nil {
		h = wrapQueryRoutes(h, a.limiter)
	}
	if a.authMode == "jwt" {
		h = authmw.Middleware(a.jwtKey)(h)
	}
	return requestLogger(h)
}

// wrapQueryRoutes applies the rate limiter only to the two paginated GET
// query routes, leaving ingestion and health unthrottled.
func wrapQueryRoutes(next http.Handler, limiter *ratelimit.Limiter) http.Handler {
	limited := limiter.Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && (r.URL.Path == "/v1/signals" || r.URL.Path == "/v1/decisions") {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("request",
			"method", r.Method, "path", r.URL.Path, "org_id", r.URL.Query().Get("org_id"),
			"status", sw.status, "latency_ms", time.Since(start).Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (a *app) Close(ctx context.Context) {
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			slog.Error("licl: telemetry shutdown failed", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("licl: redis close failed", "error", err)
		}
	}
	for i := len(a.dbs) - 1; i >= 0; i-- {
		if err := a.dbs[i].Close(); err != nil {
			slog.Error("licl: db close failed", "error", err)
		}
	}
}

// bootstrap wires every pipeline component: storage engines, the
// idempotency backend, the policy cache, telemetry, and the HTTP surface.
// Any failure here is fatal — a process that cannot load its policy or
// open its stores exits 1 rather than serving partially.
func bootstrap(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{authMode: authModeFromConfig(cfg), jwtKey: cfg.JWTSigningKey}

	signals, stateStore, decisions, err := openStores(cfg, a)
	if err != nil {
		return nil, err
	}

	idx, err := openIdempotency(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	policyBytes, err := os.ReadFile(cfg.DecisionPolicyPath)
	if err != nil {
		return nil, fmt.Errorf("read policy file %q: %w", cfg.DecisionPolicyPath, err)
	}
	pol, err := policy.Load(policyBytes)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	hash, err := pol.IntegrityHash()
	if err != nil {
		return nil, fmt.Errorf("compute policy integrity hash: %w", err)
	}
	slog.Info("licl: policy loaded",
		"policy_id", pol.Definition().PolicyID, "policy_version", pol.Definition().PolicyVersion, "integrity_hash", hash)

	telProvider, err := telemetry.New(ctx, telemetry.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.telemetry = telProvider

	stateEngine := state.NewEngine(signals, stateStore)
	decisionEngine := decision.NewEngine(decision.AdaptStateEngine(stateEngine), decisions, pol, telProvider)
	orch := orchestrator.New(idx, signals, stateEngine, decisionEngine, telProvider)
	a.server = httpapi.New(orch, signals, decisions, httpapi.HealthInfo{
		PolicyHash:    hash,
		StorageDriver: cfg.StorageDriver,
		StartedAt:     time.Now(),
	})

	if cfg.RateLimitEnabled {
		a.limiter = ratelimit.New(cfg.RateLimitRPS, int(cfg.RateLimitRPS)+1)
	}

	return a, nil
}

func authModeFromConfig(cfg *config.Config) string {
	if cfg.AuthEnabled {
		return "jwt"
	}
	return "none"
}

// openStores opens the Signal Log, STATE Store, and Decision Store backed
// by whichever engine cfg.StorageDriver selects, registering every opened
// *sql.DB on app.dbs so Close releases them in acquisition order reversed.
func openStores(cfg *config.Config, a *app) (signallog.Store, state.Store, decisionstore.Store, error) {
	if cfg.StorageDriver == "postgres" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		a.dbs = append(a.dbs, db)

		signals, err := signallog.NewPostgresStore(db)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init signal log: %w", err)
		}
		stateStore, err := state.NewPostgresStore(db)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init state store: %w", err)
		}
		decisions, err := decisionstore.NewPostgresStore(db)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init decision store: %w", err)
		}
		return signals, stateStore, decisions, nil
	}

	signalDB, err := sql.Open("sqlite", cfg.SignalLogDBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open signal log sqlite: %w", err)
	}
	a.dbs = append(a.dbs, signalDB)
	signals, err := signallog.NewSQLiteStore(signalDB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init signal log: %w", err)
	}

	stateDB, err := sql.Open("sqlite", cfg.StateStoreDBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open state store sqlite: %w", err)
	}
	a.dbs = append(a.dbs, stateDB)
	stateStore, err := state.NewSQLiteStore(stateDB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init state store: %w", err)
	}

	decisionDB, err := sql.Open("sqlite", cfg.DecisionDBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open decision store sqlite: %w", err)
	}
	a.dbs = append(a.dbs, decisionDB)
	decisions, err := decisionstore.NewSQLiteStore(decisionDB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init decision store: %w", err)
	}

	return signals, stateStore, decisions, nil
}

// openIdempotency selects the idempotency index backend: Redis when
// REDIS_ADDR is configured (shareable across replicas), otherwise an
// embedded SQLite index at IDEMPOTENCY_DB_PATH.
func openIdempotency(ctx context.Context, cfg *config.Config, a *app) (idempotency.Index, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		return idempotency.NewRedisIndex(client, cfg.RedisTTL), nil
	}

	db, err := sql.Open("sqlite", cfg.IdempotencyDBPath)
	if err != nil {
		return nil, fmt.Errorf("open idempotency sqlite: %w", err)
	}
	a.dbs = append(a.dbs, db)
	idx, err := idempotency.NewSQLiteIndex(db)
	if err != nil {
		return nil, fmt.Errorf("init idempotency index: %w", err)
	}
	return idx, nil
}
