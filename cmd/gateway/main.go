package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"apikey-gateway/config"
	"apikey-gateway/gateway"
	"apikey-gateway/logging"
	"apikey-gateway/middleware/ratelimit"
	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/domain"
	"apikey-gateway/middleware/ratelimit/infra"
	"apikey-gateway/proxy"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// .env é opcional; variáveis já exportadas têm precedência
	_ = godotenv.Load()

	env, err := readEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(env.appEnv, env.logLevel, env.logFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(env, logger); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(env envConfig, logger *zap.Logger) error {
	gw, err := config.Load(env.gatewayConfig)
	if err != nil {
		return err
	}
	target := gw.UpstreamURL()
	if env.upstreamURL != "" {
		target, err = url.Parse(env.upstreamURL)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return fmt.Errorf("invalid UPSTREAM_URL %q", env.upstreamURL)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	registry := infra.NewRegistry(ratelimit.DefaultAPIPrefix, gw.APIKeys, gw.DomainPlans(), gw.DomainRouteClasses())
	store := infra.NewWindowStore(
		infra.WithShards(env.counterShards),
		infra.WithCleanupEvery(env.sweepEvery),
	)
	memStats := infra.NewMemoryStatsStore()

	var stats domain.StatsStore = memStats
	var adminStats domain.StatsReader = memStats
	if env.redisEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     env.redisAddr,
			Password: env.redisPassword,
			DB:       env.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return fmt.Errorf("redis stats ping: %w", err)
		}

		redisStats := infra.NewRedisStatsStore(rdb, infra.WithStatsPrefix(env.statsPrefix))
		mirror := infra.NewAsyncStatsStore(redisStats, env.statsBuffer, logger.Named("stats"))
		g.Go(func() error { return mirror.Run(ctx) })
		stats = infra.TeeStatsStore{memStats, mirror}
		if env.adminStatsSource == "redis" {
			adminStats = redisStats.Reader(2*time.Second, memStats, logger.Named("stats"))
		}
	}

	fwd, err := proxy.New(proxy.Options{
		Upstream:     target,
		StripPrefix:  ratelimit.DefaultAPIPrefix,
		Timeout:      env.upstreamTimeout,
		Logger:       logger.Named("proxy"),
		OwnedHeaders: ratelimit.ResponseHeaders,
	})
	if err != nil {
		return err
	}

	router := gateway.NewRouter(gateway.Config{
		Admission: application.AdmissionService{
			Registry: registry,
			Limiter:  store,
			Stats:    stats,
		},
		Forwarder: fwd,
		Stats:     adminStats,
		Concurrency: ratelimit.ConcurrencyOptions{
			Max:            env.concurrencyMax,
			AcquireTimeout: env.concurrencyTimeout,
		},
		AccessLog: env.accessLog,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              env.listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	g.Go(func() error {
		return store.RunJanitor(ctx, func(removed int) {
			if removed > 0 {
				logger.Debug("counter sweep", zap.Int("removed", removed), zap.Int("live", store.Len()))
			}
		})
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	logger.Info("gateway listening",
		zap.String("addr", env.listenAddr),
		zap.Stringer("upstream", fwd),
		zap.Int("api_keys", len(gw.APIKeys)),
		zap.Int("plans", len(gw.Plans)),
	)
	logger.Info("concurrency",
		zap.Int("max", env.concurrencyMax),
		zap.Duration("acquire_timeout", env.concurrencyTimeout),
	)
	logger.Info("rate-stats",
		zap.Bool("redis", env.redisEnabled),
		zap.String("redis_addr", env.redisAddr),
		zap.String("prefix", env.statsPrefix),
		zap.String("admin_source", env.adminStatsSource),
	)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("gateway stopped", zap.Int("live_counters", store.Len()))
	return err
}

type envConfig struct {
	listenAddr         string
	gatewayConfig      string
	upstreamURL        string
	upstreamTimeout    time.Duration
	concurrencyMax     int
	concurrencyTimeout time.Duration
	sweepEvery         time.Duration
	counterShards      int
	accessLog          bool

	appEnv    string
	logLevel  string
	logFormat string

	redisEnabled  bool
	redisAddr     string
	redisPassword string
	redisDB       int
	statsPrefix   string
	statsBuffer   int

	adminStatsSource string
}

func readEnv() (envConfig, error) {
	cfg := envConfig{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.gatewayConfig = getenvDefault("GATEWAY_CONFIG", "gateway.yaml")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.upstreamTimeout = getenvDurationDefault("UPSTREAM_TIMEOUT", 30*time.Second)
	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)
	cfg.sweepEvery = getenvDurationDefault("COUNTER_SWEEP_EVERY", time.Minute)
	cfg.counterShards = getenvIntDefault("COUNTER_SHARDS", 64)
	cfg.accessLog = getenvBoolDefault("ACCESS_LOG", true)

	cfg.appEnv = getenvDefault("APP_ENV", "development")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logFormat = getenvDefault("LOG_FORMAT", "console")

	cfg.redisEnabled = getenvBoolDefault("RATE_STATS_REDIS_ENABLED", false)
	cfg.redisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.redisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("RATE_STATS_REDIS_DB", 0)
	cfg.statsPrefix = getenvDefault("RATE_STATS_PREFIX", "gateway:stats")
	cfg.statsBuffer = getenvIntDefault("RATE_STATS_BUFFER", 1024)
	cfg.adminStatsSource = strings.ToLower(getenvDefault("RATE_STATS_ADMIN_SOURCE", "memory"))

	if cfg.redisEnabled && strings.TrimSpace(cfg.redisAddr) == "" {
		return envConfig{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_REDIS_ENABLED=true")
	}
	switch cfg.adminStatsSource {
	case "memory":
	case "redis":
		if !cfg.redisEnabled {
			return envConfig{}, errors.New("RATE_STATS_ADMIN_SOURCE=redis requires RATE_STATS_REDIS_ENABLED=true")
		}
	default:
		return envConfig{}, fmt.Errorf("RATE_STATS_ADMIN_SOURCE must be memory or redis, got %q", cfg.adminStatsSource)
	}
	if cfg.concurrencyMax < 0 {
		return envConfig{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.counterShards <= 0 {
		return envConfig{}, errors.New("COUNTER_SHARDS must be > 0")
	}
	if cfg.sweepEvery <= 0 {
		return envConfig{}, errors.New("COUNTER_SWEEP_EVERY must be > 0")
	}
	if cfg.statsBuffer <= 0 {
		return envConfig{}, errors.New("RATE_STATS_BUFFER must be > 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
