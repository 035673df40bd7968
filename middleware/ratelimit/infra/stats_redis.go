package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"apikey-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStatsStore espelha as estatísticas em Redis para consumo externo
// (dashboards, outras instâncias). Por padrão o /admin/stats lê a memória do
// processo; com Reader ele passa a ler o agregado do Redis.
type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas nas chaves de série temporal.
	// total e por-chave são cumulativos e não expiram.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "gateway:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func field(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "blocked"
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	f := field(ev.Allowed)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", f, 1)

	if k := strings.TrimSpace(string(ev.Key)); k != "" {
		pipe.HIncrBy(ctx, s.prefix+":"+f, k, 1)
	}
	if ev.Class != "" {
		pipe.HIncrBy(ctx, s.prefix+":class", string(ev.Class)+":"+f, 1)
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, f, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis stats record failed: %w", err)
	}
	return nil
}

// Snapshot lê os contadores por chave espelhados no Redis.
func (s *RedisStatsStore) Snapshot(ctx context.Context) (domain.StatsSnapshot, error) {
	out := domain.StatsSnapshot{
		Allowed: make(map[string]int64),
		Blocked: make(map[string]int64),
	}
	for f, dst := range map[string]map[string]int64{"allowed": out.Allowed, "blocked": out.Blocked} {
		vals, err := s.rdb.HGetAll(ctx, s.prefix+":"+f).Result()
		if err != nil {
			return domain.StatsSnapshot{}, fmt.Errorf("redis stats snapshot failed: %w", err)
		}
		for k, v := range vals {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return domain.StatsSnapshot{}, fmt.Errorf("redis stats snapshot: field %q: %w", k, err)
			}
			dst[k] = n
		}
	}
	return out, nil
}

// Reader adapta o espelho para domain.StatsReader. Instâncias que escrevem no
// mesmo prefixo aparecem somadas. Se o Redis não responder dentro de timeout,
// o snapshot vem de fallback.
func (s *RedisStatsStore) Reader(timeout time.Duration, fallback domain.StatsReader, log *zap.Logger) domain.StatsReader {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &redisStatsReader{store: s, timeout: timeout, fallback: fallback, log: log}
}

type redisStatsReader struct {
	store    *RedisStatsStore
	timeout  time.Duration
	fallback domain.StatsReader
	log      *zap.Logger
}

func (r *redisStatsReader) Snapshot() domain.StatsSnapshot {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	snap, err := r.store.Snapshot(ctx)
	if err == nil {
		return snap
	}
	r.log.Warn("redis stats snapshot failed, serving local counters", zap.Error(err))
	if r.fallback != nil {
		return r.fallback.Snapshot()
	}
	return domain.StatsSnapshot{Allowed: map[string]int64{}, Blocked: map[string]int64{}}
}
