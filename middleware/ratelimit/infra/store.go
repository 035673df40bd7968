package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"apikey-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

// WindowStore é o limiter de janela fixa em memória.
//
// Guarda no máximo um contador vivo por BucketKey: na virada da janela o
// contador é substituído, não acumulado. A inserção usa lock por shard e o
// incremento é atômico, então nenhuma contagem se perde sob concorrência.
// Um janitor remove buckets ociosos cuja janela já terminou.
type WindowStore struct {
	shards       []*windowShard
	mask         uint64
	cleanupEvery time.Duration
	now          domain.Clock
}

type windowShard struct {
	mu       sync.RWMutex
	counters map[domain.BucketKey]*windowCounter
}

type windowCounter struct {
	start int64
	end   int64
	count atomic.Int64
}

type StoreOption func(*WindowStore)

// WithShards define o número de shards (arredondado para potência de 2).
func WithShards(n int) StoreOption {
	return func(s *WindowStore) {
		size := 1
		for size < n {
			size <<= 1
		}
		s.shards = make([]*windowShard, size)
	}
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *WindowStore) { s.cleanupEvery = d }
}

// WithClock troca o relógio usado pelo janitor.
func WithClock(c domain.Clock) StoreOption {
	return func(s *WindowStore) { s.now = c }
}

func NewWindowStore(opts ...StoreOption) *WindowStore {
	s := &WindowStore{
		shards:       make([]*windowShard, 64),
		cleanupEvery: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &windowShard{counters: make(map[domain.BucketKey]*windowCounter)}
	}
	s.mask = uint64(len(s.shards) - 1)
	return s
}

// TryConsume implementa domain.WindowLimiter.
// Um now de janela anterior à do contador vivo conta na janela viva e devolve o reset dela.
func (s *WindowStore) TryConsume(key domain.BucketKey, limit int, windowSeconds int64, now time.Time) domain.Decision {
	nowUnix := now.Unix()
	c := s.counterFor(key, domain.WindowAt(nowUnix, windowSeconds))
	n := c.count.Add(1)
	return domain.NewDecision(n, limit, domain.Window{Start: c.start, Seconds: c.end - c.start}, nowUnix)
}

// counterFor devolve o contador vivo da janela w, criando-o se preciso.
//
// Um contador de janela anterior é descartado e recriado. Se o contador vivo
// for de uma janela posterior (relógio de outra goroutine já virou), ele é
// usado: contadores nunca andam para trás.
func (s *WindowStore) counterFor(key domain.BucketKey, w domain.Window) *windowCounter {
	sh := s.shard(key)

	sh.mu.RLock()
	c, ok := sh.counters[key]
	sh.mu.RUnlock()
	if ok && c.start >= w.Start {
		return c
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if c, ok := sh.counters[key]; ok && c.start >= w.Start {
		return c
	}
	c = &windowCounter{start: w.Start, end: w.End()}
	sh.counters[key] = c
	return c
}

func (s *WindowStore) shard(key domain.BucketKey) *windowShard {
	h := xxhash.Sum64String(string(key.APIKey) + "\x00" + string(key.Class))
	return s.shards[h&s.mask]
}

// Count retorna a contagem do bucket na janela que contém now (0 se não houver).
func (s *WindowStore) Count(key domain.BucketKey, windowSeconds int64, now time.Time) int64 {
	w := domain.WindowAt(now.Unix(), windowSeconds)
	sh := s.shard(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	c, ok := sh.counters[key]
	if !ok || c.start != w.Start {
		return 0
	}
	return c.count.Load()
}

// Len retorna quantos contadores estão em memória.
func (s *WindowStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.counters)
		sh.mu.RUnlock()
	}
	return total
}

// Cleanup remove contadores cuja janela terminou até now e devolve quantos removeu.
func (s *WindowStore) Cleanup(now time.Time) int {
	nowUnix := now.Unix()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, c := range sh.counters {
			if c.end <= nowUnix {
				delete(sh.counters, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// RunJanitor limpa contadores expirados periodicamente até o ctx encerrar.
// Bloqueia; feito para rodar em uma goroutine (ex: errgroup).
func (s *WindowStore) RunJanitor(ctx context.Context, onSweep func(removed int)) error {
	if s.cleanupEvery <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(s.cleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			removed := s.Cleanup(s.now())
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}
