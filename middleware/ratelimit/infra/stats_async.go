package infra

import (
	"context"
	"sync/atomic"
	"time"

	"apikey-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// AsyncStatsStore desacopla um StatsStore lento (ex: Redis) do caminho quente.
//
// Record nunca bloqueia: o evento vai para um buffer e um worker o repassa.
// Com o buffer cheio o evento é descartado e contabilizado em Dropped.
type AsyncStatsStore struct {
	next    domain.StatsStore
	events  chan domain.StatsEvent
	timeout time.Duration
	log     *zap.Logger

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewAsyncStatsStore(next domain.StatsStore, buffer int, log *zap.Logger) *AsyncStatsStore {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AsyncStatsStore{
		next:    next,
		events:  make(chan domain.StatsEvent, buffer),
		timeout: 2 * time.Second,
		log:     log,
	}
}

func (s *AsyncStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *AsyncStatsStore) Dropped() int64 { return s.dropped.Load() }
func (s *AsyncStatsStore) Failed() int64  { return s.failed.Load() }

// Run repassa eventos até o ctx encerrar; então esvazia o que já estava no buffer.
func (s *AsyncStatsStore) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-s.events:
			s.forward(context.WithoutCancel(ctx), ev)
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (s *AsyncStatsStore) drain(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			s.forward(ctx, ev)
		default:
			return
		}
	}
}

func (s *AsyncStatsStore) forward(ctx context.Context, ev domain.StatsEvent) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.next.Record(ctx, ev); err != nil {
		if s.failed.Add(1)%100 == 1 {
			s.log.Warn("stats mirror record failed", zap.Error(err), zap.Int64("failed_total", s.failed.Load()))
		}
	}
}
