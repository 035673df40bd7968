package infra

import (
	"context"
	"sync"
	"sync/atomic"

	"apikey-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Blocked int64
}

type keyCounters struct {
	allowed atomic.Int64
	blocked atomic.Int64
}

// MemoryStatsStore mantém allowed/blocked por chave durante a vida do processo.
//
// É a fonte do snapshot administrativo. Não há lock global: cada chave tem
// seus próprios contadores atômicos e a inserção é feita via sync.Map.
type MemoryStatsStore struct {
	byKey   sync.Map // domain.APIKey -> *keyCounters
	allowed atomic.Int64
	blocked atomic.Int64
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	kc := s.counters(ev.Key)
	if ev.Allowed {
		kc.allowed.Add(1)
		s.allowed.Add(1)
		return nil
	}
	kc.blocked.Add(1)
	s.blocked.Add(1)
	return nil
}

func (s *MemoryStatsStore) counters(key domain.APIKey) *keyCounters {
	if v, ok := s.byKey.Load(key); ok {
		return v.(*keyCounters)
	}
	v, _ := s.byKey.LoadOrStore(key, &keyCounters{})
	return v.(*keyCounters)
}

func (s *MemoryStatsStore) Total() Counters {
	return Counters{Allowed: s.allowed.Load(), Blocked: s.blocked.Load()}
}

func (s *MemoryStatsStore) Get(key domain.APIKey) Counters {
	v, ok := s.byKey.Load(key)
	if !ok {
		return Counters{}
	}
	kc := v.(*keyCounters)
	return Counters{Allowed: kc.allowed.Load(), Blocked: kc.blocked.Load()}
}

// Snapshot implementa domain.StatsReader. Só aparecem em cada mapa as chaves
// com contagem > 0.
func (s *MemoryStatsStore) Snapshot() domain.StatsSnapshot {
	out := domain.StatsSnapshot{
		Allowed: make(map[string]int64),
		Blocked: make(map[string]int64),
	}
	s.byKey.Range(func(k, v any) bool {
		kc := v.(*keyCounters)
		if n := kc.allowed.Load(); n > 0 {
			out.Allowed[string(k.(domain.APIKey))] = n
		}
		if n := kc.blocked.Load(); n > 0 {
			out.Blocked[string(k.(domain.APIKey))] = n
		}
		return true
	})
	return out
}
