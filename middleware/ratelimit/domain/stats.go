package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit para uma chave.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Path sem controle pode
// explodir o número de chaves em uma base como Redis).
type StatsEvent struct {
	Key     APIKey
	Class   RouteClass
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// Implementações podem armazenar em memória, Redis, etc.
// Quem chama deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// StatsSnapshot é a visão lida pelo endpoint administrativo.
type StatsSnapshot struct {
	Allowed map[string]int64 `json:"allowed"`
	Blocked map[string]int64 `json:"blocked"`
}

// StatsReader expõe os contadores acumulados desde o início do processo.
type StatsReader interface {
	Snapshot() StatsSnapshot
}
