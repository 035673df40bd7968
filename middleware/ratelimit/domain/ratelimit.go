package domain

// Camada de domínio do rate limit por janela fixa.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"errors"
	"time"
)

// APIKey é o identificador opaco enviado pelo cliente no header X-API-Key.
type APIKey string

// RouteClass é um rótulo grosso derivado do path (ex: "auth" vs "default"),
// usado para isolar pools de cota dentro de um mesmo plano.
type RouteClass string

const DefaultRouteClass RouteClass = "default"

var (
	// ErrMissingKey indica requisição protegida sem chave (ou chave em branco).
	ErrMissingKey = errors.New("missing api key")
	// ErrUnknownKey indica chave que não está registrada.
	ErrUnknownKey = errors.New("unknown api key")
	// ErrPlanNotFound indica chave registrada apontando para um plano inexistente.
	ErrPlanNotFound = errors.New("plan not found")
)

// BucketKey é a unidade sobre a qual uma cota é contabilizada.
type BucketKey struct {
	APIKey APIKey
	Class  RouteClass
}

func (k BucketKey) String() string { return string(k.APIKey) + ":" + string(k.Class) }

// Window é o intervalo semiaberto [Start, Start+Seconds) em epoch seconds.
type Window struct {
	Start   int64
	Seconds int64
}

// WindowAt retorna a janela que contém nowUnix.
// Janelas são contíguas e nunca se sobrepõem.
func WindowAt(nowUnix, seconds int64) Window {
	start := nowUnix / seconds * seconds
	if nowUnix < 0 && nowUnix%seconds != 0 {
		start -= seconds
	}
	return Window{Start: start, Seconds: seconds}
}

func (w Window) End() int64 { return w.Start + w.Seconds }

// Decision é o resultado imutável de uma avaliação de rate limit.
type Decision struct {
	Allowed                 bool
	Remaining               int
	RetryAfterSeconds       int64
	WindowResetEpochSeconds int64
}

// NewDecision aplica as regras da janela fixa a partir da contagem pós-incremento.
//
//	allowed   <=> count <= limit
//	remaining  = max(0, limit-count)
//	retry      = 0 quando permitido, senão entre 1 e w.Seconds
func NewDecision(count int64, limit int, w Window, nowUnix int64) Decision {
	d := Decision{
		Allowed:                 count <= int64(limit),
		Remaining:               int(max(0, int64(limit)-count)),
		WindowResetEpochSeconds: w.End(),
	}
	if !d.Allowed {
		d.RetryAfterSeconds = min(max(1, w.End()-nowUnix), w.Seconds)
	}
	return d
}

// WindowLimiter conta requisições por (BucketKey, janela).
//
// Implementações devem ser seguras para uso concorrente e não podem fazer I/O:
// ficam no caminho quente de toda requisição protegida.
type WindowLimiter interface {
	TryConsume(key BucketKey, limit int, windowSeconds int64, now time.Time) Decision
}

// Clock permite injetar o relógio (testes usam um relógio fixo).
type Clock func() time.Time
