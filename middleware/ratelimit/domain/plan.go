package domain

import "strings"

// RouteLimit sobrescreve o limite padrão para paths que começam com Prefix.
type RouteLimit struct {
	Prefix string
	Limit  int
}

// Plan é um tier imutável após o carregamento.
type Plan struct {
	Name          string
	WindowSeconds int64
	DefaultLimit  int
	// Routes mantém a ordem configurada: vence o primeiro prefixo que casar.
	Routes []RouteLimit
}

// LimitFor resolve o limite para um path relativo ao upstream.
// O casamento é por prefixo de string, case-sensitive, sem noção de segmento:
// "/orders" também casa "/ordersXYZ".
func (p Plan) LimitFor(upstreamPath string) int {
	for _, r := range p.Routes {
		if strings.HasPrefix(upstreamPath, r.Prefix) {
			return r.Limit
		}
	}
	return p.DefaultLimit
}

// RouteClassRule associa um prefixo de path a uma classe de rota.
type RouteClassRule struct {
	Prefix string
	Class  RouteClass
}

// PlanRegistry é o mapeamento estático chave -> plano -> limites efetivos.
type PlanRegistry interface {
	// Resolve retorna ErrUnknownKey ou ErrPlanNotFound; nunca um plano default.
	Resolve(key APIKey) (Plan, error)
	EffectiveLimit(plan Plan, path string) int
	RouteClass(path string) RouteClass
}
