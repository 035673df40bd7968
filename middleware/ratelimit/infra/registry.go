package infra

import (
	"strings"

	"apikey-gateway/middleware/ratelimit/domain"
)

// Registry implementa domain.PlanRegistry sobre mapas imutáveis.
// É populado uma vez no startup e só lido depois; não precisa de lock.
type Registry struct {
	apiPrefix string
	keys      map[domain.APIKey]string
	plans     map[string]domain.Plan
	classes   []domain.RouteClassRule
}

// NewRegistry copia as entradas recebidas; alterações posteriores nos mapas
// do chamador não afetam o registry.
//
// apiPrefix é o prefixo público removido antes de casar rotas (ex: "/api").
func NewRegistry(apiPrefix string, keys map[string]string, plans map[string]domain.Plan, classes []domain.RouteClassRule) *Registry {
	r := &Registry{
		apiPrefix: strings.TrimSuffix(apiPrefix, "/"),
		keys:      make(map[domain.APIKey]string, len(keys)),
		plans:     make(map[string]domain.Plan, len(plans)),
		classes:   append([]domain.RouteClassRule(nil), classes...),
	}
	for k, plan := range keys {
		r.keys[domain.APIKey(k)] = plan
	}
	for name, p := range plans {
		p.Name = name
		p.Routes = append([]domain.RouteLimit(nil), p.Routes...)
		r.plans[name] = p
	}
	return r
}

func (r *Registry) Resolve(key domain.APIKey) (domain.Plan, error) {
	name, ok := r.keys[key]
	if !ok {
		return domain.Plan{}, domain.ErrUnknownKey
	}
	p, ok := r.plans[name]
	if !ok {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	return p, nil
}

func (r *Registry) EffectiveLimit(plan domain.Plan, path string) int {
	return plan.LimitFor(r.UpstreamPath(path))
}

// RouteClass é a classificação grossa usada no bucket, independente das
// rotas de limite do plano. Primeiro prefixo que casar vence.
func (r *Registry) RouteClass(path string) domain.RouteClass {
	up := r.UpstreamPath(path)
	for _, c := range r.classes {
		if strings.HasPrefix(up, c.Prefix) {
			return c.Class
		}
	}
	return domain.DefaultRouteClass
}

// UpstreamPath remove o prefixo público do gateway.
func (r *Registry) UpstreamPath(path string) string {
	return strings.TrimPrefix(path, r.apiPrefix)
}
