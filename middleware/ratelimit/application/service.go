package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"apikey-gateway/middleware/ratelimit/domain"
)

// Admission descreve a decisão tomada para uma requisição autenticada.
type Admission struct {
	Plan     domain.Plan
	Bucket   domain.BucketKey
	Limit    int
	Decision domain.Decision
}

// AdmissionService concentra a regra de admissão.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna a Admission
// ou um erro de credencial (domain.ErrMissingKey, domain.ErrUnknownKey,
// domain.ErrPlanNotFound).
type AdmissionService struct {
	Registry domain.PlanRegistry
	Limiter  domain.WindowLimiter
	Stats    domain.StatsStore
	Clock    domain.Clock
}

// Admit executa autenticação, resolução de limite e consulta ao limiter.
//
// Contadores de estatística só mudam quando o limiter é consultado:
// falhas de credencial não tocam em nada.
func (s AdmissionService) Admit(ctx context.Context, key domain.APIKey, method, path string) (Admission, error) {
	if strings.TrimSpace(string(key)) == "" {
		return Admission{}, domain.ErrMissingKey
	}

	plan, err := s.Registry.Resolve(key)
	if err != nil {
		return Admission{}, fmt.Errorf("resolve %q: %w", redact(key), err)
	}

	now := time.Now()
	if s.Clock != nil {
		now = s.Clock()
	}

	adm := Admission{
		Plan:   plan,
		Bucket: domain.BucketKey{APIKey: key, Class: s.Registry.RouteClass(path)},
		Limit:  s.Registry.EffectiveLimit(plan, path),
	}
	adm.Decision = s.Limiter.TryConsume(adm.Bucket, adm.Limit, plan.WindowSeconds, now)

	if s.Stats != nil {
		_ = s.Stats.Record(ctx, domain.StatsEvent{
			Key:     key,
			Class:   adm.Bucket.Class,
			Allowed: adm.Decision.Allowed,
			Method:  method,
			Path:    path,
			At:      now,
		})
	}
	return adm, nil
}

// redact evita que a chave completa apareça em mensagens de erro/logs.
func redact(key domain.APIKey) string {
	k := string(key)
	if len(k) <= 4 {
		return "****"
	}
	return k[:4] + "****"
}
