// Package ratelimit fornece os adapters HTTP (net/http) do controle de admissão do gateway.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (admissão, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela fixa em shards, registry, stats, semáforo)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway (Middleware):
//
//  1. /admin/* e paths fora de /api/ passam direto (BYPASSED)
//  2. Extrai a chave do header X-API-Key; ausente => 401
//  3. Resolve o plano; chave/plano desconhecido => 403
//  4. Consulta o limiter; estourou a cota => 429 com Retry-After
//  5. Permitido: X-RateLimit-Remaining/X-RateLimit-Reset e chama o próximo handler (Forwarder)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como GATEWAY_CONFIG, UPSTREAM_URL, CONCURRENCY_MAX e CONCURRENCY_TIMEOUT.
package ratelimit
