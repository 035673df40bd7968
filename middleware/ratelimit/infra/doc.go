// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - WindowStore: contadores de janela fixa por BucketKey, em shards, com limpeza periódica
//   - Registry: chave -> plano -> limite efetivo e classe de rota
//   - MemoryStatsStore / RedisStatsStore / AsyncStatsStore: estatísticas por chave
//   - ChanPool: semáforo simples para limite de requisições em voo
package infra
