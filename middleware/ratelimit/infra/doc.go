// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryLimiter: janela deslizante em memória, com janitor opcional
//   - RedisLimiter: janela deslizante em sorted set do Redis (MULTI ou script Lua)
//   - MemoryStatsStore / RedisStatsStore: contadores de decisões
package infra
