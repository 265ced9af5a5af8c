// Package infra contém as implementações concretas de domain.Cache.
//
// Exemplos:
//   - MemoryCache: mapa local com mutex e expiração preguiçosa
//   - RedisCache: Redis com TTL nativo, chaves com prefixo e valores em JSON
package infra
