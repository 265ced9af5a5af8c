// Package cache fornece helpers sobre o contrato domain.Cache.
//
// Visão geral (camadas):
//
//   - domain: contrato Cache e tipos (sem Redis)
//   - infra: MemoryCache (local) e RedisCache (compartilhado)
//   - cache (este pacote): Memoize, Invalidate, GetAs
//
// Quem consome o cache recebe um domain.Cache (normalmente o handle de
// backend.Binding) e não sabe qual implementação está ativa.
//
// Memoize não é coalescing por padrão: chamadas concorrentes com a mesma chave
// antes do primeiro resultado chegar executam a operação cada uma. Use
// WithCoalescing quando a operação for cara o suficiente para justificar. Com
// coalescing, a execução compartilhada não herda o cancelamento de quem a
// disparou.
package cache
