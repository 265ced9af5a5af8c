// Package ratelimit fornece o adapter HTTP (net/http) do rate limit por janela deslizante.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: caso de uso (decisão allow/deny + retry-after) sem net/http
//   - infra: implementações concretas (memória local, Redis, estatísticas)
//   - ratelimit (este pacote): middleware HTTP + extração de chave + tradução para status/headers
//
// Fluxo por request:
//
//  1. Extrai a chave "<cliente>:<path>" (header/XFF/RemoteAddr)
//  2. Chama a camada application com a Policy da rota
//  3. Se bloqueado, responde 429 com Retry-After igual à janela
//  4. Se o backend falhar, responde 503 ou deixa passar (FailOpen)
//  5. Se permitido, chama o próximo handler
//
// O binário cmd/api usa DefaultPolicy nas rotas comuns e uma Policy mais
// estrita nas rotas administrativas (RATE_LIMIT_PER_MINUTE, AUTH_RATE_LIMIT_PER_MINUTE).
package ratelimit
