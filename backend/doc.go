// Package backend decide, no startup, se cache e rate limit usam memória local
// ou o Redis compartilhado.
//
// Bind sempre cria as variantes locais. Com REDIS_URL configurada, faz um PING
// com timeout: sucesso liga cache, limiter e estatísticas ao Redis; falha só
// loga e o processo segue local. Quem consome recebe handles estáveis
// (Binding.Cache, Binding.Limiter) e nunca sabe qual variante está ativa.
//
// Voltar para o Redis depois de uma falha é um ato administrativo (Rebind).
package backend
