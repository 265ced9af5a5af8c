// Package application contém os casos de uso (regras de aplicação) para rate limit.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(ctx, key, policy) retorna uma Decision (allow/deny + retry-after)
// ou o erro do backend, sem mascarar.
package application
