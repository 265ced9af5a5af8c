// Package sharedstore concentra o acesso ao store compartilhado (Redis):
// criação do cliente, probe de liveness, timeout por operação e o erro tipado
// BackendError.
//
// Os pacotes cache/infra e middleware/ratelimit/infra dependem daqui; nenhum
// deles conhece a camada de binding.
package sharedstore
