// Package domain define contratos e tipos de domínio para rate limit.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Limiter é a janela deslizante; Policy, Decision e LimitExceededError são o
// vocabulário que as camadas application e HTTP compartilham.
package domain
