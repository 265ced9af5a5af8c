// Package domain define o contrato de cache (Cache) e os tipos compartilhados
// entre as implementações local e compartilhada.
//
// Não depende de Redis nem de net/http.
package domain
