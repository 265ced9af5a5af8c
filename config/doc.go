// Package config lê a configuração do ambiente (github.com/caarlos0/env).
package config
