// Package config loads typed configuration from the environment.
//
// Config structs declare their variables with caarlos0/env tags. A .env
// file in the working directory is loaded once through godotenv before the
// first parse, and each struct type is parsed once per process:
//
//	type appConfig struct {
//	    CatalogPath string `env:"CATALOG_PATH" envDefault:"catalog.yaml"`
//	    MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
//	}
//
//	var cfg appConfig
//	config.MustLoad(&cfg)
//
// LoadEnv reads additional .env files explicitly. Reset clears the cache
// between tests.
package config
