package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/wootoff-monitor/internal/config"
	"github.com/wootoff-monitor/internal/proxylist"
	"github.com/wootoff-monitor/internal/proxypool"
)

// loadConfig resolves and loads the config file, then applies its logging settings
func loadConfig() (*config.Config, error) {
	path, err := config.Resolve(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg.Logging)
	log.Debugf("Config loaded from %s", cfg.Path())
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	log.SetOutput(os.Stderr)
	if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}

	log.SetLevel(log.InfoLevel)
	if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown log level %q, using info", cfg.Level)
	}
}

// buildPool loads the configured endpoints and wraps them in a health-tracked pool
func buildPool(ctx context.Context, cfg *config.Config) (*proxypool.Pool, error) {
	endpoints := proxylist.NewLoader().Load(ctx, cfg.Proxies)

	pool, err := proxypool.New(endpoints, proxypool.Options{
		FailureThreshold: cfg.Proxies.FailureThreshold,
		Cooldown:         cfg.Proxies.Cooldown(),
	})
	if err != nil {
		return nil, fmt.Errorf("proxy pool: %w", err)
	}
	return pool, nil
}
