package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/config"
)

// Wire initializes all dependencies and returns a fully configured
// container. Order of operations:
//  1. open databases and apply schemas
//  2. build repositories
//  3. build clients and services
//  4. build the background execution layer and register jobs
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{}

	if err := initializeDatabases(cfg, c); err != nil {
		return nil, err
	}
	initializeRepositories(c, log)

	if err := initializeServices(c, cfg, log); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize services: %w", err)
	}
	if err := initializeJobs(c, log); err != nil {
		c.Close()
		return nil, err
	}

	log.Info().Msg("Dependency wiring completed")
	return c, nil
}
