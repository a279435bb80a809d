package di

import (
	"fmt"

	"github.com/aristath/marketpulse/internal/config"
	"github.com/aristath/marketpulse/internal/database"
)

// initializeDatabases opens the three databases and applies their schemas.
func initializeDatabases(cfg *config.Config, c *Container) error {
	marketDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/market.db",
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	if err != nil {
		return fmt.Errorf("open market database: %w", err)
	}
	c.MarketDB = marketDB

	sectorsDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/sectors.db",
		Profile: database.ProfileStandard,
		Name:    "sectors",
	})
	if err != nil {
		marketDB.Close()
		return fmt.Errorf("open sectors database: %w", err)
	}
	c.SectorsDB = sectorsDB

	// app.db holds recoverable operational data, so it trades durability
	// for speed.
	appDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/app.db",
		Profile: database.ProfileCache,
		Name:    "app",
	})
	if err != nil {
		marketDB.Close()
		sectorsDB.Close()
		return fmt.Errorf("open app database: %w", err)
	}
	c.AppDB = appDB

	for _, db := range c.Databases() {
		if err := db.Migrate(); err != nil {
			c.Close()
			return fmt.Errorf("migrate %s database: %w", db.Name(), err)
		}
	}
	return nil
}
