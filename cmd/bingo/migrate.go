package main

import (
	"context"
)

// MigrateCmd applies pending schema migrations and exits.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	cfg, logger, err := loadConfig(g)
	if err != nil {
		return err
	}
	st, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("Database is up to date", "driver", cfg.Database.Driver)
	return st.Close()
}
