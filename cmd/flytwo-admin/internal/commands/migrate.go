package commands

import (
	"context"

	"github.com/cuongbtq/flytwo-backend/internal/migrations"
)

type MigrateCmd struct {
	Up     MigrateUpCmd     `cmd:"" help:"Apply all pending migrations."`
	Down   MigrateDownCmd   `cmd:"" help:"Roll back the latest migration."`
	Status MigrateStatusCmd `cmd:"" help:"Show applied migrations."`
}

type MigrateUpCmd struct{}

func (cmd *MigrateUpCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	return migrations.Up(ctx, e.db.DB().DB, e.logger.Component("migrations"))
}

type MigrateDownCmd struct{}

func (cmd *MigrateDownCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	return migrations.Down(ctx, e.db.DB().DB, e.logger.Component("migrations"))
}

type MigrateStatusCmd struct{}

func (cmd *MigrateStatusCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	return migrations.Status(ctx, e.db.DB().DB, e.logger.Component("migrations"))
}
