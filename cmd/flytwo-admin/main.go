package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/cuongbtq/flytwo-backend/cmd/flytwo-admin/internal/commands"
)

var version = "dev"

func main() {
	ctx := context.Background()

	var cli commands.CLI
	cmd := kong.Parse(&cli,
		kong.Name("flytwo-admin"),
		kong.Description("Operator tasks for the flytwo backend."),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := cmd.Run(&commands.Globals{
		ConfigPath: cli.Config,
		Debug:      cli.Debug,
		Version:    version,
	})
	cmd.FatalIfErrorf(err)
}
