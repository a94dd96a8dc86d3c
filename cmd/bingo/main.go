package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

// Globals are shared by every command.
type Globals struct {
	Config   string `short:"c" default:"configs/bingo.hcl" help:"Path to the HCL config file" type:"path"`
	LogLevel string `help:"Override the configured log level (debug, info, warn, error)"`
}

type CLI struct {
	Globals

	Version    kong.VersionFlag `short:"v" help:"Show version"`
	Serve      ServeCmd         `cmd:"" help:"Run the realtime gateway and game service"`
	Migrate    MigrateCmd       `cmd:"" help:"Apply database migrations"`
	CreateGame CreateGameCmd    `cmd:"create-game" help:"Create a game in the lobby"`
	Token      TokenCmd         `cmd:"" help:"Issue a host or screen token for a game"`
	Verify     VerifyCmd        `cmd:"" help:"Audit a game's draws and cards against its seed"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bingo"),
		kong.Description("Realtime multiplayer bingo server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
