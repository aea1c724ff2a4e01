package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/fieldsync/internal/app"
	"github.com/tildaslashalef/fieldsync/internal/commands"
)

// Version information - populated at build time
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
	Author     = "unknown"
	Email      = "unknown"
)

func main() {
	cliApp := &cli.App{
		Name:  "fieldsync",
		Usage: "Offline-first sync engine for field operations data",
		Description: "FieldSync synchronizes data captured on offline field devices with the\n" +
			"server of record, detecting version conflicts and tracking their resolution.\n\n" +
			"Run 'fieldsync init' once to set up the environment, then 'fieldsync sync'\n" +
			"to upload a change batch.",
		Version: Version,
		Compiled: func() time.Time {
			t, err := time.Parse(time.RFC3339, BuildTime)
			if err != nil {
				return time.Now()
			}
			return t
		}(),
		Authors: []*cli.Author{
			{
				Name:  Author,
				Email: Email,
			},
		},
		Before: func(c *cli.Context) error {
			// The init command bootstraps the environment itself
			if c.Args().First() == "init" {
				return nil
			}

			application, err := app.New()
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			// Store the app instance in the context for later use
			c.App.Metadata = map[string]interface{}{
				"app": application,
			}

			return nil
		},
		After: func(c *cli.Context) error {
			if app, ok := c.App.Metadata["app"].(*app.App); ok {
				return app.Shutdown()
			}
			return nil
		},
		Commands: []*cli.Command{
			commands.InitCommand(),
			commands.SyncCommand(),
			commands.ConflictsCommand(),
			commands.MigrateCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
