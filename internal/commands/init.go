package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/utils"
)

// InitCommand returns the CLI command for initializing FieldSync
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the FieldSync environment",
		Description: "Sets up the FieldSync environment including the configuration " +
			"directory and database schema. Use this command for first-time setup " +
			"or to update your database schema after upgrading FieldSync.",
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing FieldSync")

			homeDir, err := os.UserHomeDir()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to get user home directory: %s", err))
				return fmt.Errorf("failed to get user home directory: %w", err)
			}

			configDir := filepath.Join(homeDir, ".fieldsync")
			utils.PrintInfo("Configuration directory: " + color.YellowString("%s", configDir))

			if err := os.MkdirAll(configDir, 0755); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to create config directory: %s", err))
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			configFilePath := filepath.Join(configDir, ".env")
			cfg, err := config.LoadFromEnv(configDir, configFilePath)
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			utils.PrintInfo("Initializing database...")
			if err := database.InitDB(cfg); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
				return fmt.Errorf("failed to initialize database: %w", err)
			}

			utils.PrintInfo("Applying database migrations...")
			if err := database.RunMigrations(); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			// A stable device identity is assigned on first init so sessions
			// from this installation are attributable in history
			deviceName, err := utils.LoadOrCreateDeviceName(configDir)
			if err != nil {
				utils.PrintWarning(fmt.Sprintf("Failed to persist device name: %s", err))
			} else {
				utils.PrintInfo("Device name: " + color.YellowString("%s", deviceName))
			}

			utils.PrintSuccess("FieldSync initialized successfully!")
			utils.PrintInfo("Database location: " + color.YellowString("%s", cfg.Database.Path))
			utils.PrintInfo("Log file location: " + color.YellowString("%s", cfg.Logging.Output))
			fmt.Println("")
			utils.PrintInfo("You can now use " + color.CyanString("fieldsync sync") + " to synchronize field data.")

			return nil
		},
	}
}
