package commands

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/fieldsync/internal/app"
	"github.com/tildaslashalef/fieldsync/internal/conflict"
	"github.com/tildaslashalef/fieldsync/internal/utils"
)

// ConflictsCommand returns the CLI command for inspecting and resolving
// sync conflicts
func ConflictsCommand() *cli.Command {
	return &cli.Command{
		Name:        "conflicts",
		Usage:       "Inspect and resolve sync conflicts",
		Description: "List conflict records detected during sync and resolve them manually",
		Subcommands: []*cli.Command{
			{
				Name:        "list",
				Usage:       "List unresolved conflicts",
				Description: "Show unresolved conflict records, optionally scoped to one sync session",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "session",
						Usage: "Limit to conflicts from one sync session",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Include resolved conflicts (requires --session)",
					},
				},
				Action: conflictsListAction,
			},
			{
				Name:        "show",
				Usage:       "Show one conflict in detail",
				Description: "Display both data versions of a conflict record",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Conflict record identifier",
						Required: true,
					},
				},
				Action: conflictsShowAction,
			},
			{
				Name:        "resolve",
				Usage:       "Resolve a conflict",
				Description: "Apply a resolution strategy to a conflict record. A record can be resolved at most once.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Conflict record identifier",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "strategy",
						Aliases:  []string{"s"},
						Usage:    "Resolution strategy (server_wins, client_wins, admin_decides, merge)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "by",
						Usage:    "User performing the resolution",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "notes",
						Aliases: []string{"n"},
						Usage:   "Free-text notes recorded with the resolution",
					},
				},
				Action: conflictsResolveAction,
			},
		},
	}
}

// conflictsListAction lists conflict records
func conflictsListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	sessionID := c.String("session")

	records, err := listConflicts(c, application, sessionID, c.Bool("all"))
	if err != nil {
		return err
	}

	if len(records) == 0 {
		utils.PrintInfo("No conflicts found")
		return nil
	}

	headers := []string{"Conflict", "Session", "Entity", "ID", "Server v", "Client v", "Strategy", "Resolved"}
	rows := [][]string{}
	for _, r := range records {
		resolved := "-"
		if r.IsResolved() {
			resolved = utils.FormatTimePtr(r.ResolvedAt)
		}
		rows = append(rows, []string{
			r.ID,
			r.SyncSessionID,
			r.EntityType,
			utils.Truncate(r.EntityID, 30),
			strconv.FormatInt(r.ServerVersion, 10),
			strconv.FormatInt(r.ClientVersion, 10),
			string(r.ResolutionStrategy),
			resolved,
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = "Sync Conflicts"
	utils.PrintTable(headers, rows, opts)

	return nil
}

// listConflicts selects the listing scope from the flags
func listConflicts(c *cli.Context, application *app.App, sessionID string, includeResolved bool) ([]*conflict.ConflictRecord, error) {
	if includeResolved {
		if sessionID == "" {
			return nil, fmt.Errorf("--all requires --session")
		}
		records, err := application.Conflicts.ListBySession(c.Context, sessionID)
		if err != nil {
			return nil, fmt.Errorf("listing session conflicts: %w", err)
		}
		return records, nil
	}

	records, err := application.Conflicts.ListUnresolved(c.Context, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved conflicts: %w", err)
	}
	return records, nil
}

// conflictsShowAction displays one conflict with both data versions
func conflictsShowAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	record, err := application.Conflicts.GetRecord(c.Context, c.String("id"))
	if err != nil {
		return fmt.Errorf("getting conflict: %w", err)
	}

	utils.PrintHeading("Conflict " + record.ID)
	utils.PrintKeyValue("Session", record.SyncSessionID)
	utils.PrintKeyValue("Entity", fmt.Sprintf("%s %s", record.EntityType, record.EntityID))
	utils.PrintKeyValue("Strategy", string(record.ResolutionStrategy))
	utils.PrintKeyValue("Detected", utils.FormatTime(record.CreatedAt))
	if record.IsResolved() {
		utils.PrintKeyValue("Resolved", utils.FormatTimePtr(record.ResolvedAt))
		utils.PrintKeyValue("Resolved by", record.ResolvedBy)
	}
	if record.Notes != "" {
		utils.PrintKeyValue("Notes", record.Notes)
	}

	fmt.Println("")
	utils.PrintKeyValue(fmt.Sprintf("Server data (v%d)", record.ServerVersion), string(record.ServerData))
	utils.PrintKeyValue(fmt.Sprintf("Client data (v%d)", record.ClientVersion), string(record.ClientData))

	return nil
}

// conflictsResolveAction resolves a conflict record
func conflictsResolveAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	record, err := application.Conflicts.ResolveConflict(c.Context, c.String("id"), c.String("strategy"), c.String("by"), c.String("notes"))
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to resolve conflict: %s", err))
		return fmt.Errorf("resolving conflict: %w", err)
	}

	utils.PrintSuccess(fmt.Sprintf("Conflict %s resolved with %s by %s",
		record.ID, record.ResolutionStrategy, record.ResolvedBy))

	return nil
}
