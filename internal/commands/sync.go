package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/fieldsync/internal/app"
	"github.com/tildaslashalef/fieldsync/internal/conflict"
	"github.com/tildaslashalef/fieldsync/internal/engine"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/session"
	"github.com/tildaslashalef/fieldsync/internal/utils"
)

// SyncCommand returns the CLI command for running and inspecting sync sessions
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:        "sync",
		Usage:       "Synchronize field data with the server of record",
		Description: "Run a full sync from a change batch file, or inspect sync sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "changes",
				Aliases:  []string{"c"},
				Usage:    "Path to a JSON file containing the change batch",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "device",
				Usage: "Device identifier (defaults to this installation's device name)",
			},
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User performing the sync",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "strategy",
				Aliases: []string{"s"},
				Usage:   "Resolution strategy recorded on detected conflicts (server_wins, client_wins, admin_decides, merge)",
			},
		},
		Action: syncAction,
		Subcommands: []*cli.Command{
			{
				Name:        "status",
				Usage:       "Show sync status for a device",
				Description: "Display pending changes, last sync date, and unresolved conflict count",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "device",
						Usage: "Device identifier (defaults to this installation's device name)",
					},
				},
				Action: syncStatusAction,
			},
			{
				Name:        "history",
				Usage:       "Show sync session history",
				Description: "List past sync sessions, optionally filtered by device, user, or status",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "device",
						Usage: "Filter by device identifier",
					},
					&cli.StringFlag{
						Name:  "user",
						Usage: "Filter by user",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by session status (started, completed, failed)",
					},
					&cli.IntFlag{
						Name:  "page",
						Usage: "Page number",
						Value: 1,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Sessions per page",
					},
				},
				Action: syncHistoryAction,
			},
			{
				Name:        "sweep",
				Usage:       "Fail sessions stuck in the started state",
				Description: "Force-fail sessions that have been in the started state longer than the stale age threshold",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Stale age threshold (defaults to the configured value)",
					},
				},
				Action: syncSweepAction,
			},
		},
	}
}

// syncAction runs a full sync: a new session is started, the change batch is
// applied, and the session ends in a terminal state either way
func syncAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	deviceID, err := resolveDeviceID(c, application)
	if err != nil {
		return err
	}

	changes, err := loadChangeBatch(c.String("changes"))
	if err != nil {
		return err
	}

	loggy.Info("Starting manual sync",
		"device_id", deviceID,
		"user_id", c.String("user"),
		"changes", len(changes),
	)

	input := session.InitiateInput{
		DeviceID: deviceID,
		UserID:   c.String("user"),
	}

	sess, err := application.Engine.PerformFullSync(c.Context, input, changes, conflict.Strategy(c.String("strategy")))
	if err != nil {
		utils.PrintError(fmt.Sprintf("Sync failed: %s", err))
		return fmt.Errorf("sync failed: %w", err)
	}

	utils.PrintSuccess(fmt.Sprintf("Sync completed in %ds", sess.DurationSeconds()))
	utils.PrintKeyValue("Session", sess.ID)
	utils.PrintKeyValue("Uploaded", strconv.Itoa(sess.UploadedRecords))
	utils.PrintKeyValue("Conflicts", strconv.Itoa(sess.ConflictRecords))

	if sess.ConflictRecords > 0 {
		utils.PrintWarning(fmt.Sprintf("%d change(s) collided with newer server data. Run 'fieldsync conflicts list --session %s' to inspect them.",
			sess.ConflictRecords, sess.ID))
	}

	return nil
}

// syncStatusAction shows the sync status summary for a device
func syncStatusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	deviceID, err := resolveDeviceID(c, application)
	if err != nil {
		return err
	}

	summary, err := application.Sessions.GetStatus(c.Context, deviceID)
	if err != nil {
		return fmt.Errorf("getting sync status: %w", err)
	}

	utils.PrintHeading("Sync Status")
	utils.PrintKeyValue("Device", deviceID)
	utils.PrintKeyValue("Pending changes", strconv.Itoa(summary.PendingChanges))
	utils.PrintKeyValue("Last sync", utils.FormatTimePtr(summary.LastSyncDate))
	utils.PrintKeyValue("Unresolved conflicts", strconv.Itoa(summary.Conflicts))

	return nil
}

// syncHistoryAction lists past sync sessions
func syncHistoryAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	filter := session.HistoryFilter{
		DeviceID: c.String("device"),
		UserID:   c.String("user"),
		Status:   session.Status(c.String("status")),
	}

	limit := c.Int("limit")
	if limit <= 0 {
		limit = application.Config.Sync.HistoryPageSize
	}
	params := session.NewPaginationParams(c.Int("page"), limit)

	sessions, err := application.Sessions.GetHistory(c.Context, filter, params)
	if err != nil {
		return fmt.Errorf("getting sync history: %w", err)
	}

	if len(sessions) == 0 {
		utils.PrintInfo("No sync sessions found")
		return nil
	}

	headers := []string{"Session", "Device", "User", "Status", "Started", "Ended", "Up", "Down", "Conflicts"}
	rows := [][]string{}
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			utils.Truncate(s.DeviceID, 20),
			utils.Truncate(s.UserID, 20),
			string(s.Status),
			utils.FormatTime(s.StartDate),
			utils.FormatTimePtr(s.EndDate),
			strconv.Itoa(s.UploadedRecords),
			strconv.Itoa(s.DownloadedRecords),
			strconv.Itoa(s.ConflictRecords),
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = fmt.Sprintf("Sync Sessions (page %d)", params.Page)
	utils.PrintTable(headers, rows, opts)

	return nil
}

// syncSweepAction force-fails stale sessions
func syncSweepAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	olderThan := c.Duration("older-than")
	if olderThan <= 0 {
		olderThan = application.Config.Sync.StaleSessionAge
	}

	failed, err := application.Sessions.FailStale(c.Context, olderThan)
	if err != nil {
		return fmt.Errorf("sweeping stale sessions: %w", err)
	}

	if failed == 0 {
		utils.PrintInfo(fmt.Sprintf("No sessions older than %s found", olderThan))
	} else {
		utils.PrintSuccess(fmt.Sprintf("Failed %d stale session(s) older than %s", failed, olderThan))
	}

	return nil
}

// resolveDeviceID returns the device flag when set, falling back to the
// installation's persisted device name
func resolveDeviceID(c *cli.Context, application *app.App) (string, error) {
	if device := c.String("device"); device != "" {
		return device, nil
	}

	deviceID, err := utils.LoadOrCreateDeviceName(application.Config.ConfigDir())
	if err != nil {
		return "", fmt.Errorf("resolving device name: %w", err)
	}
	return deviceID, nil
}

// loadChangeBatch reads a change batch from a JSON file. The file holds an
// array of objects with entity_type, entity_id, version, and data fields.
func loadChangeBatch(path string) ([]engine.ChangeItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading change batch file: %w", err)
	}

	var changes []engine.ChangeItem
	if err := json.Unmarshal(data, &changes); err != nil {
		return nil, fmt.Errorf("parsing change batch file: %w", err)
	}

	return changes, nil
}
