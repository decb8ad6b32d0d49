package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"chatdesk/admin"
	"chatdesk/database"
	"chatdesk/web/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type storeOpener func(ctx context.Context) (*database.Store, error)

// newAdminCmd exposes the admin panel operations against the configured
// store. Against the memory backend they only see data created in-process.
func newAdminCmd(open storeOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administer users and site settings",
	}

	withService := func(run func(ctx context.Context, svc *admin.Service, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			return run(cmd.Context(), admin.NewService(store, zap.NewNop()), cmd.OutOrStdout(), args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show user totals",
		Args:  cobra.NoArgs,
		RunE: withService(func(ctx context.Context, svc *admin.Service, out io.Writer, _ []string) error {
			stats, err := svc.DashboardStats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "total users:  %d\npro users:    %d\nbanned users: %d\n",
				stats.TotalUsers, stats.ProUsers, stats.BannedUsers)
			return nil
		}),
	})

	var limit int
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the newest system log entries",
		Args:  cobra.NoArgs,
		RunE: withService(func(ctx context.Context, svc *admin.Service, out io.Writer, _ []string) error {
			logs, err := svc.GetLogs(ctx, limit)
			if err != nil {
				return err
			}
			return printLogs(out, logs)
		}),
	}
	logsCmd.Flags().IntVar(&limit, "limit", 50, "number of entries to show")
	cmd.AddCommand(logsCmd)

	maintenance := &cobra.Command{
		Use:       "maintenance on|off",
		Short:     "Toggle maintenance mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: withService(func(ctx context.Context, svc *admin.Service, out io.Writer, args []string) error {
			var on bool
			switch args[0] {
			case "on":
				on = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			if _, err := svc.UpdateSettings(ctx, types.SettingsPatch{MaintenanceMode: &on}); err != nil {
				return err
			}
			fmt.Fprintf(out, "maintenance mode %s\n", args[0])
			return nil
		}),
	}
	cmd.AddCommand(maintenance)

	alert := &cobra.Command{
		Use:   "alert",
		Short: "Set or clear the global alert banner",
	}
	alert.AddCommand(&cobra.Command{
		Use:   "set <message>",
		Short: "Show message to every visitor",
		Args:  cobra.MinimumNArgs(1),
		RunE: withService(func(ctx context.Context, svc *admin.Service, out io.Writer, args []string) error {
			msg := strings.Join(args, " ")
			if _, err := svc.UpdateSettings(ctx, types.SettingsPatch{GlobalAlert: &msg}); err != nil {
				return err
			}
			fmt.Fprintln(out, "alert set")
			return nil
		}),
	})
	alert.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the global alert",
		Args:  cobra.NoArgs,
		RunE: withService(func(ctx context.Context, svc *admin.Service, out io.Writer, _ []string) error {
			empty := ""
			if _, err := svc.UpdateSettings(ctx, types.SettingsPatch{GlobalAlert: &empty}); err != nil {
				return err
			}
			fmt.Fprintln(out, "alert cleared")
			return nil
		}),
	})
	cmd.AddCommand(alert)

	cmd.AddCommand(&cobra.Command{
		Use:   "ban <user-id>",
		Short: "Toggle a user's banned flag",
		Args:  cobra.ExactArgs(1),
		RunE: withService(func(ctx context.Context, svc *admin.Service, out io.Writer, args []string) error {
			user, err := svc.ToggleBan(ctx, args[0])
			if err != nil {
				return err
			}
			state := "unbanned"
			if user.IsBanned {
				state = "banned"
			}
			fmt.Fprintf(out, "%s is now %s\n", user.ID, state)
			return nil
		}),
	})

	return cmd
}

func printLogs(out io.Writer, logs []types.LogEntry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tMESSAGE")
	for _, entry := range logs {
		ts := time.UnixMilli(entry.Timestamp).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%s\t%s\t%s\n", ts, entry.Type, entry.Message)
	}
	return w.Flush()
}
