package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/suraboy/weather-insight/internal/audit"
	"github.com/suraboy/weather-insight/internal/types"
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditListCmd.Flags().Int("limit", 50, "maximum records to show")
	auditListCmd.Flags().String("session", "", "only show dispatches of this session ID")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the tool dispatch journal",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tool dispatches, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if !cfg.Audit.Enabled {
			return fmt.Errorf("dispatch journal is disabled (audit.enabled = false)")
		}
		journal, err := audit.Open(cfg.AuditPath())
		if err != nil {
			return err
		}
		defer journal.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		session, _ := cmd.Flags().GetString("session")

		ctx := context.Background()
		var records []*types.DispatchRecord
		if session != "" {
			records, err = journal.BySession(ctx, types.SessionID(session))
		} else {
			records, err = journal.Recent(ctx, limit)
		}
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No dispatches recorded.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSESSION\tTOOL\tOUTCOME\tROUTE\tARGUMENTS")
		for _, r := range records {
			route := r.Route
			if r.Query != "" {
				route += "?" + r.Query
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.At.Local().Format("2006-01-02 15:04:05"),
				shortID(string(r.SessionID)),
				r.Tool,
				r.Outcome,
				route,
				r.Arguments,
			)
		}
		return w.Flush()
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
