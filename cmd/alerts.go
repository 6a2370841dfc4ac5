package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/doggobot/sentry/internal/models"
)

var alertsOpts struct {
	Status  string
	Unacked bool
	Limit   int
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter models.ListFilter
		filter.Limit = alertsOpts.Limit

		if alertsOpts.Status != "" {
			st := models.Status(alertsOpts.Status)
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", alertsOpts.Status)
			}
			filter.Status = &st
		}
		if alertsOpts.Unacked {
			acked := false
			filter.Acknowledged = &acked
		}

		alerts, err := DB.List(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list alerts: %w", err)
		}
		if len(alerts) == 0 {
			fmt.Println("No alerts found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSTATUS\tIDENTITY\tACKED\tID")
		for _, a := range alerts {
			identity := a.Identity
			if identity == "" {
				identity = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
				a.CreatedAt.Local().Format(time.DateTime),
				a.Status, identity, a.Acknowledged, a.ID)
		}
		return w.Flush()
	},
}

func init() {
	f := alertsCmd.Flags()
	f.StringVar(&alertsOpts.Status, "status", "", "filter by status (friendly, unknown, suspicious)")
	f.BoolVar(&alertsOpts.Unacked, "unacked", false, "only unacknowledged alerts")
	f.IntVar(&alertsOpts.Limit, "limit", 20, "maximum number of alerts to show")

	rootCmd.AddCommand(alertsCmd)
}
