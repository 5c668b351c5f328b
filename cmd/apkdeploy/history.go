package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/httprunner/apkdeploy/pkg/storage"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent deploy runs of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadDescriptor(cmd)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.AppID) == "" {
				return errors.New("missing required config: app-id")
			}
			db, err := storage.Open(cmd.Context(), cfg.StateDB)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.RecentRuns(cmd.Context(), cfg.AppID, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tTYPE\tPATH\tOUTCOME\tDEVICE\tSTAGES\tDURATION")
			for _, r := range runs {
				duration := "-"
				if r.FinishedAt != nil {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Format(time.DateTime), r.DeployType, dash(r.Path), dash(r.Outcome),
					dash(r.DeviceSerial), dash(strings.Join(r.DirtyStages, ",")), duration)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	return cmd
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
