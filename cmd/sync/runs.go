package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sync runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		rt, err := wire(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		runs, err := rt.queries.Runs(cmd.Context(), limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tSTARTED\tPROPS\tCONFIGS\tIMAGES\tAMENITIES\tERRORS\tDRY\tNOTES")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%t\t%s\n",
				r.ID, r.Type, r.Status, r.StartedAt.Format(time.RFC3339),
				r.PropertiesProcessed, r.ConfigurationsProcessed, r.ImagesProcessed, r.AmenitiesProcessed,
				r.ErrorsCount, r.DryRun, r.Notes)
		}
		return tw.Flush()
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "number of runs to show (max 200)")
	rootCmd.AddCommand(runsCmd)
}
