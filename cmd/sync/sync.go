package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"propsync/internal/domain"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass",
	Long: `Fetch every table, normalize, refresh the snapshot cache and reconcile the
relational store in one transaction. Assets for empty slots are downloaded
after commit.

Example usage:
  propsync sync                      # full pass
  propsync sync --type images        # reconcile images only
  propsync sync --dry-run            # plan and roll back
  propsync sync --verbose            # also list each recorded error
  propsync sync --cache-only         # refresh the cache, touch nothing else`,
	RunE: func(cmd *cobra.Command, args []string) error {
		typeFlag, _ := cmd.Flags().GetString("type")
		typ, err := domain.ParseSyncType(typeFlag)
		if err != nil {
			return err
		}
		opts := domain.Options{Type: typ}
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
		opts.NoFiles, _ = cmd.Flags().GetBool("no-files")
		opts.CacheOnly, _ = cmd.Flags().GetBool("cache-only")
		verbose, _ := cmd.Flags().GetBool("verbose")

		rt, err := wire(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		rep, err := rt.syncer.Sync(cmd.Context(), opts)
		if rep != nil {
			printReport(os.Stdout, rep, verbose)
		}
		return err
	},
}

func init() {
	syncCmd.Flags().String("type", "full", "full|properties|configurations|images|amenities")
	syncCmd.Flags().Bool("dry-run", false, "plan changes and roll back")
	syncCmd.Flags().Bool("no-files", false, "skip asset downloads")
	syncCmd.Flags().Bool("cache-only", false, "refresh the snapshot cache only")
	syncCmd.Flags().BoolP("verbose", "v", false, "list recorded per-record errors")
	rootCmd.AddCommand(syncCmd)
}

// printReport writes the summary table. Per-record errors are listed only
// when verbose; the audit row keeps them either way.
func printReport(out io.Writer, rep *domain.Report, verbose bool) {
	fmt.Fprintf(out, "run %s  type=%s  status=%s  took=%s\n",
		rep.RunID, rep.Options.Type, rep.Status, rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	if rep.Notes != "" {
		fmt.Fprintf(out, "notes: %s\n", rep.Notes)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tFETCHED\tCREATED\tUPDATED\tUNCHANGED\tPLANNED\tSKIPPED\tFAILED")
	for _, k := range domain.Kinds {
		st := rep.Stats[k]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			k, st.Fetched, st.Created, st.Updated, st.Unchanged, st.Planned, st.Skipped, st.Failed)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "swept=%d downloaded=%d errors=%d\n", rep.Swept, rep.Downloaded, rep.ErrorCount)
	if rep.ErrorCount == 0 {
		return
	}
	if !verbose {
		fmt.Fprintln(out, "run with --verbose to list them")
		return
	}
	for _, e := range rep.Errors {
		fmt.Fprintf(out, "  %s %s [%s] %s\n", e.Kind, e.ExternalID, e.Stage, e.Message)
	}
	if n := rep.ErrorCount - len(rep.Errors); n > 0 {
		fmt.Fprintf(out, "  ... %d more not recorded\n", n)
	}
}
