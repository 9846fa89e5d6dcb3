package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var refreshCacheCmd = &cobra.Command{
	Use:   "refresh-cache",
	Short: "Fetch and cache the normalized snapshot without touching the store",
	Long: `Refresh the snapshot cache. A fresh entry is left alone unless --force is set.

Example usage:
  propsync refresh-cache                     # only when missing or expired
  propsync refresh-cache --force --timeout 600`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		secs, _ := cmd.Flags().GetInt("timeout")
		if secs <= 0 {
			return fmt.Errorf("--timeout must be positive")
		}

		rt, err := wire(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		snap, cached, err := rt.queries.Snapshot(cmd.Context(), force, time.Duration(secs)*time.Second)
		if err != nil {
			return err
		}
		if cached {
			fmt.Println("cache is fresh; use --force to refresh")
			return nil
		}
		fmt.Printf("cached %d properties, %d configurations, %d images, %d amenities for %ds\n",
			len(snap.Properties), len(snap.Configurations), len(snap.Images), len(snap.Amenities), secs)
		return nil
	},
}

func init() {
	refreshCacheCmd.Flags().Bool("force", false, "refresh even when the cache is fresh")
	refreshCacheCmd.Flags().Int("timeout", 3600, "cache expiry in seconds")
	rootCmd.AddCommand(refreshCacheCmd)
}
