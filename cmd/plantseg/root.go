package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lorenzocerrone/plant-seg/pseg"
)

var rootCmd = &cobra.Command{
	Use:   "plantseg",
	Short: "plantseg segments cell volumes from boundary predictions",
	Long: `plantseg runs distance-transform watershed, agglomerative clustering
and (lifted) multicut segmentation over boundary probability volumes,
records every operation into a replayable pipeline, and can serve the
whole surface over HTTP.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Log debug-level messages")
	cobra.OnInitialize(func() {
		if verbose, _ := rootCmd.PersistentFlags().GetBool("verbose"); verbose {
			pseg.SetLogMode(pseg.DebugMode)
		} else {
			pseg.SetLogMode(pseg.InfoMode)
		}
	})
}
