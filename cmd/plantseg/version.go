package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorenzocerrone/plant-seg/server"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of plantseg",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("plantseg version %s\n", server.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
