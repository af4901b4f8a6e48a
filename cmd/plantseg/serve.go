package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lorenzocerrone/plant-seg/pseg"
	"github.com/lorenzocerrone/plant-seg/server"
)

// serveCmd starts the HTTP server from a TOML configuration file.
var serveCmd = &cobra.Command{
	Use:   "serve <config.toml>",
	Short: "Serve the segmentation pipeline over HTTP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := server.LoadConfig(args[0]); err != nil {
			return err
		}
		if err := server.Initialize(); err != nil {
			return err
		}

		if pidFile, _ := cmd.Flags().GetString("pidfile"); pidFile != "" {
			if err := server.WritePidFile(pidFile); err != nil {
				return fmt.Errorf("unable to write pid file: %v", err)
			}
		}

		// Shut down cleanly on SIGINT/SIGTERM so the store and kafka
		// producer get flushed.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			pseg.Infof("Received %v, shutting down...\n", sig)
			server.Shutdown()
			os.Exit(0)
		}()

		return server.ServeHTTP()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("pidfile", "", "Write the server process id to this file")
}
