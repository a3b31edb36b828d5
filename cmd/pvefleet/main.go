package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexops/pvefleet/pkg/log"
	"github.com/nexops/pvefleet/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	err := rootCmd.Execute()
	os.Exit(exitCodeFor(err))
}

var rootCmd = &cobra.Command{
	Use:   "pvefleet",
	Short: "pvefleet orchestrates rolling maintenance across a Proxmox VE fleet",
	Long: `pvefleet resolves a manifest of Proxmox hosts, drains and upgrades
their guests, upgrades and reboots the hypervisor, and verifies every guest
came back — one host at a time or across the whole fleet with bounded
parallelism.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		addr, _ := rootCmd.PersistentFlags().GetString("metrics-addr")
		if addr == "" {
			return
		}
		go func() {
			if err := http.ListenAndServe(addr, metrics.Handler()); err != nil {
				log.Errorf("metrics server stopped", err)
			}
		}()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pvefleet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("manifest", "./proxmox-hosts.toml", "Path to the fleet manifest (TOML)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address to serve Prometheus metrics on (disabled if empty)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(maintenanceCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(wizardCmd)
	rootCmd.AddCommand(inventoryCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
