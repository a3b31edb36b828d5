package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexops/pvefleet/pkg/fleet"
	"github.com/nexops/pvefleet/pkg/secrets"
	"github.com/nexops/pvefleet/pkg/trace"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run or inspect a single host's maintenance workflow",
}

var maintenanceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the maintenance workflow against one host",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		if host == "" {
			return manifestInvalid(fmt.Errorf("--host is required"))
		}

		m, err := loadManifest(cmd)
		if err != nil {
			return err
		}

		tracer := trace.New()
		stop := streamProgress(tracer)
		defer stop()

		ctx, cancel := signalContext()
		defer cancel()

		opts := fleet.RunOptions{Hosts: []string{host}}
		if cmd.Flags().Changed("dry-run") {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			opts.DryRunOverride = &dryRun
		}

		sched := fleet.New(m, secrets.New(), tracer)
		result := sched.Run(ctx, opts)

		for _, o := range result.Outcomes {
			printOutcomeSummary(string(o.Final), len(o.Guests), o.ErrorSummary)
		}

		if code := result.ExitCode(); code != 0 {
			return runFailed(code, fmt.Errorf("host %s did not succeed", host))
		}
		return nil
	},
}

func init() {
	maintenanceRunCmd.Flags().String("host", "", "Host name from the manifest to maintain")
	maintenanceRunCmd.Flags().Bool("dry-run", false, "Trace the workflow without issuing any state-changing calls")
	maintenanceCmd.AddCommand(maintenanceRunCmd)
}
