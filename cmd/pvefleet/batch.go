package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexops/pvefleet/pkg/fleet"
	"github.com/nexops/pvefleet/pkg/secrets"
	"github.com/nexops/pvefleet/pkg/trace"
	"github.com/nexops/pvefleet/pkg/types"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the maintenance workflow across the fleet",
}

var batchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run maintenance across every (or a filtered set of) manifest hosts, bounded by max-parallel",
	RunE: func(cmd *cobra.Command, args []string) error {
		hosts, _ := cmd.Flags().GetStringSlice("host")

		m, err := loadManifest(cmd)
		if err != nil {
			return err
		}

		tracer := trace.New()
		stop := streamProgress(tracer)
		defer stop()

		ctx, cancel := signalContext()
		defer cancel()

		opts := fleet.RunOptions{Hosts: hosts}
		if cmd.Flags().Changed("dry-run") {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			opts.DryRunOverride = &dryRun
		}
		if cmd.Flags().Changed("max-parallel") {
			n, _ := cmd.Flags().GetInt("max-parallel")
			opts.MaxParallelOverride = &n
		}

		sched := fleet.New(m, secrets.New(), tracer)
		result := sched.Run(ctx, opts)

		succeeded, failed, skipped := 0, 0, 0
		for _, o := range result.Outcomes {
			printOutcomeSummary(string(o.Final), len(o.Guests), o.ErrorSummary)
			switch {
			case o.Succeeded():
				succeeded++
			case o.Final == types.HostSkipped:
				skipped++
			default:
				failed++
			}
		}
		fmt.Printf("fleet run complete: %d succeeded, %d failed, %d skipped\n", succeeded, failed, skipped)

		if code := result.ExitCode(); code != 0 {
			return runFailed(code, fmt.Errorf("fleet run did not fully succeed"))
		}
		return nil
	},
}

func init() {
	batchRunCmd.Flags().StringSlice("host", nil, "Restrict the run to these hosts (repeatable, default: every manifest host)")
	batchRunCmd.Flags().Bool("dry-run", false, "Trace the workflow without issuing any state-changing calls")
	batchRunCmd.Flags().Int("max-parallel", 0, "Override the manifest's defaults.max_parallel for this run")
	batchCmd.AddCommand(batchRunCmd)
}
