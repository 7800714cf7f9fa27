package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	chainflow "chainflow/core"
	"chainflow/pkg/client"

	"github.com/spf13/cobra"
)

var RunsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"run", "r"},
	Short:   "Start and monitor chain runs",
}

var runsStartCmd = &cobra.Command{
	Use:   "start [--chain <id> | --goal <tag>]",
	Short: "Start executing a chain",
	Run: func(cmd *cobra.Command, args []string) {
		chainID, _ := cmd.Flags().GetString("chain")
		goalTag, _ := cmd.Flags().GetString("goal")
		mode, _ := cmd.Flags().GetString("mode")
		failFast, _ := cmd.Flags().GetBool("fail-fast")
		workers, _ := cmd.Flags().GetInt("workers")
		timeoutSecs, _ := cmd.Flags().GetInt("timeout")
		seedPairs, _ := cmd.Flags().GetStringSlice("seed")
		seedTags, _ := cmd.Flags().GetStringSlice("seed-tag")

		if chainID == "" && goalTag == "" {
			exitErr(fmt.Errorf("either --chain or --goal is required"))
		}

		seeds, err := parseKeyValues(seedPairs)
		if err != nil {
			exitErr(err)
		}

		req := client.StartRunRequest{
			ChainID: chainID,
			Mode:    chainflow.ExecutionMode(mode),
			Options: chainflow.ExecutorConfig{
				FailFast:           failFast,
				Workers:            workers,
				NodeTimeoutSeconds: timeoutSecs,
			},
			Seeds: seeds,
		}
		if goalTag != "" {
			req.Goal = &chainflow.Goal{RequiredOutputTag: goalTag, SeedInputs: seedTags}
		}

		run, err := newClient().StartRun(req)
		if err != nil {
			exitErr(err)
		}
		fmt.Printf("Started run %s (chain=%s mode=%s)\n", run.RunID, run.ChainID, run.Mode)
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one run with per-node states",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		run, err := newClient().GetRun(args[0])
		if err != nil {
			exitErr(err)
		}

		fmt.Printf("Run %s  chain=%s  mode=%s  status=%s\n", run.RunID, run.ChainID, run.Mode, run.Status)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NODE\tSTATUS\tDETAIL")
		if run.Chain != nil {
			for _, n := range run.Chain.Nodes {
				ns := run.NodeState[n.ID]
				if ns == nil {
					continue
				}
				detail := "-"
				if ns.Error != "" {
					detail = ns.Error
				} else if ns.SkipReason != "" {
					detail = ns.SkipReason
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", n.ID, ns.Status, detail)
			}
		}
		w.Flush()
	},
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Request cooperative cancellation of a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := newClient().CancelRun(args[0]); err != nil {
			exitErr(err)
		}
		fmt.Printf("Cancellation requested for run %s\n", args[0])
	},
}

var runsCleanupCmd = &cobra.Command{
	Use:     "cleanup <id>",
	Aliases: []string{"rm"},
	Short:   "Cancel a run if active and remove its record",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := newClient().CleanupRun(args[0]); err != nil {
			exitErr(err)
		}
		fmt.Printf("Cleaned up run %s\n", args[0])
	},
}

var runsEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show recent transition events for a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := newClient().GetRunEvents(args[0], limit)
		if err != nil {
			exitErr(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tNODE\tSTATUS\tERROR")
		for _, ev := range events {
			node := ev.NodeID
			if node == "" {
				node = "(run)"
			}
			errMsg := ev.Error
			if errMsg == "" {
				errMsg = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Timestamp.Format("15:04:05.000"), node, ev.Status, errMsg)
		}
		w.Flush()
	},
}

func init() {
	runsStartCmd.Flags().String("chain", "", "ID of a previously built chain")
	runsStartCmd.Flags().String("goal", "", "Goal output tag to build and run inline")
	runsStartCmd.Flags().String("mode", "", "Execution mode: sequential, parallel or adaptive")
	runsStartCmd.Flags().Bool("fail-fast", false, "Abort remaining nodes after the first failure")
	runsStartCmd.Flags().Int("workers", 0, "Worker pool size for parallel waves")
	runsStartCmd.Flags().Int("timeout", 0, "Per-node timeout in seconds")
	runsStartCmd.Flags().StringSlice("seed", nil, "Seed input value as tag=value (repeatable)")
	runsStartCmd.Flags().StringSlice("seed-tag", nil, "Input tag supplied externally when building inline (repeatable)")

	runsEventsCmd.Flags().Int("limit", 0, "Maximum number of events to show (0 = all retained)")

	RunsCmd.AddCommand(runsStartCmd)
	RunsCmd.AddCommand(runsGetCmd)
	RunsCmd.AddCommand(runsCancelCmd)
	RunsCmd.AddCommand(runsCleanupCmd)
	RunsCmd.AddCommand(runsEventsCmd)
}
