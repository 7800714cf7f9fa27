package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var PsCmd = &cobra.Command{
	Use:     "ps",
	Aliases: []string{"p"},
	Short:   "Show chain runs (active by default, -a for all)",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")

		runs, err := newClient().ListRuns(!all)
		if err != nil {
			exitErr(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUN\tCHAIN\tMODE\tSTATUS\tSTARTED")
		for _, run := range runs {
			started := "-"
			if !run.StartedAt.IsZero() {
				started = run.StartedAt.Format("15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", run.RunID, run.ChainID, run.Mode, run.Status, started)
		}
		w.Flush()
	},
}

func init() {
	PsCmd.Flags().BoolP("all", "a", false, "Include terminal runs")
}
