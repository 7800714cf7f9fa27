package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var SuggestCmd = &cobra.Command{
	Use:   "suggest <goal text>",
	Short: "Suggest candidate chains for a free-text goal",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		verbose, _ := cmd.Flags().GetBool("verbose")
		goalText := strings.Join(args, " ")

		suggestions, err := newClient().SuggestChains(goalText, limit)
		if err != nil {
			exitErr(err)
		}
		if len(suggestions) == 0 {
			fmt.Println("No viable chains for that goal.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "GOAL TAG\tCONFIDENCE\tNODES\tCHAIN")
		for _, s := range suggestions {
			fmt.Fprintf(w, "%s\t%.2f\t%d\t%s\n", s.GoalTag, s.Confidence, len(s.Chain.Nodes), s.Chain.ID)
		}
		w.Flush()

		if verbose {
			for _, s := range suggestions {
				fmt.Printf("\nChain %s:\n", s.Chain.ID)
				for _, line := range s.Rationale {
					fmt.Printf("  - %s\n", line)
				}
			}
		}
	},
}

func init() {
	SuggestCmd.Flags().Int("limit", 0, "Maximum suggestions to return")
	SuggestCmd.Flags().BoolP("verbose", "v", false, "Show scoring rationale")
}
