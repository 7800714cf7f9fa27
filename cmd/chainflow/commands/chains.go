package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	chainflow "chainflow/core"
	"chainflow/pkg/client"

	"github.com/spf13/cobra"
)

var ChainsCmd = &cobra.Command{
	Use:     "chains",
	Aliases: []string{"chain", "ch"},
	Short:   "Build and inspect chains",
}

var chainsBuildCmd = &cobra.Command{
	Use:   "build --goal <tag>",
	Short: "Construct a chain producing the goal tag",
	Run: func(cmd *cobra.Command, args []string) {
		goalTag, _ := cmd.Flags().GetString("goal")
		seeds, _ := cmd.Flags().GetStringSlice("seed")
		if goalTag == "" {
			exitErr(fmt.Errorf("a goal output tag is required (--goal)"))
		}

		chain, err := newClient().BuildChain(client.BuildChainRequest{
			Goal: chainflow.Goal{RequiredOutputTag: goalTag, SeedInputs: seeds},
		})
		if err != nil {
			exitErr(err)
		}

		fmt.Printf("Built chain %s (%d nodes)\n", chain.ID, len(chain.Nodes))
		printChain(chain)
	},
}

var chainsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List built chains",
	Run: func(cmd *cobra.Command, args []string) {
		chains, err := newClient().ListChains()
		if err != nil {
			exitErr(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "CHAIN\tGOAL\tNODES\tEDGES")
		for _, c := range chains {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", c.ID, c.GoalTag, len(c.Nodes), len(c.Edges))
		}
		w.Flush()
	},
}

var chainsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one chain with its nodes and edges",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		chain, err := newClient().GetChain(args[0])
		if err != nil {
			exitErr(err)
		}
		printChain(chain)
	},
}

func printChain(chain *chainflow.Chain) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NODE\tPLUGIN\tRESOLVED INPUTS\tSEED INPUTS")
	for _, n := range chain.Nodes {
		resolved := "-"
		if len(n.ResolvedInputs) > 0 {
			resolved = ""
			for _, tag := range sortedTags(n.ResolvedInputs) {
				if resolved != "" {
					resolved += ","
				}
				resolved += fmt.Sprintf("%s<-%s", tag, n.ResolvedInputs[tag])
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, n.PluginName, resolved, joinTags(n.SeedInputs))
	}
	w.Flush()
}

func sortedTags(m map[string]string) []string {
	tags := make([]string, 0, len(m))
	for tag := range m {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func init() {
	chainsBuildCmd.Flags().String("goal", "", "Required output tag for the chain")
	chainsBuildCmd.Flags().StringSlice("seed", nil, "Input tag supplied externally at run time (repeatable)")

	ChainsCmd.AddCommand(chainsBuildCmd)
	ChainsCmd.AddCommand(chainsListCmd)
	ChainsCmd.AddCommand(chainsGetCmd)
}
