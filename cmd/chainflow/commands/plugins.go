package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	chainflow "chainflow/core"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var PluginsCmd = &cobra.Command{
	Use:     "plugins",
	Aliases: []string{"plugin", "pl"},
	Short:   "Manage plugin registrations",
}

var pluginsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered plugins",
	Run: func(cmd *cobra.Command, args []string) {
		descs, err := newClient().ListPlugins()
		if err != nil {
			exitErr(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tINPUTS\tOUTPUTS\tAUTO\tPRIORITY")
		for _, d := range descs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%.2f\n",
				d.Name, joinTags(d.InputTypes), joinTags(d.OutputTypes), d.AutoChain, d.ChainPriority)
		}
		w.Flush()
	},
}

var pluginsGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one plugin descriptor",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		desc, err := newClient().GetPlugin(args[0])
		if err != nil {
			exitErr(err)
		}
		data, _ := yaml.Marshal(desc)
		fmt.Print(string(data))
	},
}

var pluginsRegisterCmd = &cobra.Command{
	Use:   "register -f <file>",
	Short: "Register plugin descriptors from a YAML file",
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			exitErr(fmt.Errorf("a descriptor file is required (-f)"))
		}

		data, err := os.ReadFile(file)
		if err != nil {
			exitErr(err)
		}

		var config chainflow.Config
		if err := yaml.Unmarshal(data, &config); err != nil {
			exitErr(err)
		}

		c := newClient()
		for _, desc := range config.Plugins {
			if err := c.RegisterPlugin(desc); err != nil {
				exitErr(err)
			}
			fmt.Printf("Registered plugin %s\n", desc.Name)
		}
	},
}

var pluginsDeleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Unregister a plugin",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := newClient().UnregisterPlugin(args[0]); err != nil {
			exitErr(err)
		}
		fmt.Printf("Unregistered plugin %s\n", args[0])
	},
}

func init() {
	pluginsRegisterCmd.Flags().StringP("file", "f", "", "YAML file with plugin descriptors")

	PluginsCmd.AddCommand(pluginsListCmd)
	PluginsCmd.AddCommand(pluginsGetCmd)
	PluginsCmd.AddCommand(pluginsRegisterCmd)
	PluginsCmd.AddCommand(pluginsDeleteCmd)
}
