package main

import (
	"fmt"
	"os"

	"chainflow/cmd/chainflow/commands"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	server  string
)

var rootCmd = &cobra.Command{
	Use:   "chainflow",
	Short: "chainflow CLI - Plugin Chain Orchestration Engine",
	Long: `chainflow assembles registered plugins into executable chains. Declare
the output you want; the engine works backward through plugin input and
output tags to construct the chain, then executes it sequentially,
in parallel or adaptively.`,
}

func main() {
	rootCmd.AddCommand(commands.PluginsCmd)
	rootCmd.AddCommand(commands.ChainsCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.PsCmd)
	rootCmd.AddCommand(commands.SuggestCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chainflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "http://localhost:8080", "chainflow server URL")

	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".chainflow")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		// fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
