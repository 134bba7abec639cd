package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flctl",
	Short: "flctl is a command line tool for operating a fedplane controller",
	Long: `flctl is the command-line interface for the fedplane federated learning controller.

The controller keeps track of sites (the parties holding training data), the
projects they collaborate on, and the runs each site executes per batch. One
site coordinates a project and drives its batches; the others participate.

Common workflows:

  Register a site (operator, needs the admin secret):
    flctl site register --name hospital-a --admin-secret $ADMIN_SECRET

  Create or join a project from a definition file:
    flctl project join -f project.yaml

  Start a batch and follow its runs:
    flctl batch start <project-id>
    flctl runs list <project-id> --merged

  Move the whole batch forward once participants are done:
    flctl batch status <project-id> <batch> AGGREGATING

Configuration:
  Flags can also be set in $HOME/.flctl.yaml or through environment variables:
    FEDPLANE_URL           Controller URL (default: http://localhost:6161)
    FEDPLANE_TOKEN         Site API key
    FEDPLANE_ADMIN_SECRET  Admin secret for site registration`,
}

func Execute() error {
	return rootCmd.Execute()
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
		viper.SetConfigName(".flctl")
		viper.SetConfigType("yaml")
	}

	// FEDPLANE_URL, FEDPLANE_TOKEN, FEDPLANE_ADMIN_SECRET
	viper.SetEnvPrefix("FEDPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "fedplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Site API key for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().String("admin-secret", "", "Admin secret for site registration")
	viper.BindPFlag("admin_secret", rootCmd.PersistentFlags().Lookup("admin-secret"))
}
