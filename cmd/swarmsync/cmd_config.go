package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/swarmsync/pkg/config"
)

var configInitForce bool

// configCmd manages the configuration file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

// configInitCmd writes a commented default config file
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a commented default configuration file.

Without --config the file goes to the default location
($XDG_CONFIG_HOME/swarmsync/config.yaml).`,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		if err := config.InitConfigToPath(configPath, configInitForce); err != nil {
			return err
		}
		fmt.Printf("Config written to %s\n", configPath)
		return nil
	}

	written, err := config.InitConfig(configInitForce)
	if err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", written)
	return nil
}
